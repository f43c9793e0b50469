package server

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func dedupClient(t *testing.T) *redis.Client {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("redis close: %v", err)
		}
	})
	return client
}

func TestRedisDeduperAddOnce(t *testing.T) {
	client := dedupClient(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "user", "k1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatal("expected key to be added")
	}
	added, err = deduper.Add(ctx, "user", "k1")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added {
		t.Fatal("expected duplicate to be rejected")
	}

	// another user's identical key is independent
	added, err = deduper.Add(ctx, "other", "k1")
	if err != nil {
		t.Fatalf("other user add: %v", err)
	}
	if !added {
		t.Fatal("expected key namespaced per user")
	}
}

func TestRedisDeduperRemoveAllowsRetry(t *testing.T) {
	client := dedupClient(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "user", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := deduper.Remove(ctx, "user", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err := deduper.Add(ctx, "user", "k1")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if !added {
		t.Fatal("expected key to be addable after removal")
	}
}

func TestRedisDeduperKeyNamespacing(t *testing.T) {
	client := dedupClient(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "user", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	expectedKey := "user:" + dedupeKeyPrefix + ":k1"
	exists, err := client.Exists(ctx, expectedKey).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 1 {
		t.Fatalf("expected redis key %q to exist", expectedKey)
	}
}
