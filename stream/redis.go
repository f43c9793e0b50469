package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// RedisChannel subscribes to one board's pub/sub channel directly,
// bypassing the SSE front. Useful for server-side consumers and for
// deployments where clients share the redis fabric.
type RedisChannel struct {
	rc      *redis.Client
	channel string
	log     *log.Logger
	subs    subscribers
}

// NewRedis creates a channel for the given board.
func NewRedis(rc *redis.Client, boardID string, logger *log.Logger) *RedisChannel {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisChannel{rc: rc, channel: EventsChannel(boardID), log: logger}
}

// Subscribe registers a handler and returns its detach function.
func (c *RedisChannel) Subscribe(fn func(domain.Event)) func() {
	return c.subs.add(fn)
}

// Run listens for published events until ctx is cancelled, resubscribing
// when the pub/sub connection drops.
func (c *RedisChannel) Run(ctx context.Context) {
	for {
		sub := c.rc.Subscribe(ctx, c.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					c.log.Errorf("unable to parse update: %v", err)
					continue
				}
				c.subs.dispatch(ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
