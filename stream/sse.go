package stream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// SSEChannel consumes one board's server-sent event stream and fans
// decoded events out to subscribers.
type SSEChannel struct {
	url    string
	bearer string
	http   *http.Client
	log    *log.Logger
	subs   subscribers
}

// NewSSE creates a channel reading the stream at url.
func NewSSE(url, bearer string, logger *log.Logger) *SSEChannel {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &SSEChannel{url: url, bearer: bearer, http: &http.Client{}, log: logger}
}

// Subscribe registers a handler and returns its detach function.
func (c *SSEChannel) Subscribe(fn func(domain.Event)) func() {
	return c.subs.add(fn)
}

// Run reads the stream until ctx is cancelled, reconnecting with
// exponential backoff. Local state is never cleared on disconnect; the
// caller reloads the board once the stream is back.
func (c *SSEChannel) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.WithError(err).Error("stream disconnected")
		}
		if time.Since(start) > 30*time.Second {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 5*time.Second)
	}
}

func (c *SSEChannel) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var ev domain.Event
		if err := sonic.UnmarshalString(payload, &ev); err != nil {
			c.log.WithError(err).Error("unable to parse stream event")
			continue
		}
		c.subs.dispatch(ev)
	}
	return scanner.Err()
}
