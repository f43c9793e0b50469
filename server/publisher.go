package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/stream"
)

// Publisher fans board events out to the SSE subscribers of this
// instance. When a redis client is configured, events travel through
// pub/sub instead so every instance behind a load balancer converges;
// Relay feeds the redis traffic back into the local subscribers.
type Publisher struct {
	rc  *redis.Client
	log *log.Logger

	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewPublisher creates a publisher. rc may be nil for single-instance
// deployments.
func NewPublisher(rc *redis.Client, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Publisher{
		rc:   rc,
		log:  logger,
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe registers an SSE listener for one board. The returned
// function removes the subscription.
func (p *Publisher) Subscribe(boardID string) (chan []byte, func()) {
	ch := make(chan []byte, 16)
	p.mu.Lock()
	if p.subs[boardID] == nil {
		p.subs[boardID] = make(map[chan []byte]struct{})
	}
	p.subs[boardID][ch] = struct{}{}
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		delete(p.subs[boardID], ch)
		if len(p.subs[boardID]) == 0 {
			delete(p.subs, boardID)
		}
		p.mu.Unlock()
	}
}

// Publish sends one event to the board's subscribers. With redis
// configured the event goes through pub/sub and comes back via Relay;
// without it the event is delivered to local subscribers directly.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		p.log.WithError(err).WithField("type", ev.Type).Error("marshal event")
		return
	}
	if p.rc != nil {
		if err := p.rc.Publish(ctx, stream.EventsChannel(ev.BoardID), payload).Err(); err != nil {
			p.log.WithError(err).Warn("redis publish failed, delivering locally")
			p.deliver(ev.BoardID, payload)
		}
		return
	}
	p.deliver(ev.BoardID, payload)
}

// PublishAll publishes a batch of events in order.
func (p *Publisher) PublishAll(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		p.Publish(ctx, ev)
	}
}

// Relay subscribes to every board-events channel on redis and feeds
// incoming events to local SSE subscribers. It blocks until ctx is
// cancelled and reconnects if the subscription drops.
func (p *Publisher) Relay(ctx context.Context) {
	if p.rc == nil {
		return
	}
	pattern := stream.EventsChannel("*")
	for {
		pubsub := p.rc.PSubscribe(ctx, pattern)
		ch := pubsub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				boardID := strings.TrimPrefix(msg.Channel, stream.EventsChannel(""))
				p.deliver(boardID, []byte(msg.Payload))
			}
		}
		pubsub.Close()
		p.log.Warn("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (p *Publisher) deliver(boardID string, payload []byte) {
	p.mu.Lock()
	for ch := range p.subs[boardID] {
		select {
		case ch <- payload:
		default:
		}
	}
	p.mu.Unlock()
}
