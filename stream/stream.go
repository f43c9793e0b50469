// Package stream delivers broadcast board events to the store. Two
// transports are provided: an SSE consumer for the server's event
// stream and a direct redis pub/sub subscriber. Both fan decoded
// events out to any number of subscribed handlers.
package stream

import (
	"sync"

	"boardsync/domain"
)

// EventsChannel returns the redis pub/sub channel carrying one board's
// events.
func EventsChannel(boardID string) string {
	return "board-events:" + boardID
}

type subscribers struct {
	mu   sync.Mutex
	subs map[int]func(domain.Event)
	next int
}

func (s *subscribers) add(fn func(domain.Event)) func() {
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]func(domain.Event))
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) dispatch(ev domain.Event) {
	s.mu.Lock()
	fns := make([]func(domain.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
