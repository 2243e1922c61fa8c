// ABOUTME: Bus with per-subscriber FIFOs and failure-isolated dispatch
// ABOUTME: Handlers run without the lock held so they may publish or unsubscribe
package notify

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

type subscription struct {
	id      Handle
	kind    Kind
	handler Handler
	queue   []Event
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscription
	nextID Handle
	log    zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{log: logger}
}

// Subscribe registers h for kind and returns its handle. Handles are never
// reused within a Bus.
func (b *Bus) Subscribe(kind Kind, h Handler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs = append(b.subs, &subscription{id: b.nextID, kind: kind, handler: h})
	return b.nextID
}

// Unsubscribe removes the subscription and drops its pending events.
// It reports whether the handle was registered.
func (b *Bus) Unsubscribe(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == h {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish enqueues ev for every subscriber of its kind.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind := ev.Kind()
	for _, s := range b.subs {
		if s.kind != kind {
			continue
		}
		if c, ok := ev.(Coalescer); ok && len(s.queue) > 0 {
			tail := len(s.queue) - 1
			if merged, ok := c.Coalesce(s.queue[tail]); ok {
				s.queue[tail] = merged
				continue
			}
		}
		s.queue = append(s.queue, ev)
	}
}

// Dispatch delivers at most one pending event to each subscriber, in
// subscription order, and returns the number delivered.
func (b *Bus) Dispatch() int {
	type delivery struct {
		sub *subscription
		ev  Event
	}

	b.mu.Lock()
	batch := make([]delivery, 0, len(b.subs))
	for _, s := range b.subs {
		if len(s.queue) == 0 {
			continue
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		batch = append(batch, delivery{sub: s, ev: ev})
	}
	b.mu.Unlock()

	for _, d := range batch {
		if err := b.deliver(d.sub, d.ev); err != nil {
			b.log.Warn().
				Err(err).
				Uint64("handle", uint64(d.sub.id)).
				Stringer("kind", d.ev.Kind()).
				Msg("handler failed")
		}
	}
	return len(batch)
}

func (b *Bus) deliver(s *subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler.HandleEvent(ev)
}

// Pending returns the number of undelivered events across subscribers.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, s := range b.subs {
		n += len(s.queue)
	}
	return n
}

// Reset drops every subscription.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}
