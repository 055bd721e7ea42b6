// Package bus provides a typed in-process publish/subscribe dispatcher.
// Publishers never block on or fail from subscriber behavior: delivery is
// fire-and-forget with at-most-once semantics, and events to a subscriber
// whose buffer is full are dropped.
package bus

import (
	"sync"
)

// Event is any value dispatched over the bus. Type returns the event name
// subscribers filter on (e.g. "session.updated").
type Event interface {
	Type() string
}

const subscriberBuffer = 64

type subscriber struct {
	ch    chan Event
	types map[string]bool // nil means all types
}

// Bus dispatches events to subscribers. The zero value is not usable; use New.
// Bus is safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New creates an event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[*subscriber]struct{}),
	}
}

// Subscribe registers interest in the given event types and returns the
// delivery channel plus a cancel function. With no types, the subscriber
// receives every event.
func (b *Bus) Subscribe(types ...string) (<-chan Event, func()) {
	sub := &subscriber{
		ch: make(chan Event, subscriberBuffer),
	}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers e to all matching subscribers without blocking. A
// subscriber that has fallen behind misses the event.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub.types != nil && !sub.types[e.Type()] {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}
