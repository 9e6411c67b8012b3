// Package eventbus implements spec.md §4.2: a process-local typed
// publish/subscribe dispatcher. Publishers emit unwrapped domain events;
// internal/broadcast is the one subscriber that wraps them for
// transport. Generalized from the teacher's internal/poller.Poller
// subscribers map[chan []models.ActiveStream]struct{} fan-out — here keyed
// by event name instead of being hardwired to one payload type.
package eventbus

import "sync"

// Handler receives the unwrapped domain event payload for one event name.
type Handler func(data any)

// Bus is a typed, in-process publish/subscribe dispatcher. Safe for
// concurrent use. Events emitted by a single Publish call are delivered
// to each subscriber in registration order (spec.md §5 ordering
// guarantees); Publish itself does not suspend — handlers must not block
// on I/O (spec.md §5 "In-process event emission ... must not suspend").
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	nextID      int
}

type subscription struct {
	id      int
	handler Handler
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]subscription)}
}

// Subscribe registers fn for event, returning an Unsubscribe func.
// Subscribers are registered at startup and deregistered on teardown
// (spec.md §4.2).
func (b *Bus) Subscribe(event string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[event] = append(b.subscribers[event], subscription{id: id, handler: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[event]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish invokes every handler registered for event, in registration
// order, synchronously. A domain event published here is never re-fed
// into the cue engine's own command-dispatch path (spec.md §4.2 D4
// re-entrancy rule) — that separation is enforced by which services
// publish which event names, not by the bus itself.
func (b *Bus) Publish(event string, data any) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(data)
	}
}
