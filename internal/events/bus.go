package events

import (
	"sync"

	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher for lifecycle event broadcasting.
// Queued subscribers (Subscribe) get one consumer queue per event type, so
// ordering is only guaranteed among events of the same type. Consumers that
// need the exact publish order across types attach a synchronous sink
// (Attach) instead.
type Bus struct {
	dispatcher *event.Dispatcher

	mu    sync.RWMutex
	sinks []busSink
	next  int
}

type busSink struct {
	id int
	fn func(Event)
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event: synchronous sinks run inline on the
// publisher's goroutine first, then the event is queued for subscribers.
// Usage: bus.Publish(WorkerSpawnedEvent{...})
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		s.fn(ev)
	}

	// Use type switch to call the generic Publish with the correct type
	switch e := ev.(type) {
	case WorkerSpawnedEvent:
		event.Publish(b.dispatcher, e)
	case WorkerExitedEvent:
		event.Publish(b.dispatcher, e)
	case RestartScheduledEvent:
		event.Publish(b.dispatcher, e)
	case WorkerStoppedEvent:
		event.Publish(b.dispatcher, e)
	case ConfigReloadedEvent:
		event.Publish(b.dispatcher, e)
	case ConfigErrorEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Attach registers a synchronous sink that sees every event, of every
// kind, in exact publish order. The sink runs on the publisher's
// goroutine and must not block. Returns a detach function.
func (b *Bus) Attach(sink func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	sinks := make([]busSink, len(b.sinks), len(b.sinks)+1)
	copy(sinks, b.sinks)
	b.sinks = append(sinks, busSink{id: id, fn: sink})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.sinks {
			if s.id == id {
				b.sinks = append(b.sinks[:i:i], b.sinks[i+1:]...)
				return
			}
		}
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives (type inference)
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e WorkerExitedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(WorkerSpawnedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerExitedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RestartScheduledEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConfigReloadedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConfigErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
