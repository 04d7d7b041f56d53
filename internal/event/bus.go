package event

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/Iron-Ham/autobuild/internal/logging"
)

// Handler receives published events.
type Handler func(Event)

// anyType is the topic of handlers registered with SubscribeAll.
const anyType = ""

type listener struct {
	id      string
	topic   string
	handler Handler
}

// Bus delivers events synchronously on the publishing goroutine.
type Bus struct {
	mu        sync.RWMutex
	listeners []listener
	seq       uint64
	logger    *logging.Logger
}

// NewBus creates an empty Bus. A nil logger discards handler panics.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Bus{logger: logger.With("component", "event-bus")}
}

// Subscribe registers handler for events whose EventType is eventType and
// returns an id for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	id := fmt.Sprintf("sub-%d", b.seq)
	b.listeners = append(b.listeners, listener{id: id, topic: eventType, handler: handler})
	return id
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(anyType, handler)
}

// Unsubscribe removes the listener with id and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.listeners, func(l listener) bool { return l.id == id })
	if i < 0 {
		return false
	}
	b.listeners = slices.Delete(b.listeners, i, i+1)
	return true
}

// Publish delivers ev to the handlers subscribed to its type, then to the
// SubscribeAll handlers, each group in registration order. A panicking
// handler is logged and skipped.
func (b *Bus) Publish(ev Event) {
	topic := ev.EventType()

	b.mu.RLock()
	var typed, wildcard []Handler
	for _, l := range b.listeners {
		switch l.topic {
		case topic:
			typed = append(typed, l.handler)
		case anyType:
			wildcard = append(wildcard, l.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range append(typed, wildcard...) {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger := b.logger
			if scoped, ok := ev.(interface{ taskRef() string }); ok && scoped.taskRef() != "" {
				logger = logger.WithTask(scoped.taskRef())
			}
			logger.Error("event handler panicked",
				"event_type", ev.EventType(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	h(ev)
}

// Clear drops every listener.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.listeners = nil
	b.mu.Unlock()
}

// SubscriptionCount returns the number of registered listeners.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
