// Package event provides the typed pub/sub bus used to announce order
// lifecycle transitions to external collaborators.
package event

import (
	"log/slog"
	"sync"
	"time"

	"tradegate/internal/domain"
)

// Handler consumes one order event. Handlers run synchronously in emission
// order; a panicking handler is recovered and logged, never propagated, so
// delivery can never fail the state transition that produced the event.
type Handler func(event domain.OrderEvent)

// Bus is an in-process pub/sub bus keyed by event type. The zero value is
// not usable; construct with NewBus. A Bus is safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *slog.Logger

	histMu  sync.Mutex
	history []domain.OrderEvent
}

// NewBus creates an empty Bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		log:      log.With("component", "eventbus"),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeAll registers a handler for every lifecycle event type.
func (b *Bus) SubscribeAll(h Handler) {
	for _, t := range []string{
		domain.EventOrderCreated,
		domain.EventOrderValidated,
		domain.EventOrderRejected,
		domain.EventOrderAdjusted,
		domain.EventOrderSubmitted,
		domain.EventOrderPartialFilled,
		domain.EventOrderFilled,
		domain.EventOrderCancelled,
		domain.EventRuleFallback,
	} {
		b.Subscribe(t, h)
	}
}

// Publish appends the event to the history and delivers it to every handler
// registered for its type, in registration order.
func (b *Bus) Publish(event domain.OrderEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.histMu.Lock()
	b.history = append(b.history, event)
	b.histMu.Unlock()

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

// dispatch invokes one handler, isolating the publisher from panics.
func (b *Bus) dispatch(h Handler, event domain.OrderEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				"event_type", event.Type, "order_id", event.OrderID, "panic", r)
		}
	}()
	h(event)
}

// History returns a copy of the append-only event history.
func (b *Bus) History() []domain.OrderEvent {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make([]domain.OrderEvent, len(b.history))
	copy(out, b.history)
	return out
}

// TrimHistory drops history entries older than cutoff and returns how many
// were removed.
func (b *Bus) TrimHistory(cutoff time.Time) int {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	kept := b.history[:0]
	for _, e := range b.history {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(b.history) - len(kept)
	b.history = kept
	return removed
}
