package event

import (
	"testing"
	"time"

	"tradegate/internal/domain"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := NewBus(nil)

	var got []int
	b.Subscribe(domain.EventOrderCreated, func(domain.OrderEvent) { got = append(got, 1) })
	b.Subscribe(domain.EventOrderCreated, func(domain.OrderEvent) { got = append(got, 2) })
	b.Subscribe(domain.EventOrderCreated, func(domain.OrderEvent) { got = append(got, 3) })

	b.Publish(domain.OrderEvent{Type: domain.EventOrderCreated, OrderID: "o1"})

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", got)
	}
}

func TestPublishOnlyMatchingType(t *testing.T) {
	b := NewBus(nil)

	var created, filled int
	b.Subscribe(domain.EventOrderCreated, func(domain.OrderEvent) { created++ })
	b.Subscribe(domain.EventOrderFilled, func(domain.OrderEvent) { filled++ })

	b.Publish(domain.OrderEvent{Type: domain.EventOrderCreated, OrderID: "o1"})
	b.Publish(domain.OrderEvent{Type: domain.EventOrderCreated, OrderID: "o2"})

	if created != 2 {
		t.Errorf("created handler ran %d times, want 2", created)
	}
	if filled != 0 {
		t.Errorf("filled handler ran %d times, want 0", filled)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b := NewBus(nil)

	var after bool
	b.Subscribe(domain.EventOrderCreated, func(domain.OrderEvent) { panic("boom") })
	b.Subscribe(domain.EventOrderCreated, func(domain.OrderEvent) { after = true })

	b.Publish(domain.OrderEvent{Type: domain.EventOrderCreated, OrderID: "o1"})

	if !after {
		t.Error("handler after the panicking one did not run")
	}
}

func TestSubscribeAll(t *testing.T) {
	b := NewBus(nil)

	var types []string
	b.SubscribeAll(func(ev domain.OrderEvent) { types = append(types, ev.Type) })

	b.Publish(domain.OrderEvent{Type: domain.EventOrderCreated, OrderID: "o1"})
	b.Publish(domain.OrderEvent{Type: domain.EventOrderCancelled, OrderID: "o1"})
	b.Publish(domain.OrderEvent{Type: domain.EventRuleFallback})

	if len(types) != 3 {
		t.Fatalf("got %d deliveries, want 3: %v", len(types), types)
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	b := NewBus(nil)

	b.Publish(domain.OrderEvent{Type: domain.EventOrderCreated, OrderID: "o1"})

	history := b.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Timestamp.IsZero() {
		t.Error("published event has zero timestamp")
	}
}

func TestTrimHistory(t *testing.T) {
	b := NewBus(nil)

	old := time.Now().Add(-2 * time.Hour)
	b.Publish(domain.OrderEvent{Type: domain.EventOrderCreated, OrderID: "o1", Timestamp: old})
	b.Publish(domain.OrderEvent{Type: domain.EventOrderFilled, OrderID: "o1"})

	removed := b.TrimHistory(time.Now().Add(-time.Hour))
	if removed != 1 {
		t.Errorf("TrimHistory removed %d, want 1", removed)
	}

	history := b.History()
	if len(history) != 1 || history[0].Type != domain.EventOrderFilled {
		t.Errorf("history after trim = %v", history)
	}
}
