package store

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/event"
)

// OrderSource looks up the current state of an order. The lifecycle manager
// satisfies this.
type OrderSource interface {
	Order(orderID string) (domain.Order, error)
}

// Recorder subscribes to the event bus and mirrors lifecycle activity into
// durable storage: every event is appended to the event store, order
// snapshots are written on each transition, and fills go to the audit
// archive. Storage failures are logged, never propagated back into the
// order pipeline.
type Recorder struct {
	orders OrderStore
	events EventStore
	fills  FillStore
	source OrderSource
	log    *slog.Logger
}

// NewRecorder creates a Recorder. Any of orders, events, and fills may be
// nil to disable that sink.
func NewRecorder(orders OrderStore, events EventStore, fills FillStore, source OrderSource, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		orders: orders,
		events: events,
		fills:  fills,
		source: source,
		log:    log.With("component", "recorder"),
	}
}

// Attach subscribes the recorder to every lifecycle event on the bus.
func (r *Recorder) Attach(bus *event.Bus) {
	bus.SubscribeAll(r.handle)
}

func (r *Recorder) handle(ev domain.OrderEvent) {
	ctx := context.Background()

	if r.events != nil {
		if err := r.events.SaveEvent(ctx, ev); err != nil {
			r.log.Error("persisting event failed",
				"event_type", ev.Type, "order_id", ev.OrderID, "error", err)
		}
	}

	if r.orders != nil && r.source != nil {
		if order, err := r.source.Order(ev.OrderID); err == nil {
			if err := r.orders.SaveOrder(ctx, &order); err != nil {
				r.log.Error("persisting order failed",
					"order_id", ev.OrderID, "error", err)
			}
		}
	}

	switch ev.Type {
	case domain.EventOrderFilled, domain.EventOrderPartialFilled:
		r.recordFill(ctx, ev)
	}
}

// recordFill reconstructs a fill from the event payload and archives it.
func (r *Recorder) recordFill(ctx context.Context, ev domain.OrderEvent) {
	if r.fills == nil {
		return
	}

	fill := Fill{
		OrderID:    ev.OrderID,
		Symbol:     payloadString(ev.Payload, "symbol"),
		Side:       domain.OrderSide(payloadString(ev.Payload, "side")),
		Quantity:   payloadInt(ev.Payload, "executed_quantity"),
		Price:      payloadDecimal(ev.Payload, "executed_price"),
		Commission: payloadDecimal(ev.Payload, "commission"),
		Slippage:   payloadDecimal(ev.Payload, "slippage"),
		Timestamp:  ev.Timestamp,
	}
	if err := r.fills.WriteFills(ctx, []Fill{fill}); err != nil {
		r.log.Error("archiving fill failed", "order_id", ev.OrderID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Payload helpers
// ---------------------------------------------------------------------------

func payloadString(p map[string]any, key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

func payloadInt(p map[string]any, key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func payloadDecimal(p map[string]any, key string) decimal.Decimal {
	if s, ok := p[key].(string); ok {
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
	}
	return decimal.Zero
}
