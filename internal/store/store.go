// Package store defines storage interfaces and implementations for
// persisting orders, lifecycle events, and the fill audit trail.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Fill is one execution record for the audit archive.
type Fill struct {
	OrderID    string
	Symbol     string
	Side       domain.OrderSide
	Quantity   int64
	Price      decimal.Decimal
	Commission decimal.Decimal
	Slippage   decimal.Decimal
	Timestamp  time.Time
}

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts or replaces an order in storage.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders matching the given status.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
}

// EventStore persists and retrieves order lifecycle events.
type EventStore interface {
	// SaveEvent appends a lifecycle event to storage.
	SaveEvent(ctx context.Context, ev domain.OrderEvent) error

	// ListEvents returns all events for an order in emission order.
	ListEvents(ctx context.Context, orderID string) ([]domain.OrderEvent, error)
}

// FillStore persists and retrieves fill records for the audit archive.
type FillStore interface {
	// WriteFills appends a batch of fills to the archive.
	WriteFills(ctx context.Context, fills []Fill) error

	// ReadFills returns all archived fills for the month containing t.
	ReadFills(ctx context.Context, t time.Time) ([]Fill, error)
}
