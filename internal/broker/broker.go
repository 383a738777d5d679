// Package broker defines the ExecutionSource interface and provides a paper
// simulator and an Alpaca-backed implementation for executing orders that
// have cleared validation and risk checks.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// ExecutionSource abstracts where submitted orders get executed. refPrice is
// the current market reference price, used when the order carries no limit
// price of its own.
type ExecutionSource interface {
	// Name returns the source identifier (e.g. "alpaca", "simulator").
	Name() string

	// Execute runs the order and returns the resulting fill.
	Execute(ctx context.Context, order domain.Order, sec domain.SecurityInfo, refPrice decimal.Decimal) (domain.ExecutionResult, error)

	// Cancel requests cancellation of an in-flight order by its ID.
	Cancel(ctx context.Context, orderID string) error
}
