// Package domain defines the core types shared across the order control
// layer: orders, securities, execution results, lifecycle events, and risk
// configuration.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

// Order sides.
const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderKind is the pricing style of an order.
type OrderKind string

// Order kinds.
const (
	KindMarket    OrderKind = "market"
	KindLimit     OrderKind = "limit"
	KindStop      OrderKind = "stop"
	KindStopLimit OrderKind = "stop_limit"
)

// RequiresPrice reports whether the order kind must carry a limit price.
func (k OrderKind) RequiresPrice() bool {
	return k == KindLimit || k == KindStopLimit
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// Order statuses.
const (
	StatusPending       OrderStatus = "pending"
	StatusValidated     OrderStatus = "validated"
	StatusSubmitted     OrderStatus = "submitted"
	StatusPartialFilled OrderStatus = "partial_filled"
	StatusFilled        OrderStatus = "filled"
	StatusCancelled     OrderStatus = "cancelled"
	StatusRejected      OrderStatus = "rejected"
	StatusExpired       OrderStatus = "expired"
)

// Terminal reports whether the status permits no further mutation.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// SecurityClass selects the trading rule table that applies to a security.
type SecurityClass string

// Security classes.
const (
	ClassEquity SecurityClass = "equity"
	ClassFund   SecurityClass = "fund"
	ClassBond   SecurityClass = "bond"
	ClassFuture SecurityClass = "future"
)

// ---------------------------------------------------------------------------
// Order aggregate
// ---------------------------------------------------------------------------

// Order is the mutable order aggregate. Once created it is owned by the
// lifecycle manager; callers interact with copies.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Kind           OrderKind
	Quantity       int64
	LimitPrice     decimal.Decimal // zero when unset (market orders)
	HasLimitPrice  bool
	FilledQuantity int64
	AvgFillPrice   decimal.Decimal // defined iff FilledQuantity > 0
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// Notional returns quantity * limit price, or zero for unpriced orders.
func (o *Order) Notional() decimal.Decimal {
	if !o.HasLimitPrice {
		return decimal.Zero
	}
	return o.LimitPrice.Mul(decimal.NewFromInt(o.Quantity))
}

// SecurityInfo is immutable per-symbol metadata supplied by the market-data
// collaborator.
type SecurityInfo struct {
	Symbol      string
	Class       SecurityClass
	Exchange    string
	IsActive    bool
	IsSuspended bool
}

// ExecutionResult is an immutable fill report from an execution source.
type ExecutionResult struct {
	OrderID          string
	ExecutedQuantity int64
	ExecutedPrice    decimal.Decimal
	Commission       decimal.Decimal
	Slippage         decimal.Decimal
	ExecutionTime    time.Time
}

// Position is a portfolio position snapshot used by the risk checks.
type Position struct {
	Symbol      string
	Quantity    int64
	AvgPrice    decimal.Decimal
	MarketValue decimal.Decimal
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Lifecycle event types published on the event bus.
const (
	EventOrderCreated       = "order_created"
	EventOrderValidated     = "order_validated"
	EventOrderRejected      = "order_rejected"
	EventOrderAdjusted      = "order_adjusted"
	EventOrderSubmitted     = "order_submitted"
	EventOrderPartialFilled = "order_partial_filled"
	EventOrderFilled        = "order_filled"
	EventOrderCancelled     = "order_cancelled"
	EventRuleFallback       = "rule_fallback"
)

// OrderEvent is an immutable lifecycle event. Payload values are owned by
// the event once published and must not be mutated by handlers.
type OrderEvent struct {
	Type      string
	OrderID   string
	Timestamp time.Time
	Payload   map[string]any
}

// ---------------------------------------------------------------------------
// Risk configuration
// ---------------------------------------------------------------------------

// RiskLimits is the hot-reloadable pre-trade risk configuration. A limits
// value is treated as immutable once published; updates replace the whole
// set.
type RiskLimits struct {
	MaxPositionRatio      decimal.Decimal
	MaxDailyLossRatio     decimal.Decimal
	MaxTotalExposureRatio decimal.Decimal
	MinCashRatio          decimal.Decimal
	MaxOrderAmount        decimal.Decimal
	MaxDailyTrades        int
	TradingTimeCheck      bool
}

// DailyRiskState tracks intraday risk counters, reset once per trading day.
type DailyRiskState struct {
	DailyPnL        decimal.Decimal
	DailyTradeCount int
}

// ---------------------------------------------------------------------------
// Trading sessions
// ---------------------------------------------------------------------------

// Session is an intraday trading window, inclusive on both ends.
type Session struct {
	Open  MinuteOfDay
	Close MinuteOfDay
}

// MinuteOfDay is a wall-clock time expressed as minutes since midnight.
type MinuteOfDay int

// NewMinuteOfDay builds a MinuteOfDay from hour and minute.
func NewMinuteOfDay(hour, minute int) MinuteOfDay {
	return MinuteOfDay(hour*60 + minute)
}

// MinuteOf extracts the MinuteOfDay from t in t's location.
func MinuteOf(t time.Time) MinuteOfDay {
	return MinuteOfDay(t.Hour()*60 + t.Minute())
}

// String formats the minute as HH:MM.
func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// Contains reports whether t falls inside the session window.
func (s Session) Contains(t time.Time) bool {
	m := MinuteOf(t)
	return m >= s.Open && m <= s.Close
}

// InAnySession reports whether t falls inside any of the given sessions.
func InAnySession(sessions []Session, t time.Time) bool {
	for _, s := range sessions {
		if s.Contains(t) {
			return true
		}
	}
	return false
}
