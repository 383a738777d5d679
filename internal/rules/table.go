// Package rules encodes per-security-class trading constraints and provides
// order validation and auto-adjustment against them.
package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// CommissionSchedule holds per-class commission rates.
type CommissionSchedule struct {
	BuyRate  decimal.Decimal
	SellRate decimal.Decimal
	Minimum  decimal.Decimal
}

// RuleTable is the static trading-rule configuration for one security class.
// Tables are immutable after engine construction; concurrent readers never
// block.
type RuleTable struct {
	MinQuantity   int64
	QuantityStep  int64
	MinNotional   decimal.Decimal
	PriceTick     decimal.Decimal
	DailyLimitPct decimal.Decimal
	Sessions      []domain.Session
	Commission    CommissionSchedule
}

// validate checks rule parameters for configuration errors. These fail fast
// at construction, never at order-processing time.
func (t RuleTable) validate(class domain.SecurityClass) error {
	if t.MinQuantity <= 0 {
		return fmt.Errorf("rule table %s: min quantity must be positive, got %d", class, t.MinQuantity)
	}
	if t.QuantityStep <= 0 {
		return fmt.Errorf("rule table %s: quantity step must be positive, got %d", class, t.QuantityStep)
	}
	if t.MinNotional.IsNegative() {
		return fmt.Errorf("rule table %s: min notional must not be negative, got %s", class, t.MinNotional)
	}
	if !t.PriceTick.IsPositive() {
		return fmt.Errorf("rule table %s: price tick must be positive, got %s", class, t.PriceTick)
	}
	if t.DailyLimitPct.IsNegative() {
		return fmt.Errorf("rule table %s: daily limit pct must not be negative, got %s", class, t.DailyLimitPct)
	}
	if len(t.Sessions) == 0 {
		return fmt.Errorf("rule table %s: at least one trading session required", class)
	}
	for _, s := range t.Sessions {
		if s.Close < s.Open {
			return fmt.Errorf("rule table %s: session %s-%s closes before it opens", class, s.Open, s.Close)
		}
	}
	return nil
}

// cnSessions is the standard mainland morning/afternoon session pair.
func cnSessions() []domain.Session {
	return []domain.Session{
		{Open: domain.NewMinuteOfDay(9, 30), Close: domain.NewMinuteOfDay(11, 30)},
		{Open: domain.NewMinuteOfDay(13, 0), Close: domain.NewMinuteOfDay(15, 0)},
	}
}

// DefaultTables returns the built-in rule tables for all security classes.
func DefaultTables() map[domain.SecurityClass]RuleTable {
	return map[domain.SecurityClass]RuleTable{
		domain.ClassEquity: {
			MinQuantity:   100,
			QuantityStep:  100,
			MinNotional:   decimal.NewFromInt(100),
			PriceTick:     decimal.New(1, -2), // 0.01
			DailyLimitPct: decimal.New(1, -1), // 0.10
			Sessions:      cnSessions(),
			Commission: CommissionSchedule{
				BuyRate:  decimal.New(3, -4),  // 0.0003
				SellRate: decimal.New(13, -4), // 0.0013, stamp duty included
				Minimum:  decimal.NewFromInt(5),
			},
		},
		domain.ClassFund: {
			MinQuantity:   100,
			QuantityStep:  100,
			MinNotional:   decimal.NewFromInt(100),
			PriceTick:     decimal.New(1, -3), // 0.001
			DailyLimitPct: decimal.New(1, -1),
			Sessions:      cnSessions(),
			Commission: CommissionSchedule{
				BuyRate:  decimal.New(15, -4),
				SellRate: decimal.New(5, -4),
				Minimum:  decimal.NewFromInt(5),
			},
		},
		domain.ClassBond: {
			MinQuantity:   10,
			QuantityStep:  10,
			MinNotional:   decimal.NewFromInt(1000),
			PriceTick:     decimal.New(1, -2),
			DailyLimitPct: decimal.New(2, -1), // 0.20
			Sessions:      cnSessions(),
			Commission: CommissionSchedule{
				BuyRate:  decimal.New(2, -4),
				SellRate: decimal.New(2, -4),
				Minimum:  decimal.NewFromInt(1),
			},
		},
		domain.ClassFuture: {
			MinQuantity:   1,
			QuantityStep:  1,
			MinNotional:   decimal.Zero,
			PriceTick:     decimal.NewFromInt(1),
			DailyLimitPct: decimal.New(1, -1),
			Sessions: []domain.Session{
				{Open: domain.NewMinuteOfDay(9, 0), Close: domain.NewMinuteOfDay(10, 15)},
				{Open: domain.NewMinuteOfDay(10, 30), Close: domain.NewMinuteOfDay(11, 30)},
				{Open: domain.NewMinuteOfDay(13, 30), Close: domain.NewMinuteOfDay(15, 0)},
				// Night session.
				{Open: domain.NewMinuteOfDay(21, 0), Close: domain.NewMinuteOfDay(23, 0)},
			},
			Commission: CommissionSchedule{
				BuyRate:  decimal.New(2, -4),
				SellRate: decimal.New(2, -4),
				Minimum:  decimal.NewFromInt(1),
			},
		},
	}
}

// Summary is a display-oriented snapshot of one rule table.
type Summary struct {
	Class         domain.SecurityClass
	MinQuantity   int64
	QuantityStep  int64
	MinNotional   decimal.Decimal
	PriceTick     decimal.Decimal
	DailyLimitPct decimal.Decimal
	Sessions      []string
}
