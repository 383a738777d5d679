// Package risk implements the portfolio-level pre-trade gate applied before
// an order may reach the market, independent of exchange rule compliance.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// DefaultLimits returns the built-in risk limit set.
func DefaultLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionRatio:      decimal.New(1, -1),  // 0.10
		MaxDailyLossRatio:     decimal.New(5, -2),  // 0.05
		MaxTotalExposureRatio: decimal.New(95, -2), // 0.95
		MinCashRatio:          decimal.New(5, -2),  // 0.05
		MaxOrderAmount:        decimal.NewFromInt(1_000_000),
		MaxDailyTrades:        100,
		TradingTimeCheck:      true,
	}
}

// Controller performs pre-trade risk checks against a portfolio snapshot.
// The limit set is published atomically so a hot reload is never observed
// half-applied; readers never block each other.
type Controller struct {
	limits   atomic.Pointer[domain.RiskLimits]
	sessions []domain.Session
	now      func() time.Time
	log      *slog.Logger

	dailyMu sync.Mutex
	daily   domain.DailyRiskState
}

// NewController creates a Controller with the given limits and trading
// sessions. sessions is consulted only when TradingTimeCheck is enabled.
func NewController(limits domain.RiskLimits, sessions []domain.Session, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		sessions: sessions,
		now:      time.Now,
		log:      log.With("component", "risk"),
	}
	c.limits.Store(&limits)
	return c
}

// SetClock overrides the time source. Intended for tests.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// Limits returns the currently published limit set.
func (c *Controller) Limits() domain.RiskLimits {
	return *c.limits.Load()
}

// UpdateLimits atomically replaces the limit set.
func (c *Controller) UpdateLimits(limits domain.RiskLimits) {
	c.limits.Store(&limits)
	c.log.Info("risk limits updated",
		"max_position_ratio", limits.MaxPositionRatio,
		"max_order_amount", limits.MaxOrderAmount,
		"max_daily_trades", limits.MaxDailyTrades)
}

// Check evaluates the ordered pre-trade checks and returns the first
// failure. It has no side effects: the caller increments the daily trade
// count after the order is actually submitted and settles PnL on fills.
func (c *Controller) Check(
	order domain.Order,
	portfolioValue decimal.Decimal,
	positions map[string]domain.Position,
	availableCash decimal.Decimal,
) (bool, string) {
	limits := c.Limits()

	if limits.TradingTimeCheck && !domain.InAnySession(c.sessions, c.now()) {
		return false, "not in trading hours"
	}

	amount := order.Notional()
	if amount.GreaterThan(limits.MaxOrderAmount) {
		return false, fmt.Sprintf("order amount %s exceeds limit %s", amount, limits.MaxOrderAmount)
	}

	if order.Side == domain.SideBuy {
		if amount.GreaterThan(availableCash) {
			return false, fmt.Sprintf("insufficient cash: need %s, available %s", amount, availableCash)
		}

		if portfolioValue.IsPositive() {
			current := decimal.Zero
			if pos, ok := positions[order.Symbol]; ok {
				current = pos.MarketValue
			}
			ratio := current.Add(amount).Div(portfolioValue)
			if ratio.GreaterThan(limits.MaxPositionRatio) {
				return false, fmt.Sprintf("position ratio %s exceeds limit %s", ratio.Round(4), limits.MaxPositionRatio)
			}

			total := decimal.Zero
			for _, pos := range positions {
				total = total.Add(pos.MarketValue)
			}
			exposure := total.Add(amount).Div(portfolioValue)
			if exposure.GreaterThan(limits.MaxTotalExposureRatio) {
				return false, fmt.Sprintf("exposure %s exceeds limit %s", exposure.Round(4), limits.MaxTotalExposureRatio)
			}
		}
	}

	daily := c.Daily()
	if daily.DailyTradeCount >= limits.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade count limit reached (%d)", limits.MaxDailyTrades)
	}
	if daily.DailyPnL.Abs().GreaterThan(portfolioValue.Mul(limits.MaxDailyLossRatio)) {
		return false, fmt.Sprintf("daily loss limit %s reached", limits.MaxDailyLossRatio)
	}

	return true, "risk checks passed"
}

// Daily returns a snapshot of the intraday counters.
func (c *Controller) Daily() domain.DailyRiskState {
	c.dailyMu.Lock()
	defer c.dailyMu.Unlock()
	return c.daily
}

// AddPnL accumulates realized intraday profit or loss.
func (c *Controller) AddPnL(pnl decimal.Decimal) {
	c.dailyMu.Lock()
	defer c.dailyMu.Unlock()
	c.daily.DailyPnL = c.daily.DailyPnL.Add(pnl)
}

// IncrementTrades bumps the intraday trade counter. Called by the manager
// after a successful submit.
func (c *Controller) IncrementTrades() {
	c.dailyMu.Lock()
	defer c.dailyMu.Unlock()
	c.daily.DailyTradeCount++
}

// ResetDaily clears the intraday counters. Called once per trading day by
// an external scheduler.
func (c *Controller) ResetDaily() {
	c.dailyMu.Lock()
	defer c.dailyMu.Unlock()
	c.daily = domain.DailyRiskState{}
	c.log.Info("daily risk state reset")
}
