package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/rules"
)

// Compile-time interface check.
var _ ExecutionSource = (*SimulatorBroker)(nil)

// SimulatorBroker executes orders in memory for paper trading. Fills are
// immediate and complete, at the limit price (or the reference price for
// market orders) moved by a per-class slippage rate. Commission follows the
// class fee schedule.
type SimulatorBroker struct {
	engine   *rules.Engine
	slippage map[domain.SecurityClass]decimal.Decimal
	log      *slog.Logger
}

// NewSimulatorBroker creates a SimulatorBroker using the given rules engine
// for fee schedules and per-class slippage rates. A class missing from the
// map gets zero slippage.
func NewSimulatorBroker(engine *rules.Engine, slippage map[domain.SecurityClass]decimal.Decimal, log *slog.Logger) *SimulatorBroker {
	if log == nil {
		log = slog.Default()
	}
	return &SimulatorBroker{
		engine:   engine,
		slippage: slippage,
		log:      log.With("component", "simulator"),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Execute fills the full order quantity at the slipped price. Buys pay the
// slippage, sells give it up.
func (b *SimulatorBroker) Execute(_ context.Context, order domain.Order, sec domain.SecurityInfo, refPrice decimal.Decimal) (domain.ExecutionResult, error) {
	base := refPrice
	if order.HasLimitPrice {
		base = order.LimitPrice
	}
	if base.LessThanOrEqual(decimal.Zero) {
		return domain.ExecutionResult{}, fmt.Errorf("no usable price for order %s", order.ID)
	}

	rate := b.slippage[sec.Class]
	slip := base.Mul(rate)
	price := base.Add(slip)
	if order.Side == domain.SideSell {
		price = base.Sub(slip)
	}

	qty := order.Remaining()
	commission := b.commission(order.Side, qty, price, sec.Class)

	b.log.Info("simulated fill",
		"order_id", order.ID, "symbol", order.Symbol,
		"quantity", qty, "price", price, "commission", commission)

	return domain.ExecutionResult{
		OrderID:          order.ID,
		ExecutedQuantity: qty,
		ExecutedPrice:    price,
		Commission:       commission,
		Slippage:         slip.Mul(decimal.NewFromInt(qty)),
		ExecutionTime:    time.Now(),
	}, nil
}

// Cancel is a no-op: simulated fills are immediate, so there is never an
// in-flight order to cancel.
func (b *SimulatorBroker) Cancel(_ context.Context, _ string) error {
	return nil
}

// commission applies the class fee schedule to the executed notional.
func (b *SimulatorBroker) commission(side domain.OrderSide, qty int64, price decimal.Decimal, class domain.SecurityClass) decimal.Decimal {
	sched := b.engine.TableFor(class).Commission

	rate := sched.BuyRate
	if side == domain.SideSell {
		rate = sched.SellRate
	}
	fee := price.Mul(decimal.NewFromInt(qty)).Mul(rate)
	if fee.LessThan(sched.Minimum) {
		fee = sched.Minimum
	}
	return fee.Round(2)
}
