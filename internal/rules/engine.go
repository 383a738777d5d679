package rules

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// ruleKind enumerates the closed set of exchange rules. Dispatch goes
// through a single switch so a missing case is a compile-time smell rather
// than a silently unreachable subclass.
type ruleKind int

const (
	ruleLot ruleKind = iota
	ruleNotional
	ruleTick
	ruleBand
	ruleSession
)

// adjustOrder is the sequence rules are applied in by Adjust. Tick rounding
// runs before band clamping; the band edges themselves are snapped inward to
// the tick grid, and the notional rule runs last against the final price so
// no adjustable rule can be re-violated by a later step.
var adjustOrder = []ruleKind{ruleLot, ruleTick, ruleBand, ruleNotional}

// validateOrder is the sequence rules are checked in by Validate.
var validateOrder = []ruleKind{ruleLot, ruleNotional, ruleTick, ruleBand, ruleSession}

// Context carries the market inputs a validation or adjustment needs. The
// engine never fetches data itself; callers supply everything.
type Context struct {
	CurrentTime   time.Time
	PreviousClose decimal.Decimal
	HasPrevClose  bool
	IsSuspended   bool
}

// ValidationResult collects every rule failure and warning for one order.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether no errors were recorded.
func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Publisher receives engine warning events. The event bus satisfies it.
type Publisher interface {
	Publish(event domain.OrderEvent)
}

// Engine validates and adjusts orders against per-class rule tables.
type Engine struct {
	tables map[domain.SecurityClass]RuleTable
	bus    Publisher
	log    *slog.Logger
}

// NewEngine builds an Engine from the given tables. Every table is checked
// for configuration errors; an Equity table is mandatory because it is the
// documented fallback for unknown classes. bus may be nil.
func NewEngine(tables map[domain.SecurityClass]RuleTable, bus Publisher, log *slog.Logger) (*Engine, error) {
	if _, ok := tables[domain.ClassEquity]; !ok {
		return nil, fmt.Errorf("rule tables: equity table is required as the fallback")
	}
	for class, t := range tables {
		if err := t.validate(class); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{tables: tables, bus: bus, log: log.With("component", "rules")}, nil
}

// TableFor returns the rule table for a security class. Unknown classes fall
// back to the Equity table; the fallback is logged and announced on the bus
// so operators can spot misclassified securities.
func (e *Engine) TableFor(class domain.SecurityClass) RuleTable {
	if t, ok := e.tables[class]; ok {
		return t
	}
	e.log.Warn("unknown security class, using equity rules", "class", string(class))
	if e.bus != nil {
		e.bus.Publish(domain.OrderEvent{
			Type:      domain.EventRuleFallback,
			Timestamp: time.Now(),
			Payload:   map[string]any{"class": string(class)},
		})
	}
	return e.tables[domain.ClassEquity]
}

// Validate runs every applicable rule plus the business checks and returns
// the complete error set. It never short-circuits: callers need all failures
// to decide whether an adjustment is worth attempting.
func (e *Engine) Validate(order domain.Order, sec domain.SecurityInfo, ctx Context) ValidationResult {
	table := e.TableFor(sec.Class)

	var result ValidationResult
	for _, kind := range validateOrder {
		e.checkRule(kind, table, order, ctx, &result)
	}
	e.checkBusiness(order, sec, ctx, &result)

	if result.Valid() {
		e.log.Debug("order validation passed", "order_id", order.ID, "symbol", order.Symbol)
	} else {
		e.log.Warn("order validation failed",
			"order_id", order.ID, "symbol", order.Symbol, "errors", result.Errors)
	}
	return result
}

// checkRule evaluates one rule kind and appends any failure to result.
func (e *Engine) checkRule(kind ruleKind, table RuleTable, order domain.Order, ctx Context, result *ValidationResult) {
	switch kind {
	case ruleLot:
		if order.Quantity < table.MinQuantity {
			result.addError("quantity %d below minimum %d", order.Quantity, table.MinQuantity)
		} else if order.Quantity%table.QuantityStep != 0 {
			result.addError("quantity %d not a multiple of lot step %d", order.Quantity, table.QuantityStep)
		}

	case ruleNotional:
		// Market orders carry no price at validation time.
		if !order.HasLimitPrice || table.MinNotional.IsZero() {
			return
		}
		if notional := order.Notional(); notional.LessThan(table.MinNotional) {
			result.addError("notional %s below minimum %s", notional, table.MinNotional)
		}

	case ruleTick:
		if !order.Kind.RequiresPrice() || !order.HasLimitPrice {
			return
		}
		if !order.LimitPrice.Mod(table.PriceTick).IsZero() {
			result.addError("price %s not aligned to tick %s", order.LimitPrice, table.PriceTick)
		}

	case ruleBand:
		if !order.HasLimitPrice || !ctx.HasPrevClose {
			return
		}
		upper, lower := bandEdges(ctx.PreviousClose, table.DailyLimitPct)
		if order.LimitPrice.GreaterThan(upper) {
			result.addError("price %s above upper daily limit %s", order.LimitPrice, upper)
		} else if order.LimitPrice.LessThan(lower) {
			result.addError("price %s below lower daily limit %s", order.LimitPrice, lower)
		}

	case ruleSession:
		if !domain.InAnySession(table.Sessions, ctx.CurrentTime) {
			result.addError("time %s outside trading sessions", domain.MinuteOf(ctx.CurrentTime))
		}
	}
}

// checkBusiness applies the non-rule-table checks.
func (e *Engine) checkBusiness(order domain.Order, sec domain.SecurityInfo, ctx Context, result *ValidationResult) {
	if ctx.IsSuspended || sec.IsSuspended {
		result.addError("security %s is suspended", order.Symbol)
	}
	if !sec.IsActive {
		result.addError("security %s is delisted", order.Symbol)
	}
	if order.Kind.RequiresPrice() && !order.HasLimitPrice {
		result.addError("%s order requires a price", order.Kind)
	}
	if order.Kind == domain.KindMarket && order.HasLimitPrice {
		result.addWarning("market order carries a price; it will be ignored")
	}
	if order.Quantity <= 0 {
		result.addError("quantity must be positive")
	}
	if order.HasLimitPrice && !order.LimitPrice.IsPositive() {
		result.addError("price must be positive")
	}
}

// Adjust returns a copy of the order reworked to satisfy every adjustable
// rule, then applies business normalization (market orders lose their price,
// non-positive quantities are floored to the class minimum). It does not
// re-validate; the trading-session and suspension checks cannot be repaired
// here. Adjust is idempotent: re-applying it to its own output is a no-op.
func (e *Engine) Adjust(order domain.Order, sec domain.SecurityInfo, ctx Context) domain.Order {
	table := e.TableFor(sec.Class)
	adjusted := order

	for _, kind := range adjustOrder {
		adjusted = e.adjustRule(kind, table, adjusted, ctx)
	}

	// Business normalization.
	if adjusted.Kind == domain.KindMarket && adjusted.HasLimitPrice {
		adjusted.LimitPrice = decimal.Zero
		adjusted.HasLimitPrice = false
	}
	if adjusted.Quantity <= 0 {
		adjusted.Quantity = table.MinQuantity
	}

	e.log.Debug("order adjusted",
		"order_id", order.ID,
		"quantity", order.Quantity, "adjusted_quantity", adjusted.Quantity,
		"price", order.LimitPrice, "adjusted_price", adjusted.LimitPrice)
	return adjusted
}

// adjustRule applies one rule's repair to the order.
func (e *Engine) adjustRule(kind ruleKind, table RuleTable, order domain.Order, ctx Context) domain.Order {
	switch kind {
	case ruleLot:
		if order.Quantity < table.MinQuantity {
			order.Quantity = table.MinQuantity
		}
		if rem := order.Quantity % table.QuantityStep; rem != 0 {
			if order.Side == domain.SideBuy {
				order.Quantity += table.QuantityStep - rem
			} else {
				order.Quantity -= rem
				if order.Quantity < table.MinQuantity {
					order.Quantity = table.MinQuantity
				}
			}
		}

	case ruleTick:
		if order.Kind.RequiresPrice() && order.HasLimitPrice {
			order.LimitPrice = floorToTick(order.LimitPrice, table.PriceTick)
		}

	case ruleBand:
		if !order.HasLimitPrice || !ctx.HasPrevClose {
			return order
		}
		upper, lower := bandEdges(ctx.PreviousClose, table.DailyLimitPct)
		// Snap the edges inward to the tick grid so the clamped price stays
		// both on-tick and inside the band.
		upper = floorToTick(upper, table.PriceTick)
		lower = ceilToTick(lower, table.PriceTick)
		if order.LimitPrice.GreaterThan(upper) {
			order.LimitPrice = upper
		} else if order.LimitPrice.LessThan(lower) {
			order.LimitPrice = lower
		}

	case ruleNotional:
		if !order.HasLimitPrice || table.MinNotional.IsZero() || !order.LimitPrice.IsPositive() {
			return order
		}
		if order.Notional().GreaterThanOrEqual(table.MinNotional) {
			return order
		}
		need := table.MinNotional.Div(order.LimitPrice).Ceil().IntPart()
		if need < table.MinQuantity {
			need = table.MinQuantity
		}
		// Keep the raised quantity lot-aligned.
		if rem := need % table.QuantityStep; rem != 0 {
			need += table.QuantityStep - rem
		}
		order.Quantity = need

	case ruleSession:
		// Not adjustable.
	}
	return order
}

// Commission computes the fee for an order under the class schedule. Market
// orders have no price to compute against and yield zero.
func (e *Engine) Commission(order domain.Order, class domain.SecurityClass) decimal.Decimal {
	if !order.HasLimitPrice {
		return decimal.Zero
	}
	sched := e.TableFor(class).Commission

	rate := sched.BuyRate
	if order.Side == domain.SideSell {
		rate = sched.SellRate
	}
	fee := order.Notional().Mul(rate)
	if fee.LessThan(sched.Minimum) {
		fee = sched.Minimum
	}
	return fee.Round(2)
}

// RuleSummary returns a display-oriented snapshot of the table that applies
// to the given class.
func (e *Engine) RuleSummary(class domain.SecurityClass) Summary {
	table := e.TableFor(class)
	sessions := make([]string, 0, len(table.Sessions))
	for _, s := range table.Sessions {
		sessions = append(sessions, s.Open.String()+"-"+s.Close.String())
	}
	return Summary{
		Class:         class,
		MinQuantity:   table.MinQuantity,
		QuantityStep:  table.QuantityStep,
		MinNotional:   table.MinNotional,
		PriceTick:     table.PriceTick,
		DailyLimitPct: table.DailyLimitPct,
		Sessions:      sessions,
	}
}

// bandEdges computes the raw daily-limit band from the previous close.
func bandEdges(prevClose, limitPct decimal.Decimal) (upper, lower decimal.Decimal) {
	one := decimal.NewFromInt(1)
	upper = prevClose.Mul(one.Add(limitPct))
	lower = prevClose.Mul(one.Sub(limitPct))
	return upper, lower
}

func floorToTick(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Floor().Mul(tick)
}

func ceilToTick(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Ceil().Mul(tick)
}
