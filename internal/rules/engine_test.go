package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultTables(), nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// inSession is a mid-morning timestamp inside the standard sessions.
var inSession = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func equitySec() domain.SecurityInfo {
	return domain.SecurityInfo{Symbol: "600519", Class: domain.ClassEquity, IsActive: true}
}

func limitOrder(side domain.OrderSide, qty int64, price string) domain.Order {
	return domain.Order{
		ID:            "test-order",
		Symbol:        "600519",
		Side:          side,
		Kind:          domain.KindLimit,
		Quantity:      qty,
		LimitPrice:    dec(price),
		HasLimitPrice: true,
		Status:        domain.StatusPending,
	}
}

func marketCtx(prevClose string) Context {
	return Context{
		CurrentTime:   inSession,
		PreviousClose: dec(prevClose),
		HasPrevClose:  true,
	}
}

func hasError(result ValidationResult, substr string) bool {
	for _, e := range result.Errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidateCleanOrder(t *testing.T) {
	e := newTestEngine(t)
	order := limitOrder(domain.SideBuy, 200, "10.50")

	result := e.Validate(order, equitySec(), marketCtx("10.00"))
	if !result.Valid() {
		t.Fatalf("clean order rejected: %v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
}

func TestValidateOddLot(t *testing.T) {
	e := newTestEngine(t)

	result := e.Validate(limitOrder(domain.SideBuy, 137, "10.00"), equitySec(), marketCtx("10.00"))
	if result.Valid() {
		t.Fatal("odd lot passed validation")
	}
	if !hasError(result, "lot step") {
		t.Errorf("want lot step error, got %v", result.Errors)
	}

	result = e.Validate(limitOrder(domain.SideBuy, 50, "10.00"), equitySec(), marketCtx("10.00"))
	if !hasError(result, "below minimum") {
		t.Errorf("want minimum quantity error, got %v", result.Errors)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	e := newTestEngine(t)
	// Odd lot, off-tick, above the band, and outside the session all at once.
	order := limitOrder(domain.SideBuy, 137, "11.503")
	ctx := marketCtx("10.00")
	ctx.CurrentTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	result := e.Validate(order, equitySec(), ctx)
	if len(result.Errors) < 4 {
		t.Fatalf("want at least 4 errors, got %d: %v", len(result.Errors), result.Errors)
	}
}

func TestValidateTick(t *testing.T) {
	e := newTestEngine(t)

	result := e.Validate(limitOrder(domain.SideBuy, 200, "10.123"), equitySec(), marketCtx("10.00"))
	if !hasError(result, "tick") {
		t.Errorf("want tick error, got %v", result.Errors)
	}

	// Fund tick is 0.001, so 1.234 is on-grid there.
	fund := domain.SecurityInfo{Symbol: "510300", Class: domain.ClassFund, IsActive: true}
	order := limitOrder(domain.SideBuy, 200, "1.234")
	result = e.Validate(order, fund, marketCtx("1.20"))
	if hasError(result, "tick") {
		t.Errorf("fund tick 0.001 should accept 1.234: %v", result.Errors)
	}
}

func TestValidateDailyBand(t *testing.T) {
	e := newTestEngine(t)
	ctx := marketCtx("10.00") // band is [9.00, 11.00]

	result := e.Validate(limitOrder(domain.SideBuy, 200, "11.50"), equitySec(), ctx)
	if !hasError(result, "upper daily limit") {
		t.Errorf("want upper band error, got %v", result.Errors)
	}

	result = e.Validate(limitOrder(domain.SideSell, 200, "8.50"), equitySec(), ctx)
	if !hasError(result, "lower daily limit") {
		t.Errorf("want lower band error, got %v", result.Errors)
	}

	// Exactly on the edge is allowed.
	result = e.Validate(limitOrder(domain.SideBuy, 200, "11.00"), equitySec(), ctx)
	if hasError(result, "daily limit") {
		t.Errorf("edge price rejected: %v", result.Errors)
	}

	// Without a previous close the band check is skipped.
	noPrev := Context{CurrentTime: inSession}
	result = e.Validate(limitOrder(domain.SideBuy, 200, "99.99"), equitySec(), noPrev)
	if hasError(result, "daily limit") {
		t.Errorf("band checked without previous close: %v", result.Errors)
	}
}

func TestValidateMinNotional(t *testing.T) {
	e := newTestEngine(t)

	result := e.Validate(limitOrder(domain.SideBuy, 100, "0.50"), equitySec(), marketCtx("0.50"))
	if !hasError(result, "notional") {
		t.Errorf("want notional error, got %v", result.Errors)
	}
}

func TestValidateSession(t *testing.T) {
	e := newTestEngine(t)
	ctx := marketCtx("10.00")
	ctx.CurrentTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) // lunch break

	result := e.Validate(limitOrder(domain.SideBuy, 200, "10.00"), equitySec(), ctx)
	if !hasError(result, "outside trading sessions") {
		t.Errorf("want session error, got %v", result.Errors)
	}
}

func TestValidateFutureNightSession(t *testing.T) {
	e := newTestEngine(t)
	sec := domain.SecurityInfo{Symbol: "IF2603", Class: domain.ClassFuture, IsActive: true}
	order := domain.Order{
		ID: "f1", Symbol: "IF2603", Side: domain.SideBuy, Kind: domain.KindLimit,
		Quantity: 1, LimitPrice: dec("4000"), HasLimitPrice: true,
	}
	ctx := Context{
		CurrentTime:   time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC),
		PreviousClose: dec("4100"),
		HasPrevClose:  true,
	}

	result := e.Validate(order, sec, ctx)
	if !result.Valid() {
		t.Fatalf("night-session future order rejected: %v", result.Errors)
	}
}

func TestValidateBusinessChecks(t *testing.T) {
	e := newTestEngine(t)
	ctx := marketCtx("10.00")

	sec := equitySec()
	sec.IsSuspended = true
	result := e.Validate(limitOrder(domain.SideBuy, 200, "10.00"), sec, ctx)
	if !hasError(result, "suspended") {
		t.Errorf("want suspension error, got %v", result.Errors)
	}

	sec = equitySec()
	sec.IsActive = false
	result = e.Validate(limitOrder(domain.SideBuy, 200, "10.00"), sec, ctx)
	if !hasError(result, "delisted") {
		t.Errorf("want delisted error, got %v", result.Errors)
	}

	// Limit order with no price is an error.
	order := limitOrder(domain.SideBuy, 200, "10.00")
	order.HasLimitPrice = false
	result = e.Validate(order, equitySec(), ctx)
	if !hasError(result, "requires a price") {
		t.Errorf("want missing-price error, got %v", result.Errors)
	}

	// Market order with a price is only a warning.
	order = limitOrder(domain.SideBuy, 200, "10.00")
	order.Kind = domain.KindMarket
	result = e.Validate(order, equitySec(), ctx)
	if !result.Valid() {
		t.Fatalf("market order with price rejected: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("want warning for market order carrying a price")
	}
}

// ---------------------------------------------------------------------------
// Adjustment
// ---------------------------------------------------------------------------

func TestAdjustLot(t *testing.T) {
	e := newTestEngine(t)
	ctx := marketCtx("10.00")

	// Buys round up to the next lot.
	got := e.Adjust(limitOrder(domain.SideBuy, 137, "10.00"), equitySec(), ctx)
	if got.Quantity != 200 {
		t.Errorf("buy 137 adjusted to %d, want 200", got.Quantity)
	}

	// Sells round down, floored at the minimum.
	got = e.Adjust(limitOrder(domain.SideSell, 137, "10.00"), equitySec(), ctx)
	if got.Quantity != 100 {
		t.Errorf("sell 137 adjusted to %d, want 100", got.Quantity)
	}

	got = e.Adjust(limitOrder(domain.SideSell, 50, "10.00"), equitySec(), ctx)
	if got.Quantity != 100 {
		t.Errorf("sell 50 adjusted to %d, want 100", got.Quantity)
	}
}

func TestAdjustTickAndBand(t *testing.T) {
	e := newTestEngine(t)
	ctx := marketCtx("10.00")

	// Off-tick price floors to the grid.
	got := e.Adjust(limitOrder(domain.SideBuy, 200, "10.123"), equitySec(), ctx)
	if !got.LimitPrice.Equal(dec("10.12")) {
		t.Errorf("price adjusted to %s, want 10.12", got.LimitPrice)
	}

	// Above the band clamps to the upper edge.
	got = e.Adjust(limitOrder(domain.SideBuy, 200, "11.50"), equitySec(), ctx)
	if !got.LimitPrice.Equal(dec("11.00")) {
		t.Errorf("price adjusted to %s, want 11.00", got.LimitPrice)
	}

	// Below the band clamps to the lower edge.
	got = e.Adjust(limitOrder(domain.SideSell, 200, "8.00"), equitySec(), ctx)
	if !got.LimitPrice.Equal(dec("9.00")) {
		t.Errorf("price adjusted to %s, want 9.00", got.LimitPrice)
	}
}

func TestAdjustBandEdgesStayOnTick(t *testing.T) {
	e := newTestEngine(t)
	// Previous close 10.01 gives raw edges 11.011 and 9.009, which are off
	// the 0.01 grid; the clamp must land on-tick inside the band.
	ctx := marketCtx("10.01")

	got := e.Adjust(limitOrder(domain.SideBuy, 200, "11.50"), equitySec(), ctx)
	if !got.LimitPrice.Equal(dec("11.01")) {
		t.Errorf("upper clamp = %s, want 11.01", got.LimitPrice)
	}

	got = e.Adjust(limitOrder(domain.SideSell, 200, "8.50"), equitySec(), ctx)
	if !got.LimitPrice.Equal(dec("9.01")) {
		t.Errorf("lower clamp = %s, want 9.01", got.LimitPrice)
	}
}

func TestAdjustNotional(t *testing.T) {
	e := newTestEngine(t)

	got := e.Adjust(limitOrder(domain.SideBuy, 100, "0.50"), equitySec(), marketCtx("0.50"))
	if got.Quantity != 200 {
		t.Errorf("quantity adjusted to %d, want 200", got.Quantity)
	}
	if got.Notional().LessThan(dec("100")) {
		t.Errorf("adjusted notional %s still below minimum", got.Notional())
	}
}

func TestAdjustMarketOrderDropsPrice(t *testing.T) {
	e := newTestEngine(t)
	order := limitOrder(domain.SideBuy, 200, "10.00")
	order.Kind = domain.KindMarket

	got := e.Adjust(order, equitySec(), marketCtx("10.00"))
	if got.HasLimitPrice {
		t.Error("market order kept its price after adjustment")
	}
}

func TestAdjustIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := marketCtx("10.01")
	order := limitOrder(domain.SideBuy, 137, "11.509")

	once := e.Adjust(order, equitySec(), ctx)
	twice := e.Adjust(once, equitySec(), ctx)
	if twice.Quantity != once.Quantity || !twice.LimitPrice.Equal(once.LimitPrice) {
		t.Errorf("second adjustment changed the order: %d@%s vs %d@%s",
			once.Quantity, once.LimitPrice, twice.Quantity, twice.LimitPrice)
	}
}

func TestAdjustThenValidate(t *testing.T) {
	e := newTestEngine(t)
	ctx := marketCtx("10.01")

	cases := []domain.Order{
		limitOrder(domain.SideBuy, 137, "11.509"),
		limitOrder(domain.SideSell, 173, "8.001"),
		limitOrder(domain.SideBuy, 1, "0.503"),
		limitOrder(domain.SideBuy, 100, "10.013"),
	}
	for _, order := range cases {
		adjusted := e.Adjust(order, equitySec(), ctx)
		result := e.Validate(adjusted, equitySec(), ctx)
		if !result.Valid() {
			t.Errorf("order %d@%s adjusted to %d@%s still invalid: %v",
				order.Quantity, order.LimitPrice,
				adjusted.Quantity, adjusted.LimitPrice, result.Errors)
		}
	}
}

func TestAdjustDoesNotMutateInput(t *testing.T) {
	e := newTestEngine(t)
	order := limitOrder(domain.SideBuy, 137, "10.123")

	_ = e.Adjust(order, equitySec(), marketCtx("10.00"))
	if order.Quantity != 137 || !order.LimitPrice.Equal(dec("10.123")) {
		t.Errorf("input order mutated: %d@%s", order.Quantity, order.LimitPrice)
	}
}

// ---------------------------------------------------------------------------
// Tables, fallback, commission
// ---------------------------------------------------------------------------

func TestNewEngineRequiresEquityTable(t *testing.T) {
	tables := DefaultTables()
	delete(tables, domain.ClassEquity)

	if _, err := NewEngine(tables, nil, nil); err == nil {
		t.Fatal("NewEngine accepted tables without an equity fallback")
	}
}

func TestNewEngineRejectsBadTable(t *testing.T) {
	tables := DefaultTables()
	bad := tables[domain.ClassBond]
	bad.QuantityStep = 0
	tables[domain.ClassBond] = bad

	if _, err := NewEngine(tables, nil, nil); err == nil {
		t.Fatal("NewEngine accepted a zero quantity step")
	}
}

type captureBus struct {
	events []domain.OrderEvent
}

func (c *captureBus) Publish(ev domain.OrderEvent) { c.events = append(c.events, ev) }

func TestTableForUnknownClassFallsBack(t *testing.T) {
	bus := &captureBus{}
	e, err := NewEngine(DefaultTables(), bus, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	table := e.TableFor(domain.SecurityClass("warrant"))
	if table.MinQuantity != 100 {
		t.Errorf("fallback table MinQuantity = %d, want equity's 100", table.MinQuantity)
	}
	if len(bus.events) != 1 || bus.events[0].Type != domain.EventRuleFallback {
		t.Errorf("want one %s event, got %v", domain.EventRuleFallback, bus.events)
	}
}

func TestCommission(t *testing.T) {
	e := newTestEngine(t)

	// Small notional hits the minimum fee.
	fee := e.Commission(limitOrder(domain.SideBuy, 100, "10.00"), domain.ClassEquity)
	if !fee.Equal(dec("5")) {
		t.Errorf("small buy commission = %s, want 5", fee)
	}

	// Large sell pays the rate.
	fee = e.Commission(limitOrder(domain.SideSell, 10000, "10.00"), domain.ClassEquity)
	if !fee.Equal(dec("130")) {
		t.Errorf("large sell commission = %s, want 130", fee)
	}

	// Market orders have no price to charge against.
	order := limitOrder(domain.SideBuy, 100, "10.00")
	order.Kind = domain.KindMarket
	order.HasLimitPrice = false
	if fee := e.Commission(order, domain.ClassEquity); !fee.IsZero() {
		t.Errorf("market order commission = %s, want 0", fee)
	}
}

func TestRuleSummary(t *testing.T) {
	e := newTestEngine(t)

	s := e.RuleSummary(domain.ClassBond)
	if s.MinQuantity != 10 || s.QuantityStep != 10 {
		t.Errorf("bond summary lot = %d/%d, want 10/10", s.MinQuantity, s.QuantityStep)
	}
	if len(s.Sessions) != 2 {
		t.Errorf("bond summary sessions = %v, want 2 windows", s.Sessions)
	}
	if s.Sessions[0] != "09:30-11:30" {
		t.Errorf("first session = %q, want 09:30-11:30", s.Sessions[0])
	}
}
