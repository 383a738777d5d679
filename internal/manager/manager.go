// Package manager owns the order registry and drives every order through
// its lifecycle state machine: validation, adjustment, submission, fills,
// and cancellation, with lifecycle events published on the bus.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/event"
	"tradegate/internal/risk"
	"tradegate/internal/rules"
)

// Contract errors. These indicate caller bugs, not business conditions.
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOverfill      = errors.New("execution exceeds remaining quantity")
	ErrBadExecution  = errors.New("executed quantity must be positive")
)

// OrderSpec describes a new order. LimitPrice is required for limit and
// stop-limit kinds and ignored for market orders.
type OrderSpec struct {
	Symbol     string
	Side       domain.OrderSide
	Kind       domain.OrderKind
	Quantity   int64
	LimitPrice *decimal.Decimal
}

// entry is one registry slot. All mutations of the contained order are
// serialized through mu; the registry map itself is guarded by Manager.mu.
// Events are published after mu is released so a subscriber may safely read
// the order back through the manager.
type entry struct {
	mu    sync.Mutex
	order domain.Order
}

// Statistics summarizes registry activity.
type Statistics struct {
	TotalOrders     int
	FilledOrders    int
	CancelledOrders int
	RejectedOrders  int
	PendingOrders   int
	ActiveOrders    int
	FillRate        float64
}

// Manager is the order lifecycle manager. It is safe for concurrent use
// from multiple goroutines; mutations of any single order are serialized.
type Manager struct {
	rules *rules.Engine
	risk  *risk.Controller
	bus   *event.Bus
	log   *slog.Logger

	mu      sync.RWMutex
	orders  map[string]*entry
	pending []string
	active  map[string]struct{}

	statsMu sync.Mutex
	stats   Statistics
}

// NewManager creates a Manager wired with the rules engine, an optional
// risk controller, and the event bus.
func NewManager(engine *rules.Engine, riskCtrl *risk.Controller, bus *event.Bus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		rules:  engine,
		risk:   riskCtrl,
		bus:    bus,
		log:    log.With("component", "manager"),
		orders: make(map[string]*entry),
		active: make(map[string]struct{}),
	}
}

// newOrderID allocates a short unique order id.
func newOrderID() string {
	return "ord-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create registers a new pending order and emits order_created.
func (m *Manager) Create(spec OrderSpec) domain.Order {
	now := time.Now()
	order := domain.Order{
		ID:        newOrderID(),
		Symbol:    spec.Symbol,
		Side:      spec.Side,
		Kind:      spec.Kind,
		Quantity:  spec.Quantity,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if spec.LimitPrice != nil {
		order.LimitPrice = *spec.LimitPrice
		order.HasLimitPrice = true
	}

	m.mu.Lock()
	m.orders[order.ID] = &entry{order: order}
	m.pending = append(m.pending, order.ID)
	m.mu.Unlock()

	m.statsMu.Lock()
	m.stats.TotalOrders++
	m.statsMu.Unlock()

	m.emit(domain.EventOrderCreated, order.ID, map[string]any{
		"symbol":   order.Symbol,
		"side":     string(order.Side),
		"kind":     string(order.Kind),
		"quantity": order.Quantity,
	})
	m.log.Info("order created",
		"order_id", order.ID, "symbol", order.Symbol,
		"side", order.Side, "quantity", order.Quantity, "kind", order.Kind)
	return order
}

// Validate runs the rules pipeline for the order and moves it to Validated
// or Rejected. Legal from Pending, Validated, and Rejected (rejected orders
// may be re-adjusted and re-validated). A rejection also drops the order
// from the pending queue.
func (m *Manager) Validate(orderID string, sec domain.SecurityInfo, ctx rules.Context) (rules.ValidationResult, error) {
	e, err := m.get(orderID)
	if err != nil {
		return rules.ValidationResult{}, err
	}

	e.mu.Lock()
	if !revalidatable(e.order.Status) {
		status := e.order.Status
		e.mu.Unlock()
		return rules.ValidationResult{}, fmt.Errorf("order %s in state %s cannot be validated", orderID, status)
	}

	result := m.rules.Validate(e.order, sec, ctx)
	wasRejected := e.order.Status == domain.StatusRejected
	e.order.UpdatedAt = time.Now()
	if result.Valid() {
		e.order.Status = domain.StatusValidated
	} else {
		e.order.Status = domain.StatusRejected
	}
	e.mu.Unlock()

	if result.Valid() {
		m.emit(domain.EventOrderValidated, orderID, map[string]any{
			"warnings": append([]string(nil), result.Warnings...),
		})
		m.log.Info("order validated", "order_id", orderID)
	} else {
		// A rejected order leaves the pending queue; it re-enters the flow
		// only through an explicit Adjust + Validate.
		m.mu.Lock()
		m.removePending(orderID)
		m.mu.Unlock()
		if !wasRejected {
			m.statsMu.Lock()
			m.stats.RejectedOrders++
			m.statsMu.Unlock()
		}
		m.emit(domain.EventOrderRejected, orderID, map[string]any{
			"errors":   append([]string(nil), result.Errors...),
			"warnings": append([]string(nil), result.Warnings...),
		})
		m.log.Warn("order rejected", "order_id", orderID, "errors", result.Errors)
	}
	return result, nil
}

// Adjust reworks the stored order to satisfy the adjustable rules and emits
// order_adjusted with the before and after values. The caller must re-run
// Validate; Adjust itself does not change the order status.
func (m *Manager) Adjust(orderID string, sec domain.SecurityInfo, ctx rules.Context) (domain.Order, error) {
	e, err := m.get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	e.mu.Lock()
	if !revalidatable(e.order.Status) {
		status := e.order.Status
		e.mu.Unlock()
		return domain.Order{}, fmt.Errorf("order %s in state %s cannot be adjusted", orderID, status)
	}

	before := e.order
	adjusted := m.rules.Adjust(e.order, sec, ctx)
	adjusted.UpdatedAt = time.Now()
	e.order = adjusted
	e.mu.Unlock()

	m.emit(domain.EventOrderAdjusted, orderID, map[string]any{
		"original_quantity": before.Quantity,
		"original_price":    priceString(before),
		"adjusted_quantity": adjusted.Quantity,
		"adjusted_price":    priceString(adjusted),
	})
	m.log.Info("order adjusted",
		"order_id", orderID,
		"original_quantity", before.Quantity, "adjusted_quantity", adjusted.Quantity,
		"original_price", priceString(before), "adjusted_price", priceString(adjusted))
	return adjusted, nil
}

// CheckRisk runs the pre-trade risk gate for the order against a portfolio
// snapshot. The manager performs no state change here; callers decide what
// a failure means for the order.
func (m *Manager) CheckRisk(
	orderID string,
	portfolioValue decimal.Decimal,
	positions map[string]domain.Position,
	availableCash decimal.Decimal,
) (bool, string, error) {
	if m.risk == nil {
		return true, "risk controller not configured", nil
	}
	order, err := m.Order(orderID)
	if err != nil {
		return false, "", err
	}

	passed, reason := m.risk.Check(order, portfolioValue, positions, availableCash)
	if !passed {
		m.log.Warn("risk check failed", "order_id", orderID, "reason", reason)
	}
	return passed, reason, nil
}

// Submit moves a Validated order to Submitted. Any other starting state
// returns false without error.
func (m *Manager) Submit(orderID string) (bool, error) {
	e, err := m.get(orderID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	if e.order.Status != domain.StatusValidated {
		status := e.order.Status
		e.mu.Unlock()
		m.log.Warn("submit refused", "order_id", orderID, "status", status)
		return false, nil
	}
	e.order.Status = domain.StatusSubmitted
	e.order.UpdatedAt = time.Now()
	symbol, quantity := e.order.Symbol, e.order.Quantity
	e.mu.Unlock()

	m.mu.Lock()
	m.removePending(orderID)
	m.active[orderID] = struct{}{}
	m.mu.Unlock()

	if m.risk != nil {
		m.risk.IncrementTrades()
	}

	m.emit(domain.EventOrderSubmitted, orderID, map[string]any{
		"symbol":   symbol,
		"quantity": quantity,
	})
	m.log.Info("order submitted", "order_id", orderID)
	return true, nil
}

// Execute records a fill against a Submitted or PartialFilled order,
// maintaining the running volume-weighted average fill price. A fill that
// would push the filled quantity past the order quantity is rejected with
// ErrOverfill and leaves the order untouched.
func (m *Manager) Execute(orderID string, exec domain.ExecutionResult) (bool, error) {
	e, err := m.get(orderID)
	if err != nil {
		return false, err
	}
	if exec.ExecutedQuantity <= 0 {
		return false, fmt.Errorf("%w: got %d", ErrBadExecution, exec.ExecutedQuantity)
	}

	e.mu.Lock()
	switch e.order.Status {
	case domain.StatusSubmitted, domain.StatusPartialFilled:
	default:
		status := e.order.Status
		e.mu.Unlock()
		m.log.Warn("execute refused", "order_id", orderID, "status", status)
		return false, nil
	}

	oldFilled := e.order.FilledQuantity
	newFilled := oldFilled + exec.ExecutedQuantity
	if newFilled > e.order.Quantity {
		quantity := e.order.Quantity
		e.mu.Unlock()
		return false, fmt.Errorf("%w: order %s filled %d + executed %d > quantity %d",
			ErrOverfill, orderID, oldFilled, exec.ExecutedQuantity, quantity)
	}

	// Running VWAP in exact decimals.
	if oldFilled == 0 {
		e.order.AvgFillPrice = exec.ExecutedPrice
	} else {
		total := e.order.AvgFillPrice.Mul(decimal.NewFromInt(oldFilled)).
			Add(exec.ExecutedPrice.Mul(decimal.NewFromInt(exec.ExecutedQuantity)))
		e.order.AvgFillPrice = total.Div(decimal.NewFromInt(newFilled))
	}
	e.order.FilledQuantity = newFilled
	e.order.UpdatedAt = time.Now()

	filled := newFilled == e.order.Quantity
	if filled {
		e.order.Status = domain.StatusFilled
	} else {
		e.order.Status = domain.StatusPartialFilled
	}
	snapshot := e.order
	e.mu.Unlock()

	payload := map[string]any{
		"symbol":            snapshot.Symbol,
		"side":              string(snapshot.Side),
		"executed_quantity": exec.ExecutedQuantity,
		"executed_price":    exec.ExecutedPrice.String(),
		"commission":        exec.Commission.String(),
		"slippage":          exec.Slippage.String(),
		"filled_quantity":   snapshot.FilledQuantity,
		"avg_fill_price":    snapshot.AvgFillPrice.String(),
	}

	if filled {
		m.mu.Lock()
		delete(m.active, orderID)
		m.mu.Unlock()

		m.statsMu.Lock()
		m.stats.FilledOrders++
		m.statsMu.Unlock()

		m.emit(domain.EventOrderFilled, orderID, payload)
		m.log.Info("order filled",
			"order_id", orderID, "filled_quantity", snapshot.FilledQuantity,
			"avg_fill_price", snapshot.AvgFillPrice)
	} else {
		m.emit(domain.EventOrderPartialFilled, orderID, payload)
		m.log.Info("order partially filled",
			"order_id", orderID,
			"executed_quantity", exec.ExecutedQuantity,
			"filled_quantity", snapshot.FilledQuantity,
			"remaining", snapshot.Quantity-snapshot.FilledQuantity)
	}
	return true, nil
}

// Cancel moves a non-terminal order to Cancelled. Partial fills stand.
// Cancelling a terminal order is a no-op that returns false.
func (m *Manager) Cancel(orderID, reason string) (bool, error) {
	e, err := m.get(orderID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	if e.order.Status.Terminal() {
		status := e.order.Status
		e.mu.Unlock()
		m.log.Warn("cancel refused", "order_id", orderID, "status", status)
		return false, nil
	}
	e.order.Status = domain.StatusCancelled
	e.order.UpdatedAt = time.Now()
	filledQty := e.order.FilledQuantity
	e.mu.Unlock()

	m.mu.Lock()
	m.removePending(orderID)
	delete(m.active, orderID)
	m.mu.Unlock()

	m.statsMu.Lock()
	m.stats.CancelledOrders++
	m.statsMu.Unlock()

	m.emit(domain.EventOrderCancelled, orderID, map[string]any{
		"reason":          reason,
		"filled_quantity": filledQty,
	})
	m.log.Info("order cancelled",
		"order_id", orderID, "reason", reason, "filled_quantity", filledQty)
	return true, nil
}

// ProcessPending validates every pending order; orders that fail are
// adjusted and re-validated once, and orders that end up valid are
// submitted. A second validation failure leaves the order Rejected and
// drops it from the pending queue. Returns the ids that reached Submitted.
func (m *Manager) ProcessPending(lookup func(symbol string) (domain.SecurityInfo, bool), ctx rules.Context) []string {
	m.mu.RLock()
	queue := append([]string(nil), m.pending...)
	m.mu.RUnlock()

	var submitted []string
	var rejected []string

	for _, orderID := range queue {
		order, err := m.Order(orderID)
		if err != nil || order.Status != domain.StatusPending {
			continue
		}

		sec, ok := lookup(order.Symbol)
		if !ok {
			m.log.Warn("security info not found for pending order",
				"order_id", orderID, "symbol", order.Symbol)
			continue
		}

		result, err := m.Validate(orderID, sec, ctx)
		if err != nil {
			continue
		}
		if !result.Valid() {
			if _, err := m.Adjust(orderID, sec, ctx); err != nil {
				continue
			}
			result, err = m.Validate(orderID, sec, ctx)
			if err != nil || !result.Valid() {
				// Validate already dropped the rejected id from the queue.
				rejected = append(rejected, orderID)
				continue
			}
		}
		if ok, _ := m.Submit(orderID); ok {
			submitted = append(submitted, orderID)
		}
	}

	m.log.Info("processed pending orders",
		"queued", len(queue), "submitted", len(submitted), "rejected", len(rejected))
	return submitted
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Order returns a copy of the order.
func (m *Manager) Order(orderID string) (domain.Order, error) {
	e, err := m.get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order, nil
}

// OrdersBySymbol returns copies of all orders for a symbol.
func (m *Manager) OrdersBySymbol(symbol string) []domain.Order {
	return m.collect(func(o domain.Order) bool { return o.Symbol == symbol })
}

// OrdersByStatus returns copies of all orders in the given status.
func (m *Manager) OrdersByStatus(status domain.OrderStatus) []domain.Order {
	return m.collect(func(o domain.Order) bool { return o.Status == status })
}

// ActiveOrders returns copies of all submitted or partially filled orders.
func (m *Manager) ActiveOrders() []domain.Order {
	m.mu.RLock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if o, err := m.Order(id); err == nil {
			out = append(out, o)
		}
	}
	return out
}

// PendingOrders returns copies of all orders still in the pending queue.
func (m *Manager) PendingOrders() []domain.Order {
	m.mu.RLock()
	ids := append([]string(nil), m.pending...)
	m.mu.RUnlock()

	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if o, err := m.Order(id); err == nil {
			out = append(out, o)
		}
	}
	return out
}

// Stats returns a snapshot of registry statistics.
func (m *Manager) Stats() Statistics {
	m.statsMu.Lock()
	s := m.stats
	m.statsMu.Unlock()

	m.mu.RLock()
	s.PendingOrders = len(m.pending)
	s.ActiveOrders = len(m.active)
	m.mu.RUnlock()

	if s.TotalOrders > 0 {
		s.FillRate = float64(s.FilledOrders) / float64(s.TotalOrders)
	}
	return s
}

// SweepTerminal removes terminal orders last touched before the retention
// window and trims the bus event history to match. Returns the number of
// orders reclaimed. Durable copies are the persistence collaborator's job;
// it sees every terminal transition on the bus before the sweep runs.
func (m *Manager) SweepTerminal(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	m.mu.RLock()
	ids := make([]string, 0, len(m.orders))
	entries := make([]*entry, 0, len(m.orders))
	for id, e := range m.orders {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var stale []string
	for i, e := range entries {
		e.mu.Lock()
		if e.order.Status.Terminal() && e.order.UpdatedAt.Before(cutoff) {
			stale = append(stale, ids[i])
		}
		e.mu.Unlock()
	}

	m.mu.Lock()
	for _, id := range stale {
		delete(m.orders, id)
		m.removePending(id)
		delete(m.active, id)
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.TrimHistory(cutoff)
	}
	if len(stale) > 0 {
		m.log.Info("swept terminal orders", "removed", len(stale))
	}
	return len(stale)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (m *Manager) get(orderID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.orders[orderID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return e, nil
}

// collect snapshots entries matching the predicate. Entry locks are taken
// after the registry lock is released to keep lock ordering one-way.
func (m *Manager) collect(match func(domain.Order) bool) []domain.Order {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.orders))
	for _, e := range m.orders {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []domain.Order
	for _, e := range entries {
		e.mu.Lock()
		if match(e.order) {
			out = append(out, e.order)
		}
		e.mu.Unlock()
	}
	return out
}

// removePending drops an id from the pending queue. Caller holds m.mu.
func (m *Manager) removePending(orderID string) {
	for i, id := range m.pending {
		if id == orderID {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *Manager) emit(eventType, orderID string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(domain.OrderEvent{
		Type:      eventType,
		OrderID:   orderID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// revalidatable reports whether Validate/Adjust may run from the status.
func revalidatable(s domain.OrderStatus) bool {
	switch s {
	case domain.StatusPending, domain.StatusValidated, domain.StatusRejected:
		return true
	}
	return false
}

func priceString(o domain.Order) string {
	if !o.HasLimitPrice {
		return ""
	}
	return o.LimitPrice.String()
}
