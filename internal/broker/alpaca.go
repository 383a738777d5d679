package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/util"
)

// Compile-time interface check.
var _ ExecutionSource = (*AlpacaBroker)(nil)

// AlpacaBroker executes orders through the Alpaca brokerage API. API calls
// are rate limited and retried with backoff.
type AlpacaBroker struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaBroker creates an AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, log *slog.Logger) *AlpacaBroker {
	if log == nil {
		log = slog.Default()
	}
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &AlpacaBroker{
		client:  client,
		limiter: util.NewRateLimiter(180),
		log:     log.With("component", "alpaca"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// Execute places the remaining quantity with Alpaca and polls briefly for
// the fill. Orders still working when polling stops return an error; the
// caller keeps the order active and may retry or cancel.
func (b *AlpacaBroker) Execute(ctx context.Context, order domain.Order, _ domain.SecurityInfo, _ decimal.Decimal) (domain.ExecutionResult, error) {
	req, err := placeRequest(order)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	var placed *alpaca.Order
	err = util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var perr error
		placed, perr = b.client.PlaceOrder(req)
		return perr
	})
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("placing order %s: %w", order.ID, err)
	}
	b.log.Info("order placed", "order_id", order.ID, "broker_order_id", placed.ID)

	// Poll for the fill.
	for attempt := 0; attempt < 10; attempt++ {
		select {
		case <-ctx.Done():
			return domain.ExecutionResult{}, ctx.Err()
		case <-time.After(time.Second):
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return domain.ExecutionResult{}, err
		}
		current, err := b.client.GetOrder(placed.ID)
		if err != nil {
			continue
		}
		if current.FilledQty.IsPositive() && current.FilledAvgPrice != nil {
			return domain.ExecutionResult{
				OrderID:          order.ID,
				ExecutedQuantity: current.FilledQty.IntPart(),
				ExecutedPrice:    *current.FilledAvgPrice,
				Commission:       decimal.Zero,
				Slippage:         decimal.Zero,
				ExecutionTime:    time.Now(),
			}, nil
		}
	}
	return domain.ExecutionResult{}, fmt.Errorf("order %s not filled yet (broker order %s)", order.ID, placed.ID)
}

// Cancel requests cancellation of an open order by the broker's order ID.
func (b *AlpacaBroker) Cancel(ctx context.Context, orderID string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

// placeRequest maps a domain order onto the Alpaca order request.
//
// The order model carries a single price, so stop and stop-limit orders
// send it as the stop trigger; a stop-limit additionally sends it as the
// limit, which means the limit offers no protection beyond the trigger.
// Callers needing distinct trigger and limit prices must place two orders.
func placeRequest(order domain.Order) (alpaca.PlaceOrderRequest, error) {
	qty := decimal.NewFromInt(order.Remaining())

	req := alpaca.PlaceOrderRequest{
		Symbol:      order.Symbol,
		Qty:         &qty,
		TimeInForce: alpaca.Day,
	}

	switch order.Side {
	case domain.SideBuy:
		req.Side = alpaca.Buy
	case domain.SideSell:
		req.Side = alpaca.Sell
	default:
		return req, fmt.Errorf("unknown order side %q", order.Side)
	}

	switch order.Kind {
	case domain.KindMarket:
		req.Type = alpaca.Market
	case domain.KindLimit:
		req.Type = alpaca.Limit
		req.LimitPrice = &order.LimitPrice
	case domain.KindStop:
		req.Type = alpaca.Stop
		req.StopPrice = &order.LimitPrice
	case domain.KindStopLimit:
		req.Type = alpaca.StopLimit
		req.LimitPrice = &order.LimitPrice
		req.StopPrice = &order.LimitPrice
	default:
		return req, fmt.Errorf("unknown order kind %q", order.Kind)
	}
	return req, nil
}
