package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/model"
)

// ErrOrderTimeout is returned by waitForTerminal when an order does not
// reach a terminal state within the configured timeout.
var ErrOrderTimeout = errors.New("executor: order did not reach a terminal state before timeout")

// Config holds the tunables for order execution.
type Config struct {
	TimeoutMS     int
	RetryAttempts int
	PollInterval  time.Duration
}

// DefaultConfig returns the default order execution tunables.
func DefaultConfig() Config {
	return Config{
		TimeoutMS:     30000,
		RetryAttempts: 0,
		PollInterval:  500 * time.Millisecond,
	}
}

// OrderExecutor places, polls, and cancels orders against a venue's
// TradingClient.
type OrderExecutor struct {
	logger  *slog.Logger
	clients map[string]TradingClient
	cfg     Config
}

// NewOrderExecutor builds an OrderExecutor over one TradingClient per venue.
func NewOrderExecutor(logger *slog.Logger, clients map[string]TradingClient, cfg Config) *OrderExecutor {
	return &OrderExecutor{logger: logger, clients: clients, cfg: cfg}
}

func (e *OrderExecutor) client(venue string) (TradingClient, error) {
	c, ok := e.clients[venue]
	if !ok {
		return nil, fmt.Errorf("executor: no trading client configured for venue %q", venue)
	}
	return c, nil
}

// Place submits req and waits for the order to reach a terminal state
// (closed, canceled, or rejected), retrying transient submission errors
// up to cfg.RetryAttempts times.
func (e *OrderExecutor) Place(ctx context.Context, req model.OrderRequest) (model.ExecutedOrder, error) {
	client, err := e.client(req.Venue)
	if err != nil {
		return model.ExecutedOrder{}, err
	}

	var order model.ExecutedOrder
	var lastErr error
	for attempt := 0; attempt <= e.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			e.logger.Warn("executor: retrying order submission", "venue", req.Venue, "symbol", req.Symbol, "attempt", attempt)
		}
		order, lastErr = e.submit(ctx, client, req)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return model.ExecutedOrder{}, fmt.Errorf("executor: submit order: %w", lastErr)
	}

	return e.waitForTerminal(ctx, client, order)
}

func (e *OrderExecutor) submit(ctx context.Context, client TradingClient, req model.OrderRequest) (model.ExecutedOrder, error) {
	if req.Type == model.OrderTypeLimit {
		return client.CreateLimitOrder(ctx, req.Symbol, req.Side, req.Amount, req.Price)
	}
	return client.CreateMarketOrder(ctx, req.Symbol, req.Side, req.Amount)
}

// waitForTerminal polls FetchOrder until the order reaches a terminal
// state or the configured timeout elapses.
func (e *OrderExecutor) waitForTerminal(ctx context.Context, client TradingClient, order model.ExecutedOrder) (model.ExecutedOrder, error) {
	if order.State != model.OrderStateOpen {
		return order, nil
	}

	deadline := time.Now().Add(time.Duration(e.cfg.TimeoutMS) * time.Millisecond)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-ticker.C:
			updated, err := client.FetchOrder(ctx, order.OrderID, order.Symbol)
			if err != nil {
				e.logger.Warn("executor: poll failed", "venue", order.Venue, "orderId", order.OrderID, "error", err)
			} else {
				order = updated
				if order.State != model.OrderStateOpen {
					return order, nil
				}
			}
			if time.Now().After(deadline) {
				return order, ErrOrderTimeout
			}
		}
	}
}

// Cancel cancels an open order.
func (e *OrderExecutor) Cancel(ctx context.Context, venue, orderID string, symbol model.Symbol) error {
	client, err := e.client(venue)
	if err != nil {
		return err
	}
	return client.CancelOrder(ctx, orderID, symbol)
}

// FetchBalance proxies to the venue's TradingClient, satisfying the
// balance.Fetcher interface so the same clients back both order
// execution and balance refresh.
func (e *OrderExecutor) FetchBalance(ctx context.Context, venue string) ([]model.Balance, error) {
	client, err := e.client(venue)
	if err != nil {
		return nil, err
	}
	return client.FetchBalance(ctx, venue)
}

// EstimateSlippagePercent compares the requested price against the
// average fill price of a completed order, as a percentage of the
// requested price.
func EstimateSlippagePercent(requested, filled decimal.Decimal) float64 {
	if requested.IsZero() {
		return 0
	}
	diff := filled.Sub(requested).Abs()
	pct, _ := diff.Div(requested).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
