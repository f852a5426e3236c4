// Package executor places orders through an OrderGateway with bounded
// retries, exponential backoff, and submission rate limiting. In paper mode
// the gateway is backed by the slippage simulator.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/polyflash/arbbot/internal/domain"
)

// RetryPolicy bounds retry behavior for rejected or timed-out orders.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy retries twice after the initial attempt, at 1s and 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Engine wraps an OrderGateway with retry and rate limiting. All order flow
// in the system passes through it; market orders default to Fill-Or-Kill so
// no resting partial fills need managing against a fast-moving book.
type Engine struct {
	gateway domain.OrderGateway
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine submitting at most ordersPerSec orders per
// second with a burst of two (one per leg of a position).
func NewEngine(gateway domain.OrderGateway, policy RetryPolicy, ordersPerSec float64, logger *slog.Logger) *Engine {
	if ordersPerSec <= 0 {
		ordersPerSec = 5
	}
	return &Engine{
		gateway: gateway,
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(ordersPerSec), 2),
		logger:  logger.With(slog.String("component", "execution_engine")),
		sleep:   sleepCtx,
	}
}

// PlaceMarketOrder submits a FOK market order, retrying rejected attempts
// with exponential backoff up to the policy's limit. A rejected final attempt
// is reported in the OrderResult, not as an error; errors mean the attempt
// could not be made (transport fault, cancelled context).
func (e *Engine) PlaceMarketOrder(ctx context.Context, tokenID string, side domain.OrderSide, amountUSDC float64) (domain.OrderResult, error) {
	var last domain.OrderResult

	for attempt := 0; attempt < e.policy.MaxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return domain.OrderResult{}, fmt.Errorf("executor: rate limit wait: %w", err)
		}

		res, err := e.gateway.PlaceMarketOrder(ctx, tokenID, side, amountUSDC, domain.OrderTypeFOK)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("executor: place market order: %w", err)
		}
		if res.Success {
			return res, nil
		}
		last = res

		if attempt < e.policy.MaxRetries-1 {
			delay := e.backoff(attempt)
			e.logger.Warn("order attempt failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", res.Error),
			)
			if err := e.sleep(ctx, delay); err != nil {
				return domain.OrderResult{}, err
			}
		}
	}

	e.logger.Error("order failed after max retries",
		slog.String("token_id", truncate(tokenID)),
		slog.String("side", string(side)),
		slog.String("error", last.Error),
	)
	if last.Error == "" {
		last.Error = "max retries exceeded"
	}
	return last, nil
}

// CancelOrder cancels a resting order.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	if err := e.gateway.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("executor: cancel order %s: %w", orderID, err)
	}
	e.logger.Info("order cancelled", slog.String("order_id", orderID))
	return nil
}

func (e *Engine) backoff(attempt int) time.Duration {
	mult := 1.0
	for i := 0; i < attempt; i++ {
		mult *= e.policy.BackoffMultiplier
	}
	return time.Duration(float64(e.policy.BaseDelay) * mult)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
