package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyflash/arbbot/internal/domain"
)

// scriptedGateway returns predetermined results in order.
type scriptedGateway struct {
	results []domain.OrderResult
	errs    []error
	calls   int
	cancels []string
}

func (g *scriptedGateway) PlaceMarketOrder(ctx context.Context, tokenID string, side domain.OrderSide, amountUSDC float64, orderType domain.OrderType) (domain.OrderResult, error) {
	i := g.calls
	g.calls++
	var err error
	if i < len(g.errs) {
		err = g.errs[i]
	}
	var res domain.OrderResult
	if i < len(g.results) {
		res = g.results[i]
	}
	return res, err
}

func (g *scriptedGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.cancels = append(g.cancels, orderID)
	return nil
}

func newTestEngine(gateway domain.OrderGateway) (*Engine, *[]time.Duration) {
	e := NewEngine(gateway, RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
	}, 1000, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var delays []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return e, &delays
}

func TestPlaceMarketOrder_FirstAttemptSucceeds(t *testing.T) {
	gw := &scriptedGateway{results: []domain.OrderResult{
		{Success: true, OrderID: "o1", FilledSize: 100, AvgPrice: 0.52},
	}}
	e, delays := newTestEngine(gw)

	res, err := e.PlaceMarketOrder(context.Background(), "tok", domain.OrderSideBuy, 52)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "o1", res.OrderID)
	assert.Equal(t, 1, gw.calls)
	assert.Empty(t, *delays)
}

func TestPlaceMarketOrder_RetriesWithBackoff(t *testing.T) {
	gw := &scriptedGateway{results: []domain.OrderResult{
		{Error: "rejected"},
		{Error: "rejected"},
		{Success: true, OrderID: "o3", FilledSize: 100, AvgPrice: 0.52},
	}}
	e, delays := newTestEngine(gw)

	res, err := e.PlaceMarketOrder(context.Background(), "tok", domain.OrderSideBuy, 52)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "o3", res.OrderID)
	assert.Equal(t, 3, gw.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
}

func TestPlaceMarketOrder_ExhaustsRetries(t *testing.T) {
	gw := &scriptedGateway{results: []domain.OrderResult{
		{Error: "no liquidity"},
		{Error: "no liquidity"},
		{Error: "no liquidity"},
	}}
	e, _ := newTestEngine(gw)

	res, err := e.PlaceMarketOrder(context.Background(), "tok", domain.OrderSideBuy, 52)

	// A rejected final attempt is a result, not an error.
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "no liquidity", res.Error)
	assert.Equal(t, 3, gw.calls)
}

func TestPlaceMarketOrder_TransportErrorStopsRetrying(t *testing.T) {
	boom := errors.New("connection reset")
	gw := &scriptedGateway{errs: []error{boom}}
	e, _ := newTestEngine(gw)

	_, err := e.PlaceMarketOrder(context.Background(), "tok", domain.OrderSideBuy, 52)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, gw.calls)
}

func TestPlaceMarketOrder_CancelledContext(t *testing.T) {
	gw := &scriptedGateway{results: []domain.OrderResult{{Error: "rejected"}}}
	e, _ := newTestEngine(gw)
	e.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	_, err := e.PlaceMarketOrder(context.Background(), "tok", domain.OrderSideBuy, 52)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelOrder(t *testing.T) {
	gw := &scriptedGateway{}
	e, _ := newTestEngine(gw)

	require.NoError(t, e.CancelOrder(context.Background(), "o1"))
	assert.Equal(t, []string{"o1"}, gw.cancels)
}

func TestPaperGateway_RoundTrip(t *testing.T) {
	sim := NewSimulator(SimConfig{TakerFeeRate: 0.02}, 42)
	sim.GenerateBook("tok", 0.50, 0.02, 10, 500)
	gw := NewPaperGateway(sim, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := gw.PlaceMarketOrder(context.Background(), "tok", domain.OrderSideBuy, 100, domain.OrderTypeFOK)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Greater(t, res.FilledSize, 0.0)
	assert.Greater(t, res.FeeUSD, 0.0)

	assert.Same(t, sim, gw.Simulator())
	assert.NoError(t, gw.CancelOrder(context.Background(), "o1"))
}
