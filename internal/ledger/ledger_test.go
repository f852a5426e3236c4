package ledger

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

// fakePlacer scripts order results per token id.
type fakePlacer struct {
	results map[string]domain.OrderResult
	errs    map[string]error
	orders  []placedOrder
}

type placedOrder struct {
	tokenID string
	side    domain.OrderSide
	amount  float64
}

func (p *fakePlacer) PlaceMarketOrder(ctx context.Context, tokenID string, side domain.OrderSide, amountUSDC float64) (domain.OrderResult, error) {
	p.orders = append(p.orders, placedOrder{tokenID, side, amountUSDC})
	if err, ok := p.errs[tokenID]; ok {
		return domain.OrderResult{}, err
	}
	return p.results[tokenID], nil
}

// fakeArchive records settled positions handed to it.
type fakeArchive struct {
	recorded []domain.Position
	err      error
}

func (a *fakeArchive) Record(ctx context.Context, pos domain.Position) error {
	if a.err != nil {
		return a.err
	}
	a.recorded = append(a.recorded, pos)
	return nil
}

func (a *fakeArchive) ListSettled(ctx context.Context, since time.Time, limit int) ([]domain.Position, error) {
	return a.recorded, nil
}

func (a *fakeArchive) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	for _, p := range a.recorded {
		if p.RealizedPnL != nil {
			total += *p.RealizedPnL
		}
	}
	return total, nil
}

func newTestLedger(placer OrderPlacer, archive domain.PositionArchive) *Ledger {
	return New(placer, archive, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func makeOpp() domain.Opportunity {
	return domain.Opportunity{
		Market: domain.Market{
			ID:          "mkt-1",
			Asset:       "BTC",
			UpTokenID:   "up-tok",
			DownTokenID: "down-tok",
		},
		UpPrice:           0.52,
		DownPrice:         0.44,
		TotalCost:         0.96,
		ProfitPerContract: 0.04,
	}
}

func fill(orderID string, contracts, price float64) domain.OrderResult {
	return domain.OrderResult{Success: true, OrderID: orderID, FilledSize: contracts, AvgPrice: price}
}

func TestOpenPosition_BothLegsFill(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok":   fill("o-up", 100, 0.52),
		"down-tok": fill("o-down", 100, 0.44),
	}}
	l := newTestLedger(placer, nil)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)

	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.PositionComplete, pos.State)
	assert.InDelta(t, 100, pos.Up.Contracts, 1e-9)
	assert.InDelta(t, 100, pos.Down.Contracts, 1e-9)
	assert.InDelta(t, 96, pos.TotalCost, 1e-9)
	assert.True(t, pos.IsDeltaNeutral())
	assert.InDelta(t, 4, pos.UnrealizedPnL(), 1e-9)

	// Equal notional per leg, UP strictly before DOWN.
	require.Len(t, placer.orders, 2)
	assert.Equal(t, "up-tok", placer.orders[0].tokenID)
	assert.Equal(t, "down-tok", placer.orders[1].tokenID)
	assert.InDelta(t, 52, placer.orders[0].amount, 1e-9)
	assert.InDelta(t, 52, placer.orders[1].amount, 1e-9)

	assert.Len(t, l.Trades(pos.ID), 2)
	assert.Len(t, l.OpenPositions(), 1)
}

func TestOpenPosition_FirstLegRejected(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok": {Error: "no liquidity"},
	}}
	l := newTestLedger(placer, nil)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)

	// Nothing filled, nothing recorded.
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Len(t, placer.orders, 1)
	assert.Empty(t, l.OpenPositions())
	assert.Empty(t, l.Trades(""))
}

func TestOpenPosition_SecondLegRejected(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok":   fill("o-up", 100, 0.52),
		"down-tok": {Error: "book moved"},
	}}
	l := newTestLedger(placer, nil)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)

	// A partial position is an expected outcome, not an error.
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.PositionPartial, pos.State)
	assert.InDelta(t, 52, pos.TotalCost, 1e-9)
	assert.InDelta(t, 100, pos.Delta(), 1e-9)

	held, ok := pos.HeldSide()
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeUp, held)

	require.Len(t, l.PartialPositions(), 1)
}

func TestOpenPosition_SecondLegTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	placer := &fakePlacer{
		results: map[string]domain.OrderResult{"up-tok": fill("o-up", 100, 0.52)},
		errs:    map[string]error{"down-tok": boom},
	}
	l := newTestLedger(placer, nil)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)

	// The error surfaces, but the filled leg is kept for recovery.
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, pos)
	assert.Equal(t, domain.PositionPartial, pos.State)
	require.Len(t, l.PartialPositions(), 1)
}

func TestOpenPosition_MissingTokenPair(t *testing.T) {
	l := newTestLedger(&fakePlacer{}, nil)
	opp := makeOpp()
	opp.Market.DownTokenID = ""

	_, err := l.OpenPosition(context.Background(), opp, 104)
	assert.Error(t, err)
}

func TestCompleteLeg(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok":   fill("o-up", 100, 0.52),
		"down-tok": {Error: "book moved"},
	}}
	l := newTestLedger(placer, nil)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)
	require.NoError(t, err)
	require.Equal(t, domain.PositionPartial, pos.State)

	// The spread narrowed; the missing DOWN leg is now available at 0.43.
	placer.results["down-tok"] = fill("o-down", 100, 0.43)

	completed, err := l.CompleteLeg(context.Background(), pos.ID, 0.43)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionComplete, completed.State)
	assert.InDelta(t, 100, completed.Down.Contracts, 1e-9)
	assert.InDelta(t, 52+43, completed.TotalCost, 1e-9)

	// The hedge order spends held contracts x price.
	last := placer.orders[len(placer.orders)-1]
	assert.Equal(t, "down-tok", last.tokenID)
	assert.InDelta(t, 43, last.amount, 1e-9)

	assert.Empty(t, l.PartialPositions())
}

func TestCompleteLeg_NotPartial(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok":   fill("o-up", 100, 0.52),
		"down-tok": fill("o-down", 100, 0.44),
	}}
	l := newTestLedger(placer, nil)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)
	require.NoError(t, err)

	_, err = l.CompleteLeg(context.Background(), pos.ID, 0.43)
	assert.Error(t, err)

	_, err = l.CompleteLeg(context.Background(), "missing", 0.43)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkSettled(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok":   fill("o-up", 100, 0.52),
		"down-tok": fill("o-down", 100, 0.44),
	}}
	archive := &fakeArchive{}
	l := newTestLedger(placer, archive)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)
	require.NoError(t, err)

	settled, err := l.MarkSettled(context.Background(), pos.ID, domain.OutcomeUp)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionSettled, settled.State)
	require.NotNil(t, settled.SettlementValue)
	require.NotNil(t, settled.RealizedPnL)
	// 100 winning contracts x $1.00 against a $96 cost basis.
	assert.InDelta(t, 100, *settled.SettlementValue, 1e-9)
	assert.InDelta(t, 4, *settled.RealizedPnL, 1e-9)
	assert.NotNil(t, settled.SettledAt)

	assert.InDelta(t, 4, l.RealizedPnL(), 1e-9)
	assert.Empty(t, l.OpenPositions())
	require.Len(t, archive.recorded, 1)
	assert.Equal(t, pos.ID, archive.recorded[0].ID)
}

func TestMarkSettled_ReplayRejected(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok":   fill("o-up", 100, 0.52),
		"down-tok": fill("o-down", 100, 0.44),
	}}
	l := newTestLedger(placer, nil)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)
	require.NoError(t, err)

	first, err := l.MarkSettled(context.Background(), pos.ID, domain.OutcomeUp)
	require.NoError(t, err)

	_, err = l.MarkSettled(context.Background(), pos.ID, domain.OutcomeDown)
	assert.ErrorIs(t, err, domain.ErrSettlementReplay)

	// The first settlement remains untouched.
	current, err := l.Get(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.RealizedPnL, *current.RealizedPnL)
}

func TestMarkSettled_PartialLosesUnhedgedSide(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok":   fill("o-up", 100, 0.52),
		"down-tok": {Error: "book moved"},
	}}
	l := newTestLedger(placer, nil)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)
	require.NoError(t, err)

	// DOWN wins; the held UP leg pays nothing.
	settled, err := l.MarkSettled(context.Background(), pos.ID, domain.OutcomeDown)
	require.NoError(t, err)
	assert.InDelta(t, 0, *settled.SettlementValue, 1e-9)
	assert.InDelta(t, -52, *settled.RealizedPnL, 1e-9)
}

func TestForceExit(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok":   fill("o-up", 100, 0.52),
		"down-tok": {Error: "book moved"},
	}}
	l := newTestLedger(placer, nil)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)
	require.NoError(t, err)

	// Selling the held UP leg recovers 100 contracts at 0.48.
	placer.results["up-tok"] = fill("o-sell", 100, 0.48)

	exited, err := l.ForceExit(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionSettled, exited.State)
	require.NotNil(t, exited.RealizedPnL)
	assert.InDelta(t, 48-52, *exited.RealizedPnL, 1e-9)

	last := placer.orders[len(placer.orders)-1]
	assert.Equal(t, domain.OrderSideSell, last.side)

	// A settled position cannot be exited again.
	_, err = l.ForceExit(context.Background(), pos.ID)
	assert.ErrorIs(t, err, domain.ErrSettlementReplay)
}

func TestArchiveFailureDoesNotBlockSettlement(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok":   fill("o-up", 100, 0.52),
		"down-tok": fill("o-down", 100, 0.44),
	}}
	archive := &fakeArchive{err: errors.New("db down")}
	l := newTestLedger(placer, archive)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)
	require.NoError(t, err)

	settled, err := l.MarkSettled(context.Background(), pos.ID, domain.OutcomeUp)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionSettled, settled.State)
}

func TestSummarize(t *testing.T) {
	placer := &fakePlacer{results: map[string]domain.OrderResult{
		"up-tok":   fill("o-up", 100, 0.52),
		"down-tok": fill("o-down", 100, 0.44),
	}}
	l := newTestLedger(placer, nil)

	pos, err := l.OpenPosition(context.Background(), makeOpp(), 104)
	require.NoError(t, err)

	s := l.Summarize()
	assert.Equal(t, 1, s.TotalPositions)
	assert.Equal(t, 1, s.OpenPositions)
	assert.InDelta(t, 96, s.TotalExposure, 1e-9)
	assert.InDelta(t, 4, s.UnrealizedPnL, 1e-9)

	_, err = l.MarkSettled(context.Background(), pos.ID, domain.OutcomeUp)
	require.NoError(t, err)

	s = l.Summarize()
	assert.Equal(t, 1, s.SettledPositions)
	assert.Zero(t, s.OpenPositions)
	assert.InDelta(t, 4, s.RealizedPnL, 1e-9)
}
