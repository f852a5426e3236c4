package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyflash/arbbot/internal/domain"
)

func testLimits() Limits {
	return Limits{
		MaxPositionSizeUSDC:   1000,
		MaxTotalExposureUSDC:  5000,
		MaxDailyLossUSDC:      500,
		MaxPositionsPerMarket: 1,
		MaxTotalPositions:     10,
		MinProfitThreshold:    0.04,
		PositionTimeout:       15 * time.Minute,
	}
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g := NewGate(testLimits(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	g.dayStart = g.now().Truncate(24 * time.Hour)
	return g
}

func makeOpp(marketID string, profit float64) domain.Opportunity {
	return domain.Opportunity{
		Market:            domain.Market{ID: marketID, Asset: "BTC"},
		TotalCost:         1.0 - profit,
		ProfitPerContract: profit,
		MaxContracts:      2000,
	}
}

func TestCanOpenPosition_Allowed(t *testing.T) {
	g := newTestGate(t)

	ok, reason := g.CanOpenPosition(makeOpp("mkt", 0.05), 500)
	assert.True(t, ok)
	assert.Equal(t, "OK", reason)
}

func TestCanOpenPosition_Halted(t *testing.T) {
	g := newTestGate(t)
	g.HaltTrading("manual")

	ok, reason := g.CanOpenPosition(makeOpp("mkt", 0.05), 500)
	assert.False(t, ok)
	assert.Contains(t, reason, "halted")
	assert.False(t, g.TradingAllowed())

	g.ResumeTrading()
	assert.True(t, g.TradingAllowed())
}

func TestCanOpenPosition_ExposureLimit(t *testing.T) {
	g := newTestGate(t)
	g.UpdateExposure([]domain.Position{
		{MarketID: "other", TotalCost: 4800},
	})

	ok, reason := g.CanOpenPosition(makeOpp("mkt", 0.05), 500)
	assert.False(t, ok)
	assert.Contains(t, reason, "exposure limit")
}

func TestCanOpenPosition_SizeLimit(t *testing.T) {
	g := newTestGate(t)

	ok, reason := g.CanOpenPosition(makeOpp("mkt", 0.05), 1500)
	assert.False(t, ok)
	assert.Contains(t, reason, "size exceeds")
}

func TestCanOpenPosition_PerMarketLimit(t *testing.T) {
	g := newTestGate(t)
	g.UpdateExposure([]domain.Position{
		{MarketID: "mkt", TotalCost: 100},
	})

	ok, reason := g.CanOpenPosition(makeOpp("mkt", 0.05), 500)
	assert.False(t, ok)
	assert.Contains(t, reason, "max positions reached for market")

	// A different market is still open for business.
	ok, _ = g.CanOpenPosition(makeOpp("mkt2", 0.05), 500)
	assert.True(t, ok)
}

func TestCanOpenPosition_TotalPositionsLimit(t *testing.T) {
	g := newTestGate(t)
	positions := make([]domain.Position, 10)
	for i := range positions {
		positions[i] = domain.Position{MarketID: string(rune('a' + i)), TotalCost: 10}
	}
	g.UpdateExposure(positions)

	ok, reason := g.CanOpenPosition(makeOpp("mkt", 0.05), 100)
	assert.False(t, ok)
	assert.Contains(t, reason, "max total positions")
}

func TestCanOpenPosition_ProfitThreshold(t *testing.T) {
	g := newTestGate(t)

	ok, reason := g.CanOpenPosition(makeOpp("mkt", 0.03), 500)
	assert.False(t, ok)
	assert.Contains(t, reason, "profit below threshold")
}

func TestCalculatePositionSize(t *testing.T) {
	g := newTestGate(t)

	// Liquidity allows 2000 * 0.95 = 1900, cap is 1000, remaining 5000.
	// Profit 0.05 scales by 0.5.
	size := g.CalculatePositionSize(makeOpp("mkt", 0.05))
	assert.InDelta(t, 500, size, 1e-9)

	// A 10-cent edge gets full confidence.
	size = g.CalculatePositionSize(makeOpp("mkt", 0.10))
	assert.InDelta(t, 1000, size, 1e-9)
}

func TestCalculatePositionSize_RemainingExposureBounds(t *testing.T) {
	g := newTestGate(t)
	g.UpdateExposure([]domain.Position{{MarketID: "other", TotalCost: 4900}})

	size := g.CalculatePositionSize(makeOpp("mkt", 0.10))
	assert.InDelta(t, 100, size, 1e-9)

	g.UpdateExposure([]domain.Position{{MarketID: "other", TotalCost: 6000}})
	assert.Zero(t, g.CalculatePositionSize(makeOpp("mkt", 0.10)))
}

func TestAddRealized_HaltsOnLossBreach(t *testing.T) {
	g := newTestGate(t)

	assert.False(t, g.AddRealized(-400))
	assert.True(t, g.TradingAllowed())

	assert.True(t, g.AddRealized(-101))
	assert.False(t, g.TradingAllowed())
	state := g.State()
	assert.Equal(t, HaltReasonDailyLoss, state.HaltReason)
}

func TestAddRealized_LossesAccumulateAcrossSettlements(t *testing.T) {
	g := newTestGate(t)

	// No single settlement breaches the $500 limit but the running total does.
	assert.False(t, g.AddRealized(-300))
	assert.True(t, g.TradingAllowed())
	assert.InDelta(t, -300, g.State().DailyPnL, 1e-9)

	assert.True(t, g.AddRealized(-300))
	assert.False(t, g.TradingAllowed())
	assert.InDelta(t, -600, g.State().DailyPnL, 1e-9)
	assert.Equal(t, HaltReasonDailyLoss, g.State().HaltReason)

	// Further losses on an already-halted day do not re-trip.
	assert.False(t, g.AddRealized(-50))
	assert.InDelta(t, -650, g.State().DailyPnL, 1e-9)
}

func TestAddRealized_WinsOffsetLosses(t *testing.T) {
	g := newTestGate(t)

	g.AddRealized(-450)
	g.AddRealized(200)
	assert.False(t, g.AddRealized(-200))
	assert.True(t, g.TradingAllowed())
	assert.InDelta(t, -450, g.State().DailyPnL, 1e-9)
}

func TestAddRealized_DayRolloverClearsHalt(t *testing.T) {
	g := newTestGate(t)
	g.AddRealized(-501)
	require.False(t, g.TradingAllowed())

	// Next UTC day: counters reset and the daily-loss halt clears.
	g.now = func() time.Time { return time.Date(2025, 6, 2, 0, 0, 1, 0, time.UTC) }
	g.AddRealized(-10)

	assert.True(t, g.TradingAllowed())
	assert.InDelta(t, -10, g.State().DailyPnL, 1e-9)
}

func TestAddRealized_ManualHaltSurvivesRollover(t *testing.T) {
	g := newTestGate(t)
	g.HaltTrading("operator stop")

	g.now = func() time.Time { return time.Date(2025, 6, 2, 0, 0, 1, 0, time.UTC) }
	g.AddRealized(100)

	assert.False(t, g.TradingAllowed())
	assert.Equal(t, "operator stop", g.State().HaltReason)
}

func TestTimedOut(t *testing.T) {
	g := newTestGate(t)
	now := g.now()

	positions := []domain.Position{
		{ID: "fresh", CreatedAt: now.Add(-5 * time.Minute)},
		{ID: "old", CreatedAt: now.Add(-20 * time.Minute)},
		{ID: "boundary", CreatedAt: now.Add(-15 * time.Minute)},
	}

	out := g.TimedOut(positions)
	require.Len(t, out, 1)
	assert.Equal(t, "old", out[0].ID)
}

func TestSummarize(t *testing.T) {
	g := newTestGate(t)
	g.UpdateExposure([]domain.Position{
		{MarketID: "a", TotalCost: 1000},
		{MarketID: "b", TotalCost: 1500},
	})
	g.RecordTrade()
	g.RecordTrade()

	s := g.Summarize()
	assert.True(t, s.TradingAllowed)
	assert.InDelta(t, 2500, s.TotalExposure, 1e-9)
	assert.InDelta(t, 50, s.ExposureUtilization, 1e-9)
	assert.Equal(t, 2, s.OpenPositions)
	assert.Equal(t, 2, s.DailyTrades)
}
