// Package risk enforces process-wide exposure and loss limits. A single Gate
// instance owns the authoritative RiskState; every proposed position passes
// through it before any capital is committed.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polyflash/arbbot/internal/domain"
)

// HaltReasonDailyLoss marks a halt triggered by the daily loss limit. Only
// this halt clears automatically on UTC day rollover; manual halts require an
// explicit Resume.
const HaltReasonDailyLoss = "daily_loss_limit"

// Limits holds the configured risk limits.
type Limits struct {
	MaxPositionSizeUSDC   float64
	MaxTotalExposureUSDC  float64
	MaxDailyLossUSDC      float64
	MaxPositionsPerMarket int
	MaxTotalPositions     int
	MinProfitThreshold    float64
	PositionTimeout       time.Duration
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
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

// State is a snapshot of the current risk metrics.
type State struct {
	TotalExposure      float64
	DailyPnL           float64
	OpenPositions      int
	PositionsPerMarket map[string]int
	DailyTrades        int
	IsHalted           bool
	HaltReason         string
}

// Summary reports limit utilization for monitoring.
type Summary struct {
	TradingAllowed      bool
	HaltReason          string
	TotalExposure       float64
	ExposureUtilization float64 // percent of the exposure limit in use
	DailyPnL            float64
	DailyLossLimit      float64
	OpenPositions       int
	MaxPositions        int
	DailyTrades         int
}

// Gate tracks exposure and PnL against the configured limits and gates every
// proposed position. Safe for concurrent use; the Gate alone mutates its
// state, all callers see snapshots.
type Gate struct {
	limits Limits
	logger *slog.Logger
	now    func() time.Time

	mu                 sync.Mutex
	totalExposure      float64
	dailyPnL           float64
	openPositions      int
	positionsPerMarket map[string]int
	dailyTrades        int
	halted             bool
	haltReason         string
	dayStart           time.Time
}

// NewGate creates a Gate with the given limits.
func NewGate(limits Limits, logger *slog.Logger) *Gate {
	now := func() time.Time { return time.Now().UTC() }
	return &Gate{
		limits:             limits,
		logger:             logger.With(slog.String("component", "risk_gate")),
		now:                now,
		positionsPerMarket: make(map[string]int),
		dayStart:           now().Truncate(24 * time.Hour),
	}
}

// Limits returns the configured limits.
func (g *Gate) Limits() Limits { return g.limits }

// TradingAllowed reports whether new positions may be opened.
func (g *Gate) TradingAllowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.halted
}

// State returns a copy of the current risk state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	perMarket := make(map[string]int, len(g.positionsPerMarket))
	for k, v := range g.positionsPerMarket {
		perMarket[k] = v
	}
	return State{
		TotalExposure:      g.totalExposure,
		DailyPnL:           g.dailyPnL,
		OpenPositions:      g.openPositions,
		PositionsPerMarket: perMarket,
		DailyTrades:        g.dailyTrades,
		IsHalted:           g.halted,
		HaltReason:         g.haltReason,
	}
}

// UpdateExposure refreshes exposure metrics from the ledger's current open
// positions.
func (g *Gate) UpdateExposure(positions []domain.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalExposure = 0
	g.openPositions = len(positions)
	perMarket := make(map[string]int, len(positions))
	for _, p := range positions {
		g.totalExposure += p.TotalCost
		perMarket[p.MarketID]++
	}
	g.positionsPerMarket = perMarket
}

// CanOpenPosition checks whether a new position of proposedSize may open
// against the given opportunity. Checks run in order and the first failure is
// returned as the reason.
func (g *Gate) CanOpenPosition(opp domain.Opportunity, proposedSize float64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.halted {
		return false, fmt.Sprintf("trading halted: %s", g.haltReason)
	}

	if newExposure := g.totalExposure + proposedSize; newExposure > g.limits.MaxTotalExposureUSDC {
		return false, fmt.Sprintf("would exceed exposure limit: %.2f > %.2f", newExposure, g.limits.MaxTotalExposureUSDC)
	}

	if proposedSize > g.limits.MaxPositionSizeUSDC {
		return false, fmt.Sprintf("position size exceeds limit: %.2f > %.2f", proposedSize, g.limits.MaxPositionSizeUSDC)
	}

	if g.positionsPerMarket[opp.Market.ID] >= g.limits.MaxPositionsPerMarket {
		return false, fmt.Sprintf("max positions reached for market %s", opp.Market.ID)
	}

	if g.openPositions >= g.limits.MaxTotalPositions {
		return false, fmt.Sprintf("max total positions reached: %d", g.limits.MaxTotalPositions)
	}

	if opp.ProfitPerContract < g.limits.MinProfitThreshold {
		return false, fmt.Sprintf("profit below threshold: %.4f < %.4f", opp.ProfitPerContract, g.limits.MinProfitThreshold)
	}

	return true, "OK"
}

// CalculatePositionSize returns the recommended size in USDC for an
// opportunity: the minimum of remaining exposure, the per-position cap, and
// the liquidity-bounded notional, scaled by profit/0.10 capped at 1. Smaller
// edges bet proportionally less. This is a confidence heuristic inherited
// from the strategy's original tuning, not a Kelly computation.
func (g *Gate) CalculatePositionSize(opp domain.Opportunity) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := max(0, g.limits.MaxTotalExposureUSDC-g.totalExposure)
	liquidityMax := opp.MaxContracts * opp.TotalCost

	size := min(remaining, g.limits.MaxPositionSizeUSDC, liquidityMax)
	size *= min(1.0, opp.ProfitPerContract/0.10)
	return max(0, size)
}

// AddRealized folds one settlement's realized PnL into the day's running
// total. On UTC day rollover the daily counters reset and a daily-loss halt
// clears. Losses accumulate across settlements; once the running total
// breaches the daily loss limit trading halts. Returns true when this call
// tripped the halt.
func (g *Gate) AddRealized(realized float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if day := now.Truncate(24 * time.Hour); day.After(g.dayStart) {
		g.dayStart = day
		g.dailyPnL = 0
		g.dailyTrades = 0
		if g.haltReason == HaltReasonDailyLoss {
			g.halted = false
			g.haltReason = ""
			g.logger.Info("daily loss halt cleared on day rollover")
		}
	}

	g.dailyPnL += realized

	if !g.halted && g.dailyPnL < -g.limits.MaxDailyLossUSDC {
		g.haltLocked(HaltReasonDailyLoss)
		return true
	}
	return false
}

// RecordTrade bumps the daily trade counter.
func (g *Gate) RecordTrade() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyTrades++
}

// HaltTrading stops all new position opening until ResumeTrading is called
// (or, for a daily-loss halt, the day rolls over).
func (g *Gate) HaltTrading(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.haltLocked(reason)
}

func (g *Gate) haltLocked(reason string) {
	g.halted = true
	g.haltReason = reason
	g.logger.Warn("trading halted", slog.String("reason", reason))
}

// ResumeTrading lifts any halt.
func (g *Gate) ResumeTrading() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.halted = false
	g.haltReason = ""
	g.logger.Info("trading resumed")
}

// TimedOut filters the given positions down to those older than the
// configured position timeout. Timed-out partials become eligible for a
// forced exit decision; nothing is cancelled automatically.
func (g *Gate) TimedOut(positions []domain.Position) []domain.Position {
	now := g.now()
	var out []domain.Position
	for _, p := range positions {
		if age := now.Sub(p.CreatedAt); age > g.limits.PositionTimeout {
			out = append(out, p)
			g.logger.Warn("position timed out",
				slog.String("position_id", p.ID),
				slog.Float64("age_seconds", age.Seconds()),
			)
		}
	}
	return out
}

// Summarize reports current limit utilization.
func (g *Gate) Summarize() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	var utilization float64
	if g.limits.MaxTotalExposureUSDC > 0 {
		utilization = g.totalExposure / g.limits.MaxTotalExposureUSDC * 100
	}
	return Summary{
		TradingAllowed:      !g.halted,
		HaltReason:          g.haltReason,
		TotalExposure:       g.totalExposure,
		ExposureUtilization: utilization,
		DailyPnL:            g.dailyPnL,
		DailyLossLimit:      g.limits.MaxDailyLossUSDC,
		OpenPositions:       g.openPositions,
		MaxPositions:        g.limits.MaxTotalPositions,
		DailyTrades:         g.dailyTrades,
	}
}
