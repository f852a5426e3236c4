// Package analyzer scores a market's UP/DOWN quotes for delta-neutral
// arbitrage: when the two best asks sum below $1.00, buying both sides locks
// in the difference at settlement because exactly one side pays $1.00.
package analyzer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/polyflash/arbbot/internal/domain"
)

// Config holds the profitability thresholds for spread analysis.
type Config struct {
	MinProfitThreshold float64 // minimum profit per contract, e.g. 0.04
	MinLiquidity       float64 // minimum contracts available on each side
	MaxPositionUSDC    float64 // per-position size cap in USDC
	CloseBufferSeconds float64 // do not enter this close to market close
}

// Result is the outcome of analyzing one market's spread. Reason explains the
// first failed check when IsProfitable is false.
type Result struct {
	IsProfitable      bool
	TotalCost         float64
	ProfitPerContract float64
	UpPrice           float64
	DownPrice         float64
	UpLiquidity       float64
	DownLiquidity     float64
	MaxContracts      float64
	Reason            string
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price float64
	Size  float64
}

// SpreadAnalyzer evaluates quotes against the configured thresholds and turns
// profitable results into Opportunities.
type SpreadAnalyzer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a SpreadAnalyzer.
func New(cfg Config, logger *slog.Logger) *SpreadAnalyzer {
	return &SpreadAnalyzer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "spread_analyzer")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Analyze checks a market's current quotes for a profitable arbitrage. Checks
// run in strict order and the first failure wins; MaxContracts is only
// meaningful on a profitable result.
func (a *SpreadAnalyzer) Analyze(market domain.Market, upPrice, downPrice, upLiquidity, downLiquidity float64) Result {
	totalCost := upPrice + downPrice
	profit := 1.0 - totalCost

	res := Result{
		TotalCost:         totalCost,
		ProfitPerContract: profit,
		UpPrice:           upPrice,
		DownPrice:         downPrice,
		UpLiquidity:       upLiquidity,
		DownLiquidity:     downLiquidity,
	}

	if totalCost >= 1.0 {
		res.Reason = "total cost >= $1.00 (no arbitrage available)"
		return res
	}

	if profit < a.cfg.MinProfitThreshold {
		res.Reason = fmt.Sprintf("profit %.4f below threshold %.4f", profit, a.cfg.MinProfitThreshold)
		return res
	}

	minLiquidity := min(upLiquidity, downLiquidity)
	if minLiquidity < a.cfg.MinLiquidity {
		res.Reason = fmt.Sprintf("insufficient liquidity (min %.2f < %.2f)", minLiquidity, a.cfg.MinLiquidity)
		return res
	}

	// Strictly less-than: a market exactly at the buffer is still tradeable.
	if secs, ok := market.TimeToClose(a.now()); ok && secs < a.cfg.CloseBufferSeconds {
		res.Reason = fmt.Sprintf("market closes in %.0fs (buffer %.0fs)", secs, a.cfg.CloseBufferSeconds)
		return res
	}

	// Guard the divisor; a quote near zero would explode the contract count.
	denom := max(totalCost, 0.01)
	res.MaxContracts = min(minLiquidity/denom, a.cfg.MaxPositionUSDC/denom)
	res.IsProfitable = true
	res.Reason = "profitable arbitrage opportunity"
	return res
}

// CreateOpportunity converts a profitable Result into an Opportunity. It
// returns nil for non-profitable results so no opportunity object ever exists
// for them.
func (a *SpreadAnalyzer) CreateOpportunity(market domain.Market, res Result) *domain.Opportunity {
	if !res.IsProfitable {
		return nil
	}

	now := a.now()
	opp := &domain.Opportunity{
		Market:            market,
		UpPrice:           res.UpPrice,
		DownPrice:         res.DownPrice,
		TotalCost:         res.TotalCost,
		ProfitPerContract: res.ProfitPerContract,
		UpLiquidity:       res.UpLiquidity,
		DownLiquidity:     res.DownLiquidity,
		MaxContracts:      res.MaxContracts,
		Timestamp:         now,
	}
	opp.CalculateScore(now)

	a.logger.Info("arbitrage opportunity found",
		slog.String("market_id", market.ID),
		slog.String("asset", market.Asset),
		slog.Float64("up_price", res.UpPrice),
		slog.Float64("down_price", res.DownPrice),
		slog.Float64("total_cost", res.TotalCost),
		slog.Float64("profit", res.ProfitPerContract),
		slog.Float64("max_contracts", res.MaxContracts),
		slog.Float64("score", opp.Score),
	)

	return opp
}

// AnalyzeBook runs the analysis over full order book depth. Liquidity on each
// side aggregates all ask levels priced within 1% of the best ask, so a thin
// top-of-book does not hide executable depth.
func (a *SpreadAnalyzer) AnalyzeBook(market domain.Market, upAsks, downAsks []BookLevel) Result {
	if len(upAsks) == 0 || len(downAsks) == 0 {
		return Result{Reason: "no asks available on one or both sides"}
	}

	upBest := upAsks[0].Price
	downBest := downAsks[0].Price

	var upLiquidity, downLiquidity float64
	for _, lvl := range upAsks {
		if lvl.Price <= upBest*1.01 {
			upLiquidity += lvl.Size
		}
	}
	for _, lvl := range downAsks {
		if lvl.Price <= downBest*1.01 {
			downLiquidity += lvl.Size
		}
	}

	return a.Analyze(market, upBest, downBest, upLiquidity, downLiquidity)
}
