package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyflash/arbbot/internal/analyzer"
	"github.com/polyflash/arbbot/internal/detector"
	"github.com/polyflash/arbbot/internal/engine"
	"github.com/polyflash/arbbot/internal/executor"
	"github.com/polyflash/arbbot/internal/feed"
	"github.com/polyflash/arbbot/internal/ledger"
	"github.com/polyflash/arbbot/internal/report"
	"github.com/polyflash/arbbot/internal/risk"
)

// PaperMode runs the full trading core against the simulated quote feed and
// paper execution gateway. The feed and the gateway share one slippage
// simulator, so fills walk the same synthetic books the analyzer quoted.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	logger := a.logger

	// One seed drives both the feed and the fill simulator so a full run can
	// be replayed from config alone.
	seed := cfg.Sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	sim := executor.NewSimulator(executor.SimConfig{
		BaseFeeRate:     cfg.Sim.BaseFeeRate,
		TakerFeeRate:    cfg.Sim.TakerFeeRate,
		MakerFeeRate:    cfg.Sim.MakerFeeRate,
		AvgLatencyMs:    cfg.Sim.AvgLatencyMs,
		LatencyStdMs:    cfg.Sim.LatencyStdMs,
		FailureRate:     cfg.Sim.FailureRate,
		PartialFillRate: cfg.Sim.PartialFillRate,
	}, seed)

	gateway := executor.NewPaperGateway(sim, logger)
	orders := executor.NewEngine(gateway, executor.RetryPolicy{
		MaxRetries:        cfg.Executor.MaxRetries,
		BaseDelay:         cfg.Executor.RetryBaseDelay.Duration,
		BackoffMultiplier: cfg.Executor.BackoffMultiplier,
	}, cfg.Executor.OrdersPerSecond, logger)

	source := feed.NewSimFeed(feed.SimConfig{
		Assets:         cfg.Feed.Assets,
		MarketDuration: cfg.Feed.MarketDuration.Duration,
		Volatility:     cfg.Feed.Volatility,
		ArbProbability: cfg.Feed.ArbProbability,
		MinLiquidity:   cfg.Feed.MinLiquidity,
		MaxLiquidity:   cfg.Feed.MaxLiquidity,
		Seed:           seed,
	}, sim, logger)

	core := a.buildCore(orders, deps, logger)
	eng := engine.New(engine.Config{
		ScanInterval:      cfg.Engine.ScanInterval.Duration,
		ProcessInterval:   cfg.Engine.ProcessInterval.Duration,
		MaxOpportunityAge: cfg.Engine.MaxOpportunityAge.Duration,
		QueueLimit:        cfg.Engine.QueueLimit,
	}, source, core.analyzer, core.detector, core.gate, core.ledger, deps.SpreadCache, deps.Notifier, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	if cfg.Report.Enabled && deps.Archive != nil {
		reporter := report.New(deps.Archive, deps.BlobWriter, sim, cfg.Report.Prefix, logger)
		g.Go(func() error { return reporter.Run(gctx, cfg.Report.Interval.Duration) })
	}

	logger.Info("paper trading started",
		slog.Any("assets", cfg.Feed.Assets),
		slog.Int64("seed", seed),
	)
	return g.Wait()
}

// LiveMode would run the trading core against a real exchange. The exchange
// adapters (signed CLOB orders, live market data) are implemented behind the
// QuoteSource and OrderGateway ports and are not part of this build, so live
// mode refuses to start rather than trade on a stub.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	return fmt.Errorf("app: live mode requires an exchange gateway; only paper mode is available in this build")
}

// tradingCore bundles the pure trading components built from config.
type tradingCore struct {
	analyzer *analyzer.SpreadAnalyzer
	detector *detector.DislocationDetector
	gate     *risk.Gate
	ledger   *ledger.Ledger
}

func (a *App) buildCore(orders ledger.OrderPlacer, deps *Dependencies, logger *slog.Logger) tradingCore {
	cfg := a.cfg
	return tradingCore{
		analyzer: analyzer.New(analyzer.Config{
			MinProfitThreshold: cfg.Analyzer.MinProfitThreshold,
			MinLiquidity:       cfg.Analyzer.MinLiquidity,
			MaxPositionUSDC:    cfg.Analyzer.MaxPositionUSDC,
			CloseBufferSeconds: cfg.Analyzer.CloseBufferSeconds,
		}, logger),
		detector: detector.New(detector.Config{
			WindowSize:      cfg.Detector.WindowSize,
			ThresholdPct:    cfg.Detector.ThresholdPct,
			MinSpreadChange: cfg.Detector.MinSpreadChange,
			Lookback:        cfg.Detector.Lookback.Duration,
		}, logger),
		gate: risk.NewGate(risk.Limits{
			MaxPositionSizeUSDC:   cfg.Risk.MaxPositionSizeUSDC,
			MaxTotalExposureUSDC:  cfg.Risk.MaxTotalExposureUSDC,
			MaxDailyLossUSDC:      cfg.Risk.MaxDailyLossUSDC,
			MaxPositionsPerMarket: cfg.Risk.MaxPositionsPerMarket,
			MaxTotalPositions:     cfg.Risk.MaxTotalPositions,
			MinProfitThreshold:    cfg.Risk.MinProfitThreshold,
			PositionTimeout:       cfg.Risk.PositionTimeout.Duration,
		}, logger),
		ledger: ledger.New(orders, deps.Archive, logger),
	}
}
