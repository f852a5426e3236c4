// Package engine runs the trading core: a scan loop that quotes every active
// market and queues profitable opportunities, and a processor loop that
// drains the queue best-first through the risk gate into the ledger.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyflash/arbbot/internal/analyzer"
	"github.com/polyflash/arbbot/internal/detector"
	"github.com/polyflash/arbbot/internal/domain"
	"github.com/polyflash/arbbot/internal/ledger"
	"github.com/polyflash/arbbot/internal/risk"
)

// Notifier is the alerting surface the engine uses for operator-facing
// events. Satisfied by notify.Notifier; nil disables alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the engine's loop timings and queue limits.
type Config struct {
	ScanInterval      time.Duration // market scan cadence
	ProcessInterval   time.Duration // opportunity queue drain cadence
	MaxOpportunityAge time.Duration // queued opportunities older than this are dropped
	QueueLimit        int           // max queued opportunities
}

// DefaultConfig matches a 5s scan and 1s processing cadence.
func DefaultConfig() Config {
	return Config{
		ScanInterval:      5 * time.Second,
		ProcessInterval:   time.Second,
		MaxOpportunityAge: 30 * time.Second,
		QueueLimit:        100,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ScanInterval <= 0 {
		c.ScanInterval = d.ScanInterval
	}
	if c.ProcessInterval <= 0 {
		c.ProcessInterval = d.ProcessInterval
	}
	if c.MaxOpportunityAge <= 0 {
		c.MaxOpportunityAge = d.MaxOpportunityAge
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = d.QueueLimit
	}
}

// Stats counts engine activity since start.
type Stats struct {
	ScanCycles        int64
	MarketsScanned    int64
	OpportunitiesSeen int64
	StaleDropped      int64
	RiskRejected      int64
	PositionsOpened   int64
	PositionsSettled  int64
	Dislocations      int64
}

// Engine wires the quote source, analyzer, detector, risk gate and ledger
// into the two polling loops. Run blocks until the context is cancelled.
type Engine struct {
	cfg      Config
	source   domain.QuoteSource
	analyzer *analyzer.SpreadAnalyzer
	detector *detector.DislocationDetector
	gate     *risk.Gate
	ledger   *ledger.Ledger
	cache    domain.SpreadCache // optional
	notifier Notifier           // optional
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	queue []domain.Opportunity
	stats Stats
}

// New creates an Engine. cache and notifier may be nil.
func New(
	cfg Config,
	source domain.QuoteSource,
	spread *analyzer.SpreadAnalyzer,
	disloc *detector.DislocationDetector,
	gate *risk.Gate,
	led *ledger.Ledger,
	cache domain.SpreadCache,
	notifier Notifier,
	logger *slog.Logger,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:      cfg,
		source:   source,
		analyzer: spread,
		detector: disloc,
		gate:     gate,
		ledger:   led,
		cache:    cache,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "engine")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run starts both loops and blocks until ctx is cancelled or a loop fails.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		slog.Duration("scan_interval", e.cfg.ScanInterval),
		slog.Duration("process_interval", e.cfg.ProcessInterval),
	)
	defer e.logger.Info("engine stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.scanLoop(gctx) })
	g.Go(func() error { return e.processLoop(gctx) })
	return g.Wait()
}

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// QueueDepth returns the number of queued opportunities.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.ScanCycle(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Error("scan cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Engine) processLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ProcessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.ProcessNext(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Error("opportunity processing failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ScanCycle performs one full pass: quote every active market, feed the
// dislocation detector, queue profitable opportunities, apply settlements,
// and sweep timed-out partial positions. Exported so paper mode and tests
// can drive the engine without the ticker loops.
func (e *Engine) ScanCycle(ctx context.Context) error {
	markets, err := e.source.ScanMarkets(ctx)
	if err != nil {
		return fmt.Errorf("engine: scan markets: %w", err)
	}

	for _, market := range markets {
		if err := e.scanMarket(ctx, market); err != nil {
			e.logger.Warn("market scan failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := e.applySettlements(ctx); err != nil {
		e.logger.Error("settlement pass failed", slog.String("error", err.Error()))
	}
	e.sweepTimeouts(ctx)
	e.gate.UpdateExposure(e.ledger.OpenPositions())

	e.mu.Lock()
	e.stats.ScanCycles++
	e.stats.MarketsScanned += int64(len(markets))
	e.mu.Unlock()
	return nil
}

func (e *Engine) scanMarket(ctx context.Context, market domain.Market) error {
	quote, err := e.source.GetQuote(ctx, market)
	if err != nil {
		return fmt.Errorf("get quote: %w", err)
	}

	if event := e.detector.UpdatePrice(market.ID, quote.UpPrice, quote.DownPrice); event != nil {
		e.onDislocation(ctx, market, quote, *event)
	}

	if e.cache != nil {
		if err := e.cache.SetQuote(ctx, quote); err != nil {
			e.logger.Debug("spread cache publish failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	res := e.analyzer.Analyze(market, quote.UpPrice, quote.DownPrice, quote.UpLiquidity, quote.DownLiquidity)
	opp := e.analyzer.CreateOpportunity(market, res)
	if opp == nil {
		return nil
	}

	e.enqueue(*opp)
	return nil
}

// onDislocation reacts to a spread dislocation. A favorable move for a
// partial position triggers an immediate hedge attempt at the quoted
// missing-side ask; everything else is counted and logged. The hedge is a new
// order, so it passes the same halt and liquidity checks as a fresh entry.
func (e *Engine) onDislocation(ctx context.Context, market domain.Market, quote domain.Quote, event detector.Event) {
	e.mu.Lock()
	e.stats.Dislocations++
	e.mu.Unlock()

	if !e.gate.TradingAllowed() {
		return
	}

	for _, pos := range e.ledger.PartialPositions() {
		if pos.MarketID != market.ID {
			continue
		}
		held, ok := pos.HeldSide()
		if !ok || !e.detector.IsFavorable(event, held) {
			continue
		}
		missing := held.Opposite()
		price, liquidity := quote.UpPrice, quote.UpLiquidity
		if missing == domain.OutcomeDown {
			price, liquidity = quote.DownPrice, quote.DownLiquidity
		}
		if price <= 0 || price >= 1 {
			continue
		}
		if notional := pos.Leg(held).Contracts * price; liquidity < notional {
			e.logger.Info("hedge skipped, insufficient liquidity",
				slog.String("position_id", pos.ID),
				slog.Float64("needed", notional),
				slog.Float64("available", liquidity),
			)
			continue
		}
		e.logger.Info("favorable dislocation, completing partial position",
			slog.String("position_id", pos.ID),
			slog.String("market_id", market.ID),
			slog.String("missing_side", string(missing)),
			slog.Float64("ask", price),
			slog.Float64("new_spread", event.NewSpread),
		)
		if _, err := e.ledger.CompleteLeg(ctx, pos.ID, price); err != nil {
			e.logger.Warn("leg completion failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// applySettlements settles every open position in each newly resolved market
// and feeds realized PnL into the risk gate's daily loss tracking.
func (e *Engine) applySettlements(ctx context.Context) error {
	resolutions, err := e.source.Resolutions(ctx)
	if err != nil {
		return fmt.Errorf("engine: resolutions: %w", err)
	}

	for _, res := range resolutions {
		e.detector.ClearHistory(res.MarketID)
		for _, pos := range e.ledger.PositionsForMarket(res.MarketID) {
			if pos.State == domain.PositionSettled {
				continue
			}
			settled, err := e.ledger.MarkSettled(ctx, pos.ID, res.WinningSide)
			if err != nil {
				e.logger.Error("settlement failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			pnl := *settled.RealizedPnL
			tripped := e.gate.AddRealized(pnl)
			e.mu.Lock()
			e.stats.PositionsSettled++
			e.mu.Unlock()
			e.notify(ctx, "settlement", "Position settled",
				fmt.Sprintf("%s %s won, realized PnL $%.2f", settled.Asset, res.WinningSide, pnl))
			if tripped {
				e.notifyHalt(ctx)
			}
		}
	}
	return nil
}

// sweepTimeouts force-exits partial positions that stayed one-sided past the
// configured timeout. A one-legged book is directional exposure, not
// arbitrage, so it is cut rather than held.
func (e *Engine) sweepTimeouts(ctx context.Context) {
	for _, pos := range e.gate.TimedOut(e.ledger.PartialPositions()) {
		e.logger.Warn("partial position timed out, force exiting",
			slog.String("position_id", pos.ID),
			slog.String("market_id", pos.MarketID),
			slog.Float64("total_cost", pos.TotalCost),
		)
		exited, err := e.ledger.ForceExit(ctx, pos.ID)
		if err != nil {
			e.logger.Error("force exit failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if exited.RealizedPnL != nil {
			tripped := e.gate.AddRealized(*exited.RealizedPnL)
			e.notify(ctx, "timeout", "Partial position closed",
				fmt.Sprintf("%s exited after hedge timeout, realized PnL $%.2f", pos.Asset, *exited.RealizedPnL))
			if tripped {
				e.notifyHalt(ctx)
			}
		}
	}
}

// ProcessNext pops the best queued opportunity and, if it survives staleness
// and risk rechecks, opens a position. One opportunity per call keeps order
// flow inside the executor's rate limit.
func (e *Engine) ProcessNext(ctx context.Context) error {
	opp, ok := e.popBest()
	if !ok {
		return nil
	}

	size := e.gate.CalculatePositionSize(opp)
	if size <= 0 {
		return nil
	}
	allowed, reason := e.gate.CanOpenPosition(opp, size)
	if !allowed {
		e.mu.Lock()
		e.stats.RiskRejected++
		e.mu.Unlock()
		e.logger.Info("opportunity rejected by risk gate",
			slog.String("market_id", opp.Market.ID),
			slog.String("reason", reason),
		)
		return nil
	}

	pos, err := e.ledger.OpenPosition(ctx, opp, size)
	if err != nil {
		return fmt.Errorf("engine: open position: %w", err)
	}
	if pos == nil {
		// Entry leg rejected, nothing committed.
		return nil
	}

	e.gate.RecordTrade()
	e.mu.Lock()
	e.stats.PositionsOpened++
	e.mu.Unlock()

	e.notify(ctx, "trade", "Position opened",
		fmt.Sprintf("%s %s: %.1f contracts at $%.4f combined, expected profit $%.2f",
			pos.Asset, pos.State, pos.Up.Contracts, pos.CombinedAvgPrice(), pos.UnrealizedPnL()))
	return nil
}

// enqueue inserts an opportunity, evicting the lowest-scored entry when the
// queue is full. One queued opportunity per market; a fresher quote for the
// same market replaces the old one.
func (e *Engine) enqueue(opp domain.Opportunity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.OpportunitiesSeen++

	for i := range e.queue {
		if e.queue[i].Market.ID == opp.Market.ID {
			e.queue[i] = opp
			return
		}
	}
	if len(e.queue) >= e.cfg.QueueLimit {
		sort.Slice(e.queue, func(i, j int) bool { return e.queue[i].Score > e.queue[j].Score })
		e.queue = e.queue[:e.cfg.QueueLimit-1]
	}
	e.queue = append(e.queue, opp)
}

// popBest removes and returns the highest-scored fresh opportunity. Stale
// entries are discarded during the pass.
func (e *Engine) popBest() (domain.Opportunity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	fresh := e.queue[:0]
	for _, opp := range e.queue {
		if now.Sub(opp.Timestamp) > e.cfg.MaxOpportunityAge {
			e.stats.StaleDropped++
			continue
		}
		fresh = append(fresh, opp)
	}
	e.queue = fresh
	if len(e.queue) == 0 {
		return domain.Opportunity{}, false
	}

	best := 0
	for i := 1; i < len(e.queue); i++ {
		if e.queue[i].Score > e.queue[best].Score {
			best = i
		}
	}
	opp := e.queue[best]
	e.queue = append(e.queue[:best], e.queue[best+1:]...)
	return opp, true
}

// notifyHalt alerts that accumulated losses tripped the daily-loss halt.
func (e *Engine) notifyHalt(ctx context.Context) {
	s := e.gate.Summarize()
	e.notify(ctx, "halt", "Trading halted",
		fmt.Sprintf("daily loss limit breached: daily PnL $%.2f against a $%.2f limit", s.DailyPnL, s.DailyLossLimit))
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Debug("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
