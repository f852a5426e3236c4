// Package feed provides quote sources for the trading engine. The simulated
// feed drives paper mode: it fabricates short-lived binary markets per asset
// and random-walks their outcome prices, occasionally letting the pair sum
// dip below $1.00 so the analyzer has real dislocations to find.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyflash/arbbot/internal/domain"
	"github.com/polyflash/arbbot/internal/executor"
)

// SimConfig controls the simulated quote source.
type SimConfig struct {
	Assets         []string      // underlying assets to fabricate markets for
	MarketDuration time.Duration // lifetime of each flash market
	Volatility     float64       // per-tick gaussian sigma on the up price
	ArbProbability float64       // chance a tick prices the pair below $1.00
	MinLiquidity   float64       // lower bound of per-side quoted depth
	MaxLiquidity   float64       // upper bound of per-side quoted depth
	Seed           int64
}

// DefaultSimConfig matches hourly up/down flash markets.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Assets:         []string{"BTC", "ETH", "SOL", "DOGE"},
		MarketDuration: time.Hour,
		Volatility:     0.015,
		ArbProbability: 0.12,
		MinLiquidity:   500,
		MaxLiquidity:   5000,
	}
}

type simMarket struct {
	market  domain.Market
	upPrice float64
}

// SimFeed implements domain.QuoteSource with fabricated markets. When wired
// to a SlippageSimulator it keeps the simulator's books aligned with the
// quotes it emits, so paper fills walk the same prices the analyzer saw.
type SimFeed struct {
	cfg    SimConfig
	sim    *executor.SlippageSimulator // optional
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	markets  map[string]*simMarket
	resolved []domain.Resolution
}

// NewSimFeed creates a simulated feed. sim may be nil.
func NewSimFeed(cfg SimConfig, sim *executor.SlippageSimulator, logger *slog.Logger) *SimFeed {
	if len(cfg.Assets) == 0 {
		cfg.Assets = DefaultSimConfig().Assets
	}
	if cfg.MarketDuration <= 0 {
		cfg.MarketDuration = time.Hour
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.015
	}
	if cfg.MinLiquidity <= 0 {
		cfg.MinLiquidity = 500
	}
	if cfg.MaxLiquidity <= cfg.MinLiquidity {
		cfg.MaxLiquidity = cfg.MinLiquidity * 10
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimFeed{
		cfg:     cfg,
		sim:     sim,
		logger:  logger.With(slog.String("component", "sim_feed")),
		now:     func() time.Time { return time.Now().UTC() },
		rng:     rand.New(rand.NewSource(seed)),
		markets: make(map[string]*simMarket),
	}
}

// ScanMarkets returns the active flash market per asset, rolling over any
// market whose window has ended. Rollover resolves the expired market to the
// side that was priced higher at expiry and queues the resolution.
func (f *SimFeed) ScanMarkets(ctx context.Context) ([]domain.Market, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	out := make([]domain.Market, 0, len(f.cfg.Assets))
	for _, asset := range f.cfg.Assets {
		sm, ok := f.markets[asset]
		if ok && now.Before(sm.market.EndTime) {
			out = append(out, sm.market)
			continue
		}
		if ok {
			f.resolveLocked(sm, now)
		}
		sm = f.newMarketLocked(asset, now)
		f.markets[asset] = sm
		out = append(out, sm.market)
	}
	return out, nil
}

// GetQuote advances the market's price walk one tick and returns both sides.
func (f *SimFeed) GetQuote(ctx context.Context, market domain.Market) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	sm, ok := f.markets[market.Asset]
	if !ok || sm.market.ID != market.ID {
		return domain.Quote{}, fmt.Errorf("feed: market %s: %w", market.ID, domain.ErrNotFound)
	}

	sm.upPrice = clampPrice(sm.upPrice + f.rng.NormFloat64()*f.cfg.Volatility)

	// The overround is the market maker's margin. Most ticks the pair sums
	// above $1.00; an occasional tick prices the sum below it.
	overround := 0.005 + f.rng.Float64()*0.03
	if f.rng.Float64() < f.cfg.ArbProbability {
		overround = -(0.005 + f.rng.Float64()*0.035)
	}
	downPrice := clampPrice(1.0 - sm.upPrice + overround)

	q := domain.Quote{
		MarketID:      sm.market.ID,
		UpPrice:       sm.upPrice,
		DownPrice:     downPrice,
		UpLiquidity:   f.liquidityLocked(),
		DownLiquidity: f.liquidityLocked(),
		Timestamp:     f.now(),
	}

	if f.sim != nil {
		f.sim.UpdateBook(sm.market.UpTokenID, q.UpPrice, f.cfg.Volatility)
		f.sim.UpdateBook(sm.market.DownTokenID, q.DownPrice, f.cfg.Volatility)
	}
	return q, nil
}

// Resolutions drains the queue of markets that expired since the last call.
func (f *SimFeed) Resolutions(ctx context.Context) ([]domain.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.resolved
	f.resolved = nil
	return out, nil
}

func (f *SimFeed) newMarketLocked(asset string, now time.Time) *simMarket {
	end := now.Truncate(f.cfg.MarketDuration).Add(f.cfg.MarketDuration)
	id := uuid.New().String()
	sm := &simMarket{
		market: domain.Market{
			ID:          id,
			ConditionID: id,
			Question:    fmt.Sprintf("%s up or down, window ending %s?", asset, end.Format("15:04 MST")),
			Slug:        fmt.Sprintf("%s-updown-%d", asset, end.Unix()),
			Asset:       asset,
			UpTokenID:   uuid.New().String(),
			DownTokenID: uuid.New().String(),
			StartTime:   end.Add(-f.cfg.MarketDuration),
			EndTime:     end,
			Volume:      f.cfg.MaxLiquidity * (1 + f.rng.Float64()*9),
			Status:      domain.MarketStatusActive,
		},
		upPrice: clampPrice(0.5 + f.rng.NormFloat64()*0.05),
	}
	f.logger.Debug("new flash market",
		slog.String("market_id", sm.market.ID),
		slog.String("asset", asset),
		slog.Time("end_time", end),
	)
	return sm
}

func (f *SimFeed) resolveLocked(sm *simMarket, now time.Time) {
	winner := domain.OutcomeUp
	if sm.upPrice < 0.5 {
		winner = domain.OutcomeDown
	}
	f.resolved = append(f.resolved, domain.Resolution{
		MarketID:    sm.market.ID,
		WinningSide: winner,
		ResolvedAt:  now,
	})
	f.logger.Info("market resolved",
		slog.String("market_id", sm.market.ID),
		slog.String("asset", sm.market.Asset),
		slog.String("winning_side", string(winner)),
	)
}

func (f *SimFeed) liquidityLocked() float64 {
	return f.cfg.MinLiquidity + f.rng.Float64()*(f.cfg.MaxLiquidity-f.cfg.MinLiquidity)
}

func clampPrice(p float64) float64 {
	return math.Min(0.99, math.Max(0.01, p))
}
