package executor

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyflash/arbbot/internal/domain"
)

// SimConfig holds the tunables for paper-mode execution simulation.
type SimConfig struct {
	BaseFeeRate     float64 // applied to all orders
	TakerFeeRate    float64 // additional fee on market orders
	MakerFeeRate    float64 // additional fee on resting limit orders
	AvgLatencyMs    float64
	LatencyStdMs    float64
	FailureRate     float64 // probability of total order failure
	PartialFillRate float64 // probability of a forced partial fill
}

// DefaultSimConfig mirrors observed exchange behavior. Most prediction-market
// venues charge no base trading fee; a 2% taker fee is simulated anyway as a
// safety margin.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		BaseFeeRate:     0.0,
		TakerFeeRate:    0.02,
		MakerFeeRate:    0.0,
		AvgLatencyMs:    100,
		LatencyStdMs:    50,
		FailureRate:     0.02,
		PartialFillRate: 0.05,
	}
}

// BookLevel is one level of a synthetic order book side.
type BookLevel struct {
	Price float64
	Size  float64
}

// Book is a synthetic order book for one token.
type Book struct {
	TokenID   string
	Bids      []BookLevel
	Asks      []BookLevel
	MidPrice  float64
	Spread    float64
	Timestamp time.Time
}

// BestBid returns the top bid, falling back to mid minus half the spread.
func (b Book) BestBid() float64 {
	if len(b.Bids) > 0 {
		return b.Bids[0].Price
	}
	return b.MidPrice - b.Spread/2
}

// BestAsk returns the top ask, falling back to mid plus half the spread.
func (b Book) BestAsk() float64 {
	if len(b.Asks) > 0 {
		return b.Asks[0].Price
	}
	return b.MidPrice + b.Spread/2
}

// Fill is one price level consumed by a simulated order.
type Fill struct {
	Price float64
	Size  float64
	Value float64
}

// SimResult is the outcome of one simulated execution.
type SimResult struct {
	Success     bool
	OrderID     string
	FilledSize  float64
	AvgPrice    float64
	Slippage    float64 // avg price vs best price, in price terms
	SlippageBps float64
	FeeUSD      float64
	Latency     time.Duration
	Error       string
	Fills       []Fill
}

// SimStats aggregates execution statistics across all simulated orders.
type SimStats struct {
	TotalOrders    int
	FailedOrders   int
	FailureRatePct float64
	PartialFills   int
	PartialRatePct float64
	AvgSlippageBps float64
}

// SlippageSimulator models realistic order execution for paper trading:
// order-book depth and price impact, latency variation, fees, partial fills,
// and outright failures. Safe for concurrent use.
type SlippageSimulator struct {
	cfg SimConfig

	mu           sync.Mutex
	rng          *rand.Rand
	books        map[string]Book
	totalOrders  int
	failedOrders int
	partialFills int
	totalSlipBps float64
}

// NewSimulator creates a SlippageSimulator seeded from the given source. A
// fixed seed makes runs reproducible in tests.
func NewSimulator(cfg SimConfig, seed int64) *SlippageSimulator {
	return &SlippageSimulator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		books: make(map[string]Book),
	}
}

// GenerateBook builds a synthetic book for a token: depthLevels levels per
// side at one-cent increments, with per-level liquidity decaying 10% per
// level away from the mid and jittered ±50%.
func (s *SlippageSimulator) GenerateBook(tokenID string, midPrice, spread float64, depthLevels int, avgLevelSize float64) Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateBookLocked(tokenID, midPrice, spread, depthLevels, avgLevelSize)
}

func (s *SlippageSimulator) generateBookLocked(tokenID string, midPrice, spread float64, depthLevels int, avgLevelSize float64) Book {
	bids := make([]BookLevel, 0, depthLevels)
	asks := make([]BookLevel, 0, depthLevels)

	bidPrice := midPrice - spread/2
	askPrice := midPrice + spread/2
	for i := 0; i < depthLevels; i++ {
		decay := 1 - float64(i)*0.1
		if decay < 0 {
			decay = 0
		}
		bids = append(bids, BookLevel{
			Price: bidPrice - float64(i)*0.01,
			Size:  avgLevelSize * decay * (0.5 + s.rng.Float64()),
		})
		asks = append(asks, BookLevel{
			Price: askPrice + float64(i)*0.01,
			Size:  avgLevelSize * decay * (0.5 + s.rng.Float64()),
		})
	}

	book := Book{
		TokenID:   tokenID,
		Bids:      bids,
		Asks:      asks,
		MidPrice:  midPrice,
		Spread:    spread,
		Timestamp: time.Now().UTC(),
	}
	s.books[tokenID] = book
	return book
}

// UpdateBook moves a token's book to a new mid price, or applies a Gaussian
// random walk when midPrice is negative.
func (s *SlippageSimulator) UpdateBook(tokenID string, midPrice, volatility float64) Book {
	s.mu.Lock()
	defer s.mu.Unlock()

	ob, ok := s.books[tokenID]
	if !ok {
		if midPrice < 0 {
			midPrice = 0.5
		}
		return s.generateBookLocked(tokenID, midPrice, 0.02, 10, 500)
	}

	if midPrice < 0 {
		midPrice = clamp(ob.MidPrice+s.rng.NormFloat64()*volatility, 0.01, 0.99)
	}
	return s.generateBookLocked(tokenID, midPrice, ob.Spread, 10, 500)
}

// Book returns the stored book for a token.
func (s *SlippageSimulator) Book(tokenID string) (Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[tokenID]
	return b, ok
}

// SimulateMarketOrder walks the book consuming levels until amountUSDC is
// spent or liquidity runs out, producing a size-weighted average price and
// the slippage against the best price. Failure and partial-fill injection
// happen before the walk and after it respectively.
func (s *SlippageSimulator) SimulateMarketOrder(tokenID string, side domain.OrderSide, amountUSDC float64) SimResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalOrders++
	latency := s.latencyLocked()

	if s.rng.Float64() < s.cfg.FailureRate {
		s.failedOrders++
		return SimResult{Latency: latency, Error: "simulated order failure (market conditions)"}
	}

	book, ok := s.books[tokenID]
	if !ok {
		book = s.generateBookLocked(tokenID, 0.5, 0.02, 10, 500)
	}

	levels := book.Asks
	if side == domain.OrderSideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return SimResult{Latency: latency, Error: "no liquidity available"}
	}

	remaining := amountUSDC
	var fills []Fill
	var totalContracts, totalCost float64
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		levelValue := lvl.Size * lvl.Price
		fillValue := min(remaining, levelValue)
		fillContracts := fillValue / lvl.Price

		fills = append(fills, Fill{Price: lvl.Price, Size: fillContracts, Value: fillValue})
		totalContracts += fillContracts
		totalCost += fillValue
		remaining -= fillValue
	}

	fillPct := (amountUSDC - remaining) / amountUSDC
	if fillPct < 0.99 || s.rng.Float64() < s.cfg.PartialFillRate {
		s.partialFills++
		shrink := 0.70 + s.rng.Float64()*0.25
		totalContracts *= shrink
		totalCost *= shrink
	}

	if totalContracts == 0 {
		return SimResult{Latency: latency, Error: "insufficient liquidity"}
	}

	avgPrice := totalCost / totalContracts
	bestPrice := levels[0].Price
	slippage := avgPrice - bestPrice
	if side == domain.OrderSideSell {
		slippage = bestPrice - avgPrice
	}
	var slippageBps float64
	if bestPrice > 0 {
		slippageBps = slippage / bestPrice * 10_000
	}
	s.totalSlipBps += abs(slippageBps)

	fee := totalCost * (s.cfg.BaseFeeRate + s.cfg.TakerFeeRate)

	return SimResult{
		Success:     true,
		OrderID:     "paper-" + uuid.New().String(),
		FilledSize:  totalContracts,
		AvgPrice:    avgPrice,
		Slippage:    slippage,
		SlippageBps: slippageBps,
		FeeUSD:      fee,
		Latency:     latency,
		Fills:       fills,
	}
}

// SimulateLimitOrder fills at the limit price with no slippage. An order that
// crosses the spread executes as a market order; otherwise it rests and fills
// with 80% probability.
func (s *SlippageSimulator) SimulateLimitOrder(tokenID string, side domain.OrderSide, price, size float64) SimResult {
	s.mu.Lock()
	book, ok := s.books[tokenID]
	if !ok {
		book = s.generateBookLocked(tokenID, 0.5, 0.02, 10, 500)
	}
	crosses := (side == domain.OrderSideBuy && price >= book.BestAsk()) ||
		(side == domain.OrderSideSell && price <= book.BestBid())
	if crosses {
		s.mu.Unlock()
		return s.SimulateMarketOrder(tokenID, side, size*price)
	}

	s.totalOrders++
	latency := s.latencyLocked()
	filled := s.rng.Float64() <= 0.8
	s.mu.Unlock()

	if !filled {
		return SimResult{
			OrderID: "paper-" + uuid.New().String(),
			Latency: latency,
			Error:   "limit order not filled (simulated)",
		}
	}

	fee := size * price * (s.cfg.BaseFeeRate + s.cfg.MakerFeeRate)
	return SimResult{
		Success:    true,
		OrderID:    "paper-" + uuid.New().String(),
		FilledSize: size,
		AvgPrice:   price,
		FeeUSD:     fee,
		Latency:    latency,
	}
}

// Stats returns aggregate execution statistics.
func (s *SlippageSimulator) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SimStats{
		TotalOrders:  s.totalOrders,
		FailedOrders: s.failedOrders,
		PartialFills: s.partialFills,
	}
	if s.totalOrders > 0 {
		st.FailureRatePct = float64(s.failedOrders) / float64(s.totalOrders) * 100
		st.PartialRatePct = float64(s.partialFills) / float64(s.totalOrders) * 100
		st.AvgSlippageBps = s.totalSlipBps / float64(s.totalOrders)
	}
	return st
}

// ResetStats zeroes the execution statistics.
func (s *SlippageSimulator) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalOrders = 0
	s.failedOrders = 0
	s.partialFills = 0
	s.totalSlipBps = 0
}

// latencyLocked draws a Gaussian latency floored at 10ms.
func (s *SlippageSimulator) latencyLocked() time.Duration {
	ms := s.rng.NormFloat64()*s.cfg.LatencyStdMs + s.cfg.AvgLatencyMs
	if ms < 10 {
		ms = 10
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

var _ fmt.Stringer = SimStats{}

// String renders the statistics for log lines.
func (st SimStats) String() string {
	return fmt.Sprintf("orders=%d failed=%.1f%% partial=%.1f%% slippage=%.1fbps",
		st.TotalOrders, st.FailureRatePct, st.PartialRatePct, st.AvgSlippageBps)
}
