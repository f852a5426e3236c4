// Package detector watches per-market spread history for dislocations: sudden
// combined-price moves relative to the recent rolling average. A narrowing
// dislocation signals that the missing leg of a stuck partial position has
// become cheap enough to complete the hedge.
package detector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/polyflash/arbbot/internal/domain"
)

const debounceInterval = 5 * time.Second

// Direction of a spread move. Widening means the combined cost increased.
type Direction string

const (
	DirectionWidening  Direction = "widening"
	DirectionNarrowing Direction = "narrowing"
)

// Event describes a detected dislocation.
type Event struct {
	MarketID        string
	Direction       Direction
	OldSpread       float64 // rolling average before the move
	NewSpread       float64
	SpreadChange    float64
	SpreadChangePct float64
	Timestamp       time.Time
}

// Stats summarizes the spread history held for one market.
type Stats struct {
	Count         int
	CurrentSpread float64
	AvgSpread     float64
	MinSpread     float64
	MaxSpread     float64
	SpreadRange   float64
	CurrentUp     float64
	CurrentDown   float64
	Oldest        time.Time
	Latest        time.Time
}

type pricePoint struct {
	ts     time.Time
	up     float64
	down   float64
	spread float64
}

// Config holds dislocation detection thresholds.
type Config struct {
	WindowSize      int           // rolling window length, default 20
	ThresholdPct    float64       // minimum relative change, default 2.0 (%)
	MinSpreadChange float64       // minimum absolute change, default $0.01
	Lookback        time.Duration // averaging window, default 60s
}

func (c *Config) applyDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.ThresholdPct <= 0 {
		c.ThresholdPct = 2.0
	}
	if c.MinSpreadChange <= 0 {
		c.MinSpreadChange = 0.01
	}
	if c.Lookback <= 0 {
		c.Lookback = 60 * time.Second
	}
}

// DislocationDetector maintains a fixed-size rolling window of spread
// observations per market. Safe for concurrent use.
type DislocationDetector struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	history  map[string][]pricePoint
	lastFire map[string]time.Time
}

// New creates a DislocationDetector, filling zero config fields with
// defaults.
func New(cfg Config, logger *slog.Logger) *DislocationDetector {
	cfg.applyDefaults()
	return &DislocationDetector{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "dislocation_detector")),
		now:      func() time.Time { return time.Now().UTC() },
		history:  make(map[string][]pricePoint),
		lastFire: make(map[string]time.Time),
	}
}

// UpdatePrice records a new quote and returns a non-nil Event when the move
// qualifies as a dislocation. Repeated events for the same market are
// suppressed for 5 seconds so a noisy feed cannot cause an alert storm.
func (d *DislocationDetector) UpdatePrice(marketID string, upPrice, downPrice float64) *Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	point := pricePoint{ts: now, up: upPrice, down: downPrice, spread: upPrice + downPrice}

	hist := append(d.history[marketID], point)
	if len(hist) > d.cfg.WindowSize {
		hist = hist[len(hist)-d.cfg.WindowSize:]
	}
	d.history[marketID] = hist

	if len(hist) < 2 {
		return nil
	}

	// Average over the lookback window, excluding the point just added.
	cutoff := now.Add(-d.cfg.Lookback)
	var sum float64
	var n int
	for _, p := range hist[:len(hist)-1] {
		if !p.ts.Before(cutoff) {
			sum += p.spread
			n++
		}
	}
	if n < 1 {
		return nil
	}
	avg := sum / float64(n)

	change := point.spread - avg
	var changePct float64
	if avg > 0 {
		changePct = change / avg * 100
	}

	if abs(changePct) < d.cfg.ThresholdPct || abs(change) < d.cfg.MinSpreadChange {
		return nil
	}

	if last, ok := d.lastFire[marketID]; ok && now.Sub(last) < debounceInterval {
		return nil
	}
	d.lastFire[marketID] = now

	dir := DirectionNarrowing
	if change > 0 {
		dir = DirectionWidening
	}
	event := &Event{
		MarketID:        marketID,
		Direction:       dir,
		OldSpread:       avg,
		NewSpread:       point.spread,
		SpreadChange:    change,
		SpreadChangePct: changePct,
		Timestamp:       now,
	}

	d.logger.Info("dislocation detected",
		slog.String("market_id", marketID),
		slog.String("direction", string(dir)),
		slog.Float64("old_spread", avg),
		slog.Float64("new_spread", point.spread),
		slog.Float64("change_pct", changePct),
	)

	return event
}

// IsFavorable reports whether a dislocation makes completing the missing leg
// of a held partial position attractive. Only a narrowing spread that remains
// under $1.00 qualifies; widening moves cannot be attributed to a single side
// without per-leg price detail, so they are never treated as favorable.
func (d *DislocationDetector) IsFavorable(event Event, holdingSide domain.OutcomeSide) bool {
	_ = holdingSide
	if event.Direction != DirectionNarrowing {
		return false
	}
	return event.NewSpread < 1.0
}

// SpreadStats returns summary statistics for a market's spread history. ok is
// false when no history exists.
func (d *DislocationDetector) SpreadStats(marketID string) (Stats, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hist := d.history[marketID]
	if len(hist) == 0 {
		return Stats{}, false
	}

	latest := hist[len(hist)-1]
	stats := Stats{
		Count:         len(hist),
		CurrentSpread: latest.spread,
		MinSpread:     latest.spread,
		MaxSpread:     latest.spread,
		CurrentUp:     latest.up,
		CurrentDown:   latest.down,
		Oldest:        hist[0].ts,
		Latest:        latest.ts,
	}

	var sum float64
	for _, p := range hist {
		sum += p.spread
		if p.spread < stats.MinSpread {
			stats.MinSpread = p.spread
		}
		if p.spread > stats.MaxSpread {
			stats.MaxSpread = p.spread
		}
	}
	stats.AvgSpread = sum / float64(len(hist))
	stats.SpreadRange = stats.MaxSpread - stats.MinSpread
	return stats, true
}

// ClearHistory drops the history for one market, or all markets when
// marketID is empty.
func (d *DislocationDetector) ClearHistory(marketID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if marketID == "" {
		d.history = make(map[string][]pricePoint)
		d.lastFire = make(map[string]time.Time)
		return
	}
	delete(d.history, marketID)
	delete(d.lastFire, marketID)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
