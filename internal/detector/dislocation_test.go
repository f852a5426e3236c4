package detector

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyflash/arbbot/internal/domain"
)

// fakeClock lets tests step the detector's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDetector(t *testing.T) (*DislocationDetector, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	d := New(Config{
		WindowSize:      20,
		ThresholdPct:    2.0,
		MinSpreadChange: 0.01,
		Lookback:        60 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.now = clock.now
	return d, clock
}

// feedStable records n identical observations one second apart.
func feedStable(d *DislocationDetector, clock *fakeClock, marketID string, up, down float64, n int) {
	for i := 0; i < n; i++ {
		d.UpdatePrice(marketID, up, down)
		clock.advance(time.Second)
	}
}

func TestUpdatePrice_NarrowingDislocation(t *testing.T) {
	d, clock := newTestDetector(t)

	feedStable(d, clock, "mkt", 0.52, 0.50, 5) // spread 1.02

	event := d.UpdatePrice("mkt", 0.48, 0.49) // spread 0.97, -4.9%
	require.NotNil(t, event)
	assert.Equal(t, DirectionNarrowing, event.Direction)
	assert.InDelta(t, 1.02, event.OldSpread, 1e-9)
	assert.InDelta(t, 0.97, event.NewSpread, 1e-9)
	assert.Less(t, event.SpreadChangePct, -2.0)
}

func TestUpdatePrice_WideningDislocation(t *testing.T) {
	d, clock := newTestDetector(t)

	feedStable(d, clock, "mkt", 0.50, 0.50, 5)

	event := d.UpdatePrice("mkt", 0.55, 0.50)
	require.NotNil(t, event)
	assert.Equal(t, DirectionWidening, event.Direction)
}

func TestUpdatePrice_BelowThresholds(t *testing.T) {
	d, clock := newTestDetector(t)

	feedStable(d, clock, "mkt", 0.50, 0.50, 5)

	// 1.5% relative move fails the percentage threshold.
	assert.Nil(t, d.UpdatePrice("mkt", 0.515, 0.50))

	// A tiny absolute move on a tiny spread fails the $0.01 floor.
	d2, clock2 := newTestDetector(t)
	feedStable(d2, clock2, "mkt", 0.05, 0.05, 5)
	assert.Nil(t, d2.UpdatePrice("mkt", 0.053, 0.05))
}

func TestUpdatePrice_NeedsHistory(t *testing.T) {
	d, _ := newTestDetector(t)

	assert.Nil(t, d.UpdatePrice("mkt", 0.60, 0.60))
}

func TestUpdatePrice_Debounce(t *testing.T) {
	d, clock := newTestDetector(t)

	feedStable(d, clock, "mkt", 0.50, 0.50, 5)

	require.NotNil(t, d.UpdatePrice("mkt", 0.45, 0.45))

	// A second qualifying move within 5s is suppressed.
	clock.advance(2 * time.Second)
	assert.Nil(t, d.UpdatePrice("mkt", 0.55, 0.55))

	// After the debounce interval events fire again.
	clock.advance(4 * time.Second)
	assert.NotNil(t, d.UpdatePrice("mkt", 0.60, 0.60))
}

func TestUpdatePrice_LookbackExcludesOldPoints(t *testing.T) {
	d, clock := newTestDetector(t)

	// Two points, then a long quiet gap pushes both outside the lookback.
	d.UpdatePrice("mkt", 0.50, 0.50)
	clock.advance(time.Second)
	d.UpdatePrice("mkt", 0.50, 0.50)
	clock.advance(10 * time.Minute)

	// No in-window history to average against, so no event.
	assert.Nil(t, d.UpdatePrice("mkt", 0.40, 0.40))
}

func TestIsFavorable(t *testing.T) {
	d, _ := newTestDetector(t)

	narrowingUnderOne := Event{Direction: DirectionNarrowing, NewSpread: 0.97}
	assert.True(t, d.IsFavorable(narrowingUnderOne, domain.OutcomeUp))
	assert.True(t, d.IsFavorable(narrowingUnderOne, domain.OutcomeDown))

	narrowingOverOne := Event{Direction: DirectionNarrowing, NewSpread: 1.01}
	assert.False(t, d.IsFavorable(narrowingOverOne, domain.OutcomeUp))

	widening := Event{Direction: DirectionWidening, NewSpread: 0.95}
	assert.False(t, d.IsFavorable(widening, domain.OutcomeUp))
}

func TestSpreadStats(t *testing.T) {
	d, clock := newTestDetector(t)

	d.UpdatePrice("mkt", 0.50, 0.50) // 1.00
	clock.advance(time.Second)
	d.UpdatePrice("mkt", 0.52, 0.50) // 1.02
	clock.advance(time.Second)
	d.UpdatePrice("mkt", 0.48, 0.50) // 0.98

	stats, ok := d.SpreadStats("mkt")
	require.True(t, ok)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 0.98, stats.CurrentSpread, 1e-9)
	assert.InDelta(t, 1.00, stats.AvgSpread, 1e-9)
	assert.InDelta(t, 0.98, stats.MinSpread, 1e-9)
	assert.InDelta(t, 1.02, stats.MaxSpread, 1e-9)
	assert.InDelta(t, 0.04, stats.SpreadRange, 1e-9)

	_, ok = d.SpreadStats("unknown")
	assert.False(t, ok)
}

func TestClearHistory(t *testing.T) {
	d, clock := newTestDetector(t)

	feedStable(d, clock, "a", 0.50, 0.50, 3)
	feedStable(d, clock, "b", 0.50, 0.50, 3)

	d.ClearHistory("a")
	_, ok := d.SpreadStats("a")
	assert.False(t, ok)
	_, ok = d.SpreadStats("b")
	assert.True(t, ok)

	d.ClearHistory("")
	_, ok = d.SpreadStats("b")
	assert.False(t, ok)
}

func TestWindowSizeBound(t *testing.T) {
	d, clock := newTestDetector(t)

	feedStable(d, clock, "mkt", 0.50, 0.50, 30)

	stats, ok := d.SpreadStats("mkt")
	require.True(t, ok)
	assert.Equal(t, 20, stats.Count)
}
