// Package report generates periodic performance reports from archived
// positions and uploads them to object storage.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/polyflash/arbbot/internal/domain"
	"github.com/polyflash/arbbot/internal/executor"
)

// Summary is one report period's aggregated performance.
type Summary struct {
	GeneratedAt      time.Time `json:"generated_at"`
	PeriodStart      time.Time `json:"period_start"`
	PositionsSettled int       `json:"positions_settled"`
	Winners          int       `json:"winners"`
	Losers           int       `json:"losers"`
	WinRatePct       float64   `json:"win_rate_pct"`
	RealizedPnL      float64   `json:"realized_pnl"`
	AvgWin           float64   `json:"avg_win"`
	AvgLoss          float64   `json:"avg_loss"`
	TotalVolume      float64   `json:"total_volume"`
	AvgSlippageBps   float64   `json:"avg_slippage_bps,omitempty"`
	FillRatePct      float64   `json:"fill_rate_pct,omitempty"`
}

// Reporter builds Summaries from the position archive and optional paper
// execution stats, then uploads them via a BlobWriter.
type Reporter struct {
	archive domain.PositionArchive
	writer  domain.BlobWriter // nil keeps reports log-only
	sim     *executor.SlippageSimulator
	prefix  string
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Reporter. writer and sim may be nil.
func New(archive domain.PositionArchive, writer domain.BlobWriter, sim *executor.SlippageSimulator, prefix string, logger *slog.Logger) *Reporter {
	if prefix == "" {
		prefix = "reports"
	}
	return &Reporter{
		archive: archive,
		writer:  writer,
		sim:     sim,
		prefix:  prefix,
		logger:  logger.With(slog.String("component", "reporter")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Generate builds a Summary for positions settled since the given time.
func (r *Reporter) Generate(ctx context.Context, since time.Time) (Summary, error) {
	positions, err := r.archive.ListSettled(ctx, since, 10000)
	if err != nil {
		return Summary{}, fmt.Errorf("report: list settled: %w", err)
	}

	s := Summary{
		GeneratedAt:      r.now(),
		PeriodStart:      since,
		PositionsSettled: len(positions),
	}

	var winSum, lossSum float64
	for _, p := range positions {
		if p.RealizedPnL == nil {
			continue
		}
		pnl := *p.RealizedPnL
		s.RealizedPnL += pnl
		s.TotalVolume += p.TotalCost
		if pnl >= 0 {
			s.Winners++
			winSum += pnl
		} else {
			s.Losers++
			lossSum += pnl
		}
	}
	if len(positions) > 0 {
		s.WinRatePct = float64(s.Winners) / float64(len(positions)) * 100
	}
	if s.Winners > 0 {
		s.AvgWin = winSum / float64(s.Winners)
	}
	if s.Losers > 0 {
		s.AvgLoss = math.Abs(lossSum / float64(s.Losers))
	}

	if r.sim != nil {
		stats := r.sim.Stats()
		if stats.TotalOrders > 0 {
			s.AvgSlippageBps = stats.AvgSlippageBps
			s.FillRatePct = 100 - stats.FailureRatePct
		}
	}

	return s, nil
}

// Publish generates the Summary and uploads it as JSON keyed by report date.
// Without a blob writer the summary is only logged.
func (r *Reporter) Publish(ctx context.Context, since time.Time) (Summary, error) {
	s, err := r.Generate(ctx, since)
	if err != nil {
		return Summary{}, err
	}

	r.logger.Info("performance report",
		slog.Int("positions_settled", s.PositionsSettled),
		slog.Float64("win_rate_pct", s.WinRatePct),
		slog.Float64("realized_pnl", s.RealizedPnL),
		slog.Float64("total_volume", s.TotalVolume),
	)

	if r.writer == nil {
		return s, nil
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return Summary{}, fmt.Errorf("report: marshal: %w", err)
	}

	key := fmt.Sprintf("%s/%s.json", r.prefix, s.GeneratedAt.Format("2006-01-02T15-04-05"))
	if err := r.writer.Write(ctx, key, data, "application/json"); err != nil {
		return Summary{}, fmt.Errorf("report: upload: %w", err)
	}
	r.logger.Info("report uploaded", slog.String("key", key))
	return s, nil
}

// Run publishes a report every interval until ctx is cancelled. Each report
// covers the time since the previous one.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := r.now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Publish(ctx, last); err != nil {
				r.logger.Error("report publish failed", slog.String("error", err.Error()))
				continue
			}
			last = r.now()
		}
	}
}
