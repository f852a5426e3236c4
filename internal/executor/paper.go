package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/polyflash/arbbot/internal/domain"
)

// PaperGateway implements domain.OrderGateway against the SlippageSimulator.
// Simulated latency is an actual suspension before returning, so callers
// timing order placement observe realistic durations.
type PaperGateway struct {
	sim    *SlippageSimulator
	logger *slog.Logger
}

// NewPaperGateway creates a paper-trading gateway backed by sim.
func NewPaperGateway(sim *SlippageSimulator, logger *slog.Logger) *PaperGateway {
	return &PaperGateway{
		sim:    sim,
		logger: logger.With(slog.String("component", "paper_gateway")),
	}
}

// Simulator exposes the underlying simulator so the paper feed can share its
// synthetic books.
func (g *PaperGateway) Simulator() *SlippageSimulator { return g.sim }

// PlaceMarketOrder simulates a market order and sleeps the drawn latency.
func (g *PaperGateway) PlaceMarketOrder(ctx context.Context, tokenID string, side domain.OrderSide, amountUSDC float64, orderType domain.OrderType) (domain.OrderResult, error) {
	_ = orderType // simulated market orders are always all-or-whatever-fills

	res := g.sim.SimulateMarketOrder(tokenID, side, amountUSDC)

	select {
	case <-ctx.Done():
		return domain.OrderResult{}, ctx.Err()
	case <-time.After(res.Latency):
	}

	if !res.Success {
		g.logger.Warn("paper order failed",
			slog.String("token_id", truncate(tokenID)),
			slog.String("side", string(side)),
			slog.String("error", res.Error),
		)
		return domain.OrderResult{Error: res.Error}, nil
	}

	g.logger.Info("paper order executed",
		slog.String("token_id", truncate(tokenID)),
		slog.String("side", string(side)),
		slog.Float64("amount_usdc", amountUSDC),
		slog.Float64("filled", res.FilledSize),
		slog.Float64("avg_price", res.AvgPrice),
		slog.Float64("slippage_bps", res.SlippageBps),
		slog.Duration("latency", res.Latency),
	)

	return domain.OrderResult{
		Success:    true,
		OrderID:    res.OrderID,
		FilledSize: res.FilledSize,
		AvgPrice:   res.AvgPrice,
		FeeUSD:     res.FeeUSD,
	}, nil
}

// CancelOrder is a no-op in paper mode; simulated orders never rest.
func (g *PaperGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.logger.Debug("paper order cancelled", slog.String("order_id", orderID))
	return nil
}

func truncate(tokenID string) string {
	if len(tokenID) > 20 {
		return tokenID[:20] + "..."
	}
	return tokenID
}
