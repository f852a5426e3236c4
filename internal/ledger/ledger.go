// Package ledger owns the lifecycle of every two-leg arbitrage position:
// entry (leg by leg), partial-fill tracking, settlement, and realized PnL.
// The ledger's in-memory map is the single authority over live positions.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyflash/arbbot/internal/domain"
)

// OrderPlacer is the execution surface the ledger needs: FOK market orders
// with retries already applied. Implemented by executor.Engine.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, tokenID string, side domain.OrderSide, amountUSDC float64) (domain.OrderResult, error)
}

// Summary aggregates the ledger's state for status reporting.
type Summary struct {
	TotalPositions   int
	OpenPositions    int
	PartialPositions int
	SettledPositions int
	TotalExposure    float64
	UnrealizedPnL    float64
	RealizedPnL      float64
	TotalTrades      int
}

// Ledger tracks positions and their trades. Safe for concurrent use; only
// the Ledger transitions position state, so the settlement path can never
// race the open path for the same id.
type Ledger struct {
	orders  OrderPlacer
	archive domain.PositionArchive // optional; nil disables archival
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	positions map[string]*domain.Position
	trades    []domain.Trade
}

// New creates a Ledger. archive may be nil.
func New(orders OrderPlacer, archive domain.PositionArchive, logger *slog.Logger) *Ledger {
	return &Ledger{
		orders:    orders,
		archive:   archive,
		logger:    logger.With(slog.String("component", "position_ledger")),
		now:       func() time.Time { return time.Now().UTC() },
		positions: make(map[string]*domain.Position),
	}
}

// OpenPosition buys equal notional of both outcome tokens for the given
// opportunity. Leg A (UP) is fully resolved before leg B (DOWN) is attempted:
// sequential risk control, so a failed hedge is discovered before more
// capital commits, at the cost of a possible Partial position.
//
// If leg A fails no position is recorded at all. If leg B fails the position
// is kept in Partial state — an expected outcome that must be monitored, not
// an error.
func (l *Ledger) OpenPosition(ctx context.Context, opp domain.Opportunity, sizeUSDC float64) (*domain.Position, error) {
	market := opp.Market
	if market.UpTokenID == "" || market.DownTokenID == "" {
		return nil, fmt.Errorf("ledger: market %s has no token pair", market.ID)
	}

	now := l.now()
	pos := &domain.Position{
		ID:        uuid.New().String(),
		MarketID:  market.ID,
		Asset:     market.Asset,
		State:     domain.PositionPendingEntry,
		Up:        domain.Leg{TokenID: market.UpTokenID},
		Down:      domain.Leg{TokenID: market.DownTokenID},
		CreatedAt: now,
		UpdatedAt: now,
	}

	legAmount := sizeUSDC / 2

	l.logger.Info("opening position",
		slog.String("position_id", pos.ID),
		slog.String("market_id", market.ID),
		slog.String("asset", market.Asset),
		slog.Float64("size_usdc", sizeUSDC),
	)

	upResult, err := l.orders.PlaceMarketOrder(ctx, market.UpTokenID, domain.OrderSideBuy, legAmount)
	if err != nil {
		return nil, fmt.Errorf("ledger: up leg: %w", err)
	}
	if !upResult.Success {
		// Nothing filled, nothing persisted: the attempt never became a position.
		l.logger.Error("up leg failed, aborting entry",
			slog.String("position_id", pos.ID),
			slog.String("error", upResult.Error),
		)
		return nil, nil
	}

	pos.Up.OrderID = upResult.OrderID
	pos.Up.Contracts = upResult.FilledSize
	pos.Up.AvgPrice = fillPrice(upResult, opp.UpPrice)
	pos.State = domain.PositionPartial
	pos.TotalCost = pos.Up.Notional()
	pos.UpdatedAt = l.now()
	l.recordTrade(pos, domain.OutcomeUp, upResult)

	downResult, err := l.orders.PlaceMarketOrder(ctx, market.DownTokenID, domain.OrderSideBuy, legAmount)
	if err != nil {
		// The up leg already filled; keep the partial so it can be recovered.
		l.store(pos)
		return pos, fmt.Errorf("ledger: down leg: %w", err)
	}
	if !downResult.Success {
		l.logger.Warn("down leg failed, position is partial",
			slog.String("position_id", pos.ID),
			slog.String("error", downResult.Error),
		)
		l.store(pos)
		return pos, nil
	}

	pos.Down.OrderID = downResult.OrderID
	pos.Down.Contracts = downResult.FilledSize
	pos.Down.AvgPrice = fillPrice(downResult, opp.DownPrice)
	pos.State = domain.PositionComplete
	pos.TotalCost = pos.Up.Notional() + pos.Down.Notional()
	pos.UpdatedAt = l.now()
	l.recordTrade(pos, domain.OutcomeDown, downResult)

	l.store(pos)

	l.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.Float64("up_contracts", pos.Up.Contracts),
		slog.Float64("down_contracts", pos.Down.Contracts),
		slog.Float64("total_cost", pos.TotalCost),
		slog.Float64("expected_profit", pos.UnrealizedPnL()),
	)

	return pos, nil
}

// CompleteLeg attempts the missing leg of a partial position, typically after
// a favorable dislocation. The caller is responsible for fresh risk and
// liquidity checks before invoking it.
func (l *Ledger) CompleteLeg(ctx context.Context, positionID string, price float64) (*domain.Position, error) {
	l.mu.Lock()
	pos, ok := l.positions[positionID]
	if !ok {
		l.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if pos.State != domain.PositionPartial {
		l.mu.Unlock()
		return nil, fmt.Errorf("ledger: position %s is %s, not partial", positionID, pos.State)
	}
	held, ok := pos.HeldSide()
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("ledger: position %s has no single held side", positionID)
	}
	missing := held.Opposite()
	tokenID := pos.Leg(missing).TokenID
	amount := pos.Leg(held).Contracts * price
	l.mu.Unlock()

	res, err := l.orders.PlaceMarketOrder(ctx, tokenID, domain.OrderSideBuy, amount)
	if err != nil {
		return nil, fmt.Errorf("ledger: complete %s leg: %w", missing, err)
	}
	if !res.Success {
		l.logger.Warn("leg completion failed",
			slog.String("position_id", positionID),
			slog.String("error", res.Error),
		)
		return l.snapshot(positionID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	leg := domain.Leg{
		TokenID:   tokenID,
		OrderID:   res.OrderID,
		Contracts: res.FilledSize,
		AvgPrice:  fillPrice(res, price),
	}
	if missing == domain.OutcomeUp {
		pos.Up = leg
	} else {
		pos.Down = leg
	}
	pos.State = domain.PositionComplete
	pos.TotalCost = pos.Up.Notional() + pos.Down.Notional()
	pos.UpdatedAt = l.now()
	l.recordTradeLocked(pos, missing, res)

	l.logger.Info("partial position completed",
		slog.String("position_id", positionID),
		slog.String("side", string(missing)),
		slog.Float64("contracts", res.FilledSize),
	)

	cp := *pos
	return &cp, nil
}

// ForceExit unwinds a position before resolution by selling both filled
// legs. The position moves to PendingExit for the duration of the unwind and
// settles with the sale proceeds as its settlement value.
func (l *Ledger) ForceExit(ctx context.Context, positionID string) (*domain.Position, error) {
	l.mu.Lock()
	pos, ok := l.positions[positionID]
	if !ok {
		l.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if pos.State == domain.PositionSettled {
		l.mu.Unlock()
		return nil, domain.ErrSettlementReplay
	}
	pos.State = domain.PositionPendingExit
	pos.UpdatedAt = l.now()
	up, down := pos.Up, pos.Down
	l.mu.Unlock()

	var proceeds float64
	for _, leg := range []struct {
		side domain.OutcomeSide
		leg  domain.Leg
	}{{domain.OutcomeUp, up}, {domain.OutcomeDown, down}} {
		if leg.leg.Contracts <= 0 {
			continue
		}
		res, err := l.orders.PlaceMarketOrder(ctx, leg.leg.TokenID, domain.OrderSideSell, leg.leg.Notional())
		if err != nil {
			return nil, fmt.Errorf("ledger: force exit %s leg: %w", leg.side, err)
		}
		if !res.Success {
			l.logger.Error("force exit leg failed",
				slog.String("position_id", positionID),
				slog.String("side", string(leg.side)),
				slog.String("error", res.Error),
			)
			return l.snapshot(positionID)
		}
		proceeds += res.FilledSize * res.AvgPrice
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	pnl := proceeds - pos.TotalCost
	pos.SettlementValue = &proceeds
	pos.RealizedPnL = &pnl
	pos.State = domain.PositionSettled
	pos.SettledAt = &now
	pos.UpdatedAt = now
	l.archiveLocked(ctx, pos)

	l.logger.Info("position force-exited",
		slog.String("position_id", positionID),
		slog.Float64("proceeds", proceeds),
		slog.Float64("realized_pnl", pnl),
	)

	cp := *pos
	return &cp, nil
}

// MarkSettled realizes a position's PnL after the market resolved: the
// winning side pays $1.00 per contract. RealizedPnL is assigned exactly
// once; settling an already-settled position is a programming error and
// returns ErrSettlementReplay without mutating anything.
func (l *Ledger) MarkSettled(ctx context.Context, positionID string, winningSide domain.OutcomeSide) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if pos.State == domain.PositionSettled {
		return nil, domain.ErrSettlementReplay
	}

	settlement := pos.Leg(winningSide).Contracts * 1.0
	pnl := settlement - pos.TotalCost
	now := l.now()

	pos.SettlementValue = &settlement
	pos.RealizedPnL = &pnl
	pos.State = domain.PositionSettled
	pos.SettledAt = &now
	pos.UpdatedAt = now
	l.archiveLocked(ctx, pos)

	l.logger.Info("position settled",
		slog.String("position_id", positionID),
		slog.String("winning_side", string(winningSide)),
		slog.Float64("settlement_value", settlement),
		slog.Float64("realized_pnl", pnl),
	)

	cp := *pos
	return &cp, nil
}

// Get returns a copy of the position with the given id.
func (l *Ledger) Get(positionID string) (*domain.Position, error) {
	return l.snapshot(positionID)
}

// OpenPositions returns copies of all non-settled positions.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Position
	for _, p := range l.positions {
		if p.State != domain.PositionSettled {
			out = append(out, *p)
		}
	}
	return out
}

// PartialPositions returns copies of positions with exactly one filled leg.
func (l *Ledger) PartialPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Position
	for _, p := range l.positions {
		if p.State == domain.PositionPartial {
			out = append(out, *p)
		}
	}
	return out
}

// PositionsForMarket returns copies of all positions in the given market.
func (l *Ledger) PositionsForMarket(marketID string) []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Position
	for _, p := range l.positions {
		if p.MarketID == marketID {
			out = append(out, *p)
		}
	}
	return out
}

// TotalExposure sums cost basis across all non-settled positions.
func (l *Ledger) TotalExposure() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, p := range l.positions {
		if p.State != domain.PositionSettled {
			total += p.TotalCost
		}
	}
	return total
}

// UnrealizedPnL values the hedged portion of all open positions assuming
// settlement at $1.00.
func (l *Ledger) UnrealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, p := range l.positions {
		if p.State != domain.PositionSettled {
			total += p.UnrealizedPnL()
		}
	}
	return total
}

// RealizedPnL sums realized PnL across settled positions.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, p := range l.positions {
		if p.State == domain.PositionSettled && p.RealizedPnL != nil {
			total += *p.RealizedPnL
		}
	}
	return total
}

// Trades returns recorded fills, filtered by position id when non-empty.
func (l *Ledger) Trades(positionID string) []domain.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	if positionID == "" {
		out := make([]domain.Trade, len(l.trades))
		copy(out, l.trades)
		return out
	}
	var out []domain.Trade
	for _, t := range l.trades {
		if t.PositionID == positionID {
			out = append(out, t)
		}
	}
	return out
}

// Summarize aggregates ledger state for status reporting.
func (l *Ledger) Summarize() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{TotalPositions: len(l.positions), TotalTrades: len(l.trades)}
	for _, p := range l.positions {
		if p.State == domain.PositionSettled {
			s.SettledPositions++
			if p.RealizedPnL != nil {
				s.RealizedPnL += *p.RealizedPnL
			}
			continue
		}
		if p.State == domain.PositionPartial {
			s.PartialPositions++
		}
		s.OpenPositions++
		s.TotalExposure += p.TotalCost
		s.UnrealizedPnL += p.UnrealizedPnL()
	}
	return s
}

func (l *Ledger) store(pos *domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[pos.ID] = pos
}

func (l *Ledger) snapshot(positionID string) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[positionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *pos
	return &cp, nil
}

func (l *Ledger) recordTrade(pos *domain.Position, outcome domain.OutcomeSide, res domain.OrderResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordTradeLocked(pos, outcome, res)
}

func (l *Ledger) recordTradeLocked(pos *domain.Position, outcome domain.OutcomeSide, res domain.OrderResult) {
	if res.OrderID == "" {
		return
	}
	l.trades = append(l.trades, domain.Trade{
		ID:         uuid.New().String(),
		PositionID: pos.ID,
		OrderID:    res.OrderID,
		MarketID:   pos.MarketID,
		TokenID:    pos.Leg(outcome).TokenID,
		Outcome:    outcome,
		Side:       domain.OrderSideBuy,
		Price:      pos.Leg(outcome).AvgPrice,
		Size:       res.FilledSize,
		FeeUSD:     res.FeeUSD,
		ExecutedAt: l.now(),
	})
}

// archiveLocked persists a settled position; archival failures are logged
// and never block settlement, since the in-memory map stays authoritative.
func (l *Ledger) archiveLocked(ctx context.Context, pos *domain.Position) {
	if l.archive == nil {
		return
	}
	if err := l.archive.Record(ctx, *pos); err != nil {
		l.logger.Warn("position archive failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func fillPrice(res domain.OrderResult, quoted float64) float64 {
	if res.AvgPrice > 0 {
		return res.AvgPrice
	}
	return quoted
}
