package domain

import (
	"math"
	"time"
)

// PositionState tracks the lifecycle of a two-leg arbitrage position.
type PositionState string

const (
	// PositionPendingEntry means the first leg order has been submitted but
	// nothing has filled yet.
	PositionPendingEntry PositionState = "pending_entry"
	// PositionPartial means exactly one leg has filled. This is an expected
	// outcome, not an error: the exchange offers no atomic two-leg primitive.
	PositionPartial PositionState = "partial"
	// PositionComplete means both legs have nonzero filled contracts.
	PositionComplete PositionState = "complete"
	// PositionPendingExit marks a position being unwound before resolution,
	// e.g. a timed-out partial.
	PositionPendingExit PositionState = "pending_exit"
	// PositionSettled is terminal: the market resolved and PnL is realized.
	PositionSettled PositionState = "settled"
)

// Leg holds the filled state of one side of a position.
type Leg struct {
	TokenID   string
	Contracts float64
	AvgPrice  float64
	OrderID   string
}

// Notional is the USDC cost of the filled contracts.
func (l Leg) Notional() float64 {
	return l.Contracts * l.AvgPrice
}

// Position is the ledger's central entity: both legs of a delta-neutral
// arbitrage, its cost basis, and its settlement outcome. Positions are owned
// exclusively by the PositionLedger; no other component mutates them.
type Position struct {
	ID       string
	MarketID string
	Asset    string
	State    PositionState

	Up   Leg
	Down Leg

	TotalCost       float64
	SettlementValue *float64
	RealizedPnL     *float64

	CreatedAt time.Time
	UpdatedAt time.Time
	SettledAt *time.Time
}

// Delta is the unhedged contract imbalance between the two legs. A nonzero
// delta after both legs were attempted signals a Partial position.
func (p Position) Delta() float64 {
	return p.Up.Contracts - p.Down.Contracts
}

// IsDeltaNeutral reports whether the legs are balanced to within 1% of the
// larger leg.
func (p Position) IsDeltaNeutral() bool {
	largest := math.Max(math.Max(p.Up.Contracts, p.Down.Contracts), 1)
	return math.Abs(p.Delta()) < 0.01*largest
}

// CombinedAvgPrice is the cost per fully hedged contract pair.
func (p Position) CombinedAvgPrice() float64 {
	return p.Up.AvgPrice + p.Down.AvgPrice
}

// ExpectedProfitPerContract is the locked-in edge per hedged pair, since the
// winning side always pays out $1.00.
func (p Position) ExpectedProfitPerContract() float64 {
	return 1.0 - p.CombinedAvgPrice()
}

// UnrealizedPnL values the hedged portion of the position assuming settlement
// at $1.00. Unhedged contracts carry directional risk and are not counted.
func (p Position) UnrealizedPnL() float64 {
	hedged := math.Min(p.Up.Contracts, p.Down.Contracts)
	return hedged * p.ExpectedProfitPerContract()
}

// Leg returns the leg for the given side.
func (p Position) Leg(side OutcomeSide) Leg {
	if side == OutcomeUp {
		return p.Up
	}
	return p.Down
}

// HeldSide returns the filled side of a partial position. ok is false if the
// position is not one-sided.
func (p Position) HeldSide() (OutcomeSide, bool) {
	switch {
	case p.Up.Contracts > 0 && p.Down.Contracts == 0:
		return OutcomeUp, true
	case p.Down.Contracts > 0 && p.Up.Contracts == 0:
		return OutcomeDown, true
	default:
		return "", false
	}
}
