package domain

import (
	"strings"
	"time"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// OutcomeSide names one of the two complementary outcome tokens. Flash
// markets use UP/DOWN, most other binary markets use YES/NO; the arithmetic
// is identical so UP is treated as the canonical first side.
type OutcomeSide string

const (
	OutcomeUp   OutcomeSide = "UP"
	OutcomeDown OutcomeSide = "DOWN"
)

// ParseOutcomeSide maps the exchange's outcome labels onto the canonical
// UP/DOWN pair. YES maps to UP and NO maps to DOWN.
func ParseOutcomeSide(s string) (OutcomeSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP", "YES":
		return OutcomeUp, true
	case "DOWN", "NO":
		return OutcomeDown, true
	default:
		return "", false
	}
}

// Opposite returns the complementary side.
func (s OutcomeSide) Opposite() OutcomeSide {
	if s == OutcomeUp {
		return OutcomeDown
	}
	return OutcomeUp
}

// Market is a read-only snapshot of a binary-outcome market. It is refreshed
// on every scan cycle and never mutated by the trading core.
type Market struct {
	ID          string
	ConditionID string
	Question    string
	Slug        string
	Asset       string // BTC, ETH, SOL for crypto flash markets
	UpTokenID   string
	DownTokenID string
	StartTime   time.Time
	EndTime     time.Time
	Volume      float64
	Status      MarketStatus
}

// TokenID returns the token id for the given side.
func (m Market) TokenID(side OutcomeSide) string {
	if side == OutcomeUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// TimeToClose returns the seconds remaining until the market closes, clamped
// at zero. The second return is false when no end time is known.
func (m Market) TimeToClose(now time.Time) (float64, bool) {
	if m.EndTime.IsZero() {
		return 0, false
	}
	secs := m.EndTime.Sub(now).Seconds()
	if secs < 0 {
		secs = 0
	}
	return secs, true
}

// IsClosed reports whether the market has passed its end time.
func (m Market) IsClosed(now time.Time) bool {
	if m.EndTime.IsZero() {
		return m.Status != MarketStatusActive
	}
	return !now.Before(m.EndTime) || m.Status != MarketStatusActive
}
