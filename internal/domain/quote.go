package domain

import (
	"context"
	"time"
)

// Quote is a best-ask snapshot for both outcome tokens of one market.
type Quote struct {
	MarketID      string
	UpPrice       float64 // best ask for the UP token
	DownPrice     float64 // best ask for the DOWN token
	UpLiquidity   float64 // USDC depth available at the UP ask
	DownLiquidity float64 // USDC depth available at the DOWN ask
	Timestamp     time.Time
}

// Spread is the combined cost of buying one contract on each side.
func (q Quote) Spread() float64 {
	return q.UpPrice + q.DownPrice
}

// Resolution reports the outcome of a resolved market.
type Resolution struct {
	MarketID    string
	WinningSide OutcomeSide
	ResolvedAt  time.Time
}

// QuoteSource supplies market metadata and live quotes. Implementations talk
// to the exchange (or simulate it); the trading core only consumes this port.
type QuoteSource interface {
	// ScanMarkets returns the currently tradeable flash markets.
	ScanMarkets(ctx context.Context) ([]Market, error)
	// GetQuote returns the current best-ask quote for a market, or
	// ErrNotFound when no book exists on one of the sides.
	GetQuote(ctx context.Context, market Market) (Quote, error)
	// Resolutions returns markets that have resolved since the last call.
	Resolutions(ctx context.Context) ([]Resolution, error)
}

// OrderGateway places and cancels orders on the exchange. The paper gateway
// simulates fills; a live implementation would sign and post to the CLOB.
type OrderGateway interface {
	// PlaceMarketOrder spends amountUSDC (for buys) or sells that notional
	// of tokens. Business failures are reported in the OrderResult; a non-nil
	// error means the attempt could not be made at all.
	PlaceMarketOrder(ctx context.Context, tokenID string, side OrderSide, amountUSDC float64, orderType OrderType) (OrderResult, error)
	// CancelOrder cancels a resting order by id.
	CancelOrder(ctx context.Context, orderID string) error
}
