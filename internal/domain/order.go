package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Till-Date
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderResult is the explicit outcome of an order attempt. Rejected and
// unfilled orders are ordinary results, not errors; only transport or
// programming faults surface as Go errors.
type OrderResult struct {
	Success    bool
	OrderID    string
	FilledSize float64 // contracts
	AvgPrice   float64
	FeeUSD     float64
	Error      string // reason when Success is false
}

// Trade records one filled leg for audit and reporting.
type Trade struct {
	ID         string
	PositionID string
	OrderID    string
	MarketID   string
	TokenID    string
	Outcome    OutcomeSide
	Side       OrderSide
	Price      float64
	Size       float64
	FeeUSD     float64
	ExecutedAt time.Time
}

// PnLSnapshot is a point-in-time profit and loss summary.
type PnLSnapshot struct {
	Timestamp     time.Time
	UnrealizedPnL float64
	RealizedPnL   float64
	TotalPnL      float64
	OpenPositions int
	TotalExposure float64
	DailyTrades   int
}
