package domain

import "time"

// Opportunity is a detected delta-neutral arbitrage: the sum of the best asks
// of both outcome tokens is below $1.00. Opportunities are ephemeral — they
// are recomputed every scan cycle and discarded once acted upon or once the
// market closes. Only a Position survives them.
type Opportunity struct {
	Market            Market
	UpPrice           float64
	DownPrice         float64
	TotalCost         float64 // UpPrice + DownPrice
	ProfitPerContract float64 // 1.0 - TotalCost
	UpLiquidity       float64
	DownLiquidity     float64
	MaxContracts      float64 // bounded by liquidity and position size cap
	Timestamp         time.Time
	Score             float64
}

// ExpectedProfit is the payoff if the maximum number of contracts fills.
func (o Opportunity) ExpectedProfit() float64 {
	return o.ProfitPerContract * o.MaxContracts
}

// CalculateScore assigns a 0-100 quality score used to rank simultaneously
// available opportunities. It is a tie-break signal, not a profitability gate.
//
// Profit contributes up to 40 points (capped at a 10-cent edge), liquidity up
// to 30 (capped at 3000 contracts on the thinner side), and time to close up
// to 30 (full credit at 15+ minutes remaining).
func (o *Opportunity) CalculateScore(now time.Time) float64 {
	profitScore := min(40.0, o.ProfitPerContract*400)

	minLiquidity := min(o.UpLiquidity, o.DownLiquidity)
	liquidityScore := min(30.0, minLiquidity/100)

	var timeScore float64
	if secs, ok := o.Market.TimeToClose(now); ok {
		timeScore = min(30.0, secs/30)
	}

	o.Score = profitScore + liquidityScore + timeScore
	return o.Score
}
