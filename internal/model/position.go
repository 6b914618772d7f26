package model

import "strings"

// Position represents the current holding for one symbol: how many units are
// held and the weighted-average price paid for them. One row per symbol;
// a position with qty == 0 is never stored, it is deleted instead.
type Position struct {
	Symbol  string  `json:"symbol"`
	Qty     int64   `json:"qty"`      // units held, always > 0 while the row exists
	AvgCost float64 `json:"avg_cost"` // weighted-average cost basis per unit, always > 0
}

// NormalizeSymbol canonicalizes a user-supplied symbol: trimmed, uppercased.
// All store keys and ledger lookups use the normalized form.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Summary pairs a Position with a current market price. It is derived on
// demand and never persisted.
type Summary struct {
	Symbol        string  `json:"symbol"`
	Qty           int64   `json:"qty"`
	AvgCost       float64 `json:"avg_cost"`
	CurrentPrice  float64 `json:"current_price"`
	TotalInvested float64 `json:"total_invested"`
	CurrentValue  float64 `json:"current_value"`
	GainLoss      float64 `json:"gain_loss"`
	GainLossPct   float64 `json:"gain_loss_pct"`
}

// NewSummary derives a Summary from a position and a current price.
// currentPrice <= 0 means "no live quote": the position's average cost is used
// instead, which reports a flat 0% change rather than failing. AvgCost is
// strictly positive for any stored position, so the percent calculation never
// divides by zero.
func NewSummary(p Position, currentPrice float64) Summary {
	if currentPrice <= 0 {
		currentPrice = p.AvgCost
	}
	invested := float64(p.Qty) * p.AvgCost
	value := float64(p.Qty) * currentPrice
	return Summary{
		Symbol:        p.Symbol,
		Qty:           p.Qty,
		AvgCost:       p.AvgCost,
		CurrentPrice:  currentPrice,
		TotalInvested: invested,
		CurrentValue:  value,
		GainLoss:      value - invested,
		GainLossPct:   (currentPrice - p.AvgCost) / p.AvgCost * 100,
	}
}
