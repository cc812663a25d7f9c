package domain

import "time"

// Opportunity is a directed cross-source spread that met the profitability
// threshold: buy Symbol on BuySource at BuyPrice (its ask) and sell on
// SellSource at SellPrice (its bid).
//
// The JSON field names are the persisted record shape consumed by sinks.
type Opportunity struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	BuySource     string    `json:"buy_exchange"`
	SellSource    string    `json:"sell_exchange"`
	BuyPrice      float64   `json:"buy_price"`
	SellPrice     float64   `json:"sell_price"`
	ProfitPercent float64   `json:"profit_percent"`
	ProfitUSD     float64   `json:"profit_usd"`
	Volume        float64   `json:"volume"` // base units at BuyPrice
	DetectedAt    time.Time `json:"timestamp"`
}

// PositionSizeUSD is the notional committed at BuyPrice.
func (o Opportunity) PositionSizeUSD() float64 {
	return o.Volume * o.BuyPrice
}
