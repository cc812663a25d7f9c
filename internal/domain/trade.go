package domain

import "time"

// ExecutionMode selects how the execution engine acts on an opportunity.
type ExecutionMode string

const (
	ExecutionSimulated ExecutionMode = "simulated"
	ExecutionLive      ExecutionMode = "live"
)

// TradeRecord is one entry in the execution ledger. Records are append-only.
type TradeRecord struct {
	ID          string        `json:"id"`
	Opportunity Opportunity   `json:"opportunity"`
	Mode        ExecutionMode `json:"mode"`
	ExecutedAt  time.Time     `json:"executed_at"`
}

// BestTrade summarises the most profitable ledger entry.
type BestTrade struct {
	Symbol        string  `json:"symbol"`
	ProfitPercent float64 `json:"profit_percent"`
	ProfitUSD     float64 `json:"profit_usd"`
}

// ExecutionStats is a derived view over the execution ledger.
type ExecutionStats struct {
	TotalTrades      int        `json:"total_trades"`
	TotalProfitUSD   float64    `json:"total_profit_usd"`
	AvgProfitPercent float64    `json:"avg_profit_percent"`
	Best             *BestTrade `json:"best_opportunity"`
}
