package domain

import (
	"context"
	"time"
)

// Sink is a persistence destination for a cycle's ranked opportunities. A
// sink may keep only a prefix of the list; ts is the cycle timestamp used to
// derive object keys and row keys.
type Sink interface {
	Name() string
	Write(ctx context.Context, opps []Opportunity, ts time.Time) error
}

// TradeStore persists execution ledger entries.
type TradeStore interface {
	InsertTrade(ctx context.Context, trade TradeRecord) error
	ListRecentTrades(ctx context.Context, limit int) ([]TradeRecord, error)
}
