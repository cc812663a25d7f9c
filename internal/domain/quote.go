package domain

import (
	"context"
	"time"
)

// Quote is a point-in-time top-of-book observation of one symbol on one
// source. Quotes are values and are never mutated after construction.
type Quote struct {
	Source     string    `json:"source"`
	Symbol     string    `json:"symbol"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Last       float64   `json:"last"`
	Volume     float64   `json:"volume"` // base-currency volume
	ObservedAt time.Time `json:"observed_at"`
}

// Buyable reports whether the ask side can be used to open a position.
func (q Quote) Buyable() bool { return q.Ask > 0 }

// Sellable reports whether the bid side can be used to close a position.
func (q Quote) Sellable() bool { return q.Bid > 0 }

// Source is a venue that can be queried for market data. Every vendor
// adapter implements it independently and contains its own failure handling:
// a failed call returns an error, never a partially filled value.
type Source interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	// FetchBalances returns free balances keyed by currency. An empty map with
	// a nil error means the account holds nothing.
	FetchBalances(ctx context.Context) (map[string]float64, error)
	Close() error
}
