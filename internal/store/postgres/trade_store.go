package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// TradeStore implements domain.TradeStore using the trades table.
type TradeStore struct {
	pool DB
}

// NewTradeStore creates a TradeStore backed by pool.
func NewTradeStore(pool DB) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

// InsertTrade stores one ledger entry. Simulated fills are recorded at the
// quoted prices.
func (s *TradeStore) InsertTrade(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, opportunity_id, symbol, buy_exchange, sell_exchange,
			executed_buy_price, executed_sell_price, profit_percent,
			actual_profit_usd, volume, status, execution_time
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12
		) ON CONFLICT (id) DO NOTHING`

	o := t.Opportunity
	_, err := s.pool.Exec(ctx, query,
		t.ID, o.ID, o.Symbol, o.BuySource, o.SellSource,
		o.BuyPrice, o.SellPrice, o.ProfitPercent,
		o.ProfitUSD, o.Volume, string(t.Mode), t.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListRecentTrades returns up to limit trades, newest first.
func (s *TradeStore) ListRecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, COALESCE(opportunity_id, ''), symbol, buy_exchange, sell_exchange,
			COALESCE(executed_buy_price, 0)::float8, COALESCE(executed_sell_price, 0)::float8,
			COALESCE(profit_percent, 0)::float8, COALESCE(actual_profit_usd, 0)::float8,
			COALESCE(volume, 0)::float8, status, execution_time
		FROM trades
		ORDER BY execution_time DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			t    domain.TradeRecord
			mode string
		)
		o := &t.Opportunity
		if err := rows.Scan(
			&t.ID, &o.ID, &o.Symbol, &o.BuySource, &o.SellSource,
			&o.BuyPrice, &o.SellPrice, &o.ProfitPercent, &o.ProfitUSD,
			&o.Volume, &mode, &t.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Mode = domain.ExecutionMode(mode)
		out = append(out, t)
	}
	return out, rows.Err()
}
