package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// OpportunitySink writes the top N opportunities of each cycle to the
// arbitrage_opportunities table. It implements domain.Sink.
type OpportunitySink struct {
	pool DB
	topN int
}

// NewOpportunitySink creates an OpportunitySink. topN <= 0 keeps every row.
func NewOpportunitySink(pool DB, topN int) *OpportunitySink {
	return &OpportunitySink{pool: pool, topN: topN}
}

var _ domain.Sink = (*OpportunitySink)(nil)

const opportunitySelectCols = `id, symbol, buy_exchange, sell_exchange,
	buy_price::float8, sell_price::float8, profit_percent::float8,
	profit_usd::float8, volume::float8, timestamp`

// Name implements domain.Sink.
func (s *OpportunitySink) Name() string { return "postgres" }

// Write inserts the leading rows of opps in one batch. Rows already present
// (same id) are skipped.
func (s *OpportunitySink) Write(ctx context.Context, opps []domain.Opportunity, ts time.Time) error {
	rows := head(opps, s.topN)
	if len(rows) == 0 {
		return nil
	}

	const query = `
		INSERT INTO arbitrage_opportunities (
			id, symbol, buy_exchange, sell_exchange,
			buy_price, sell_price, profit_percent, profit_usd,
			volume, timestamp
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10
		) ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, o := range rows {
		batch.Queue(query, opportunityArgs(o, ts)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert opportunity batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByRange returns opportunities detected in [from, to], most profitable
// first.
func (s *OpportunitySink) ListByRange(ctx context.Context, from, to time.Time, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + `
		FROM arbitrage_opportunities
		WHERE timestamp BETWEEN $1 AND $2
		ORDER BY profit_percent DESC`
	args := []any{from, to}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var out []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		if err := rows.Scan(
			&o.ID, &o.Symbol, &o.BuySource, &o.SellSource,
			&o.BuyPrice, &o.SellPrice, &o.ProfitPercent,
			&o.ProfitUSD, &o.Volume, &o.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// opportunityArgs returns the insert arguments for o. The cycle timestamp is
// used when the opportunity carries none.
func opportunityArgs(o domain.Opportunity, ts time.Time) []any {
	detected := o.DetectedAt
	if detected.IsZero() {
		detected = ts
	}
	return []any{
		o.ID, o.Symbol, o.BuySource, o.SellSource,
		o.BuyPrice, o.SellPrice, o.ProfitPercent, o.ProfitUSD,
		o.Volume, detected.UTC(),
	}
}

func head(opps []domain.Opportunity, n int) []domain.Opportunity {
	if n > 0 && len(opps) > n {
		return opps[:n]
	}
	return opps
}
