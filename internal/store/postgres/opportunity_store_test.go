package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

func TestHead(t *testing.T) {
	opps := make([]domain.Opportunity, 12)
	assert.Len(t, head(opps, 10), 10)
	assert.Len(t, head(opps, 0), 12)
	assert.Len(t, head(opps[:3], 10), 3)
}

func TestOpportunityArgs_FallsBackToCycleTime(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	args := opportunityArgs(domain.Opportunity{ID: "x", Symbol: "BTC/USDT"}, ts)
	assert.Len(t, args, 10)
	assert.Equal(t, ts, args[9])

	detected := ts.Add(-time.Second)
	args = opportunityArgs(domain.Opportunity{ID: "y", DetectedAt: detected}, ts)
	assert.Equal(t, detected, args[9])
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/arb?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "arb"}))
	assert.Equal(t, "postgres://override", DSN(ClientConfig{DSN: "postgres://override", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_arbitrage.sql")
	assert.NoError(t, err)
	assert.Contains(t, string(data), "arbitrage_opportunities")
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS trades")
}

// batchDB records batches and answers every queued statement with tag.
// Other calls go to the embedded mock.
type batchDB struct {
	pgxmock.PgxPoolIface
	batches []*pgx.Batch
	tag     string
	err     error
}

func (db *batchDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	db.batches = append(db.batches, b)
	return &batchResults{tag: db.tag, err: db.err, left: b.Len()}
}

type batchResults struct {
	tag  string
	err  error
	left int
}

func (r *batchResults) Exec() (pgconn.CommandTag, error) {
	if r.left == 0 {
		return pgconn.CommandTag{}, errors.New("no more results")
	}
	r.left--
	return pgconn.NewCommandTag(r.tag), r.err
}

func (r *batchResults) Query() (pgx.Rows, error) { return nil, errors.New("unexpected query") }
func (r *batchResults) QueryRow() pgx.Row        { return nil }
func (r *batchResults) Close() error             { return nil }

func sampleOpportunities(n int, at time.Time) []domain.Opportunity {
	out := make([]domain.Opportunity, n)
	for i := range out {
		out[i] = domain.Opportunity{
			ID: fmt.Sprintf("opp-%d", i), Symbol: "BTC/USDT",
			BuySource: "binance", SellSource: "kraken",
			BuyPrice: 100, SellPrice: 101, ProfitPercent: float64(n - i),
			ProfitUSD: 10, Volume: 1, DetectedAt: at,
		}
	}
	return out
}

func TestOpportunitySink_WriteTopNWithConflictSkip(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// A duplicate id reports zero rows inserted, which is not an error.
	db := &batchDB{PgxPoolIface: mock, tag: "INSERT 0 0"}
	sink := NewOpportunitySink(db, 10)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Write(context.Background(), sampleOpportunities(12, at), at))
	require.Len(t, db.batches, 1)

	queued := db.batches[0].QueuedQueries
	require.Len(t, queued, 10)
	assert.Contains(t, queued[0].SQL, "ON CONFLICT (id) DO NOTHING")
	assert.Equal(t, "opp-0", queued[0].Arguments[0])
	assert.Equal(t, "opp-9", queued[9].Arguments[0])
	assert.Equal(t, at, queued[0].Arguments[9])
}

func TestOpportunitySink_WriteEmptySkipsRoundTrip(t *testing.T) {
	db := &batchDB{}
	require.NoError(t, NewOpportunitySink(db, 10).Write(context.Background(), nil, time.Now()))
	assert.Empty(t, db.batches)
}

func TestOpportunitySink_WriteError(t *testing.T) {
	db := &batchDB{err: errors.New("relation does not exist")}
	err := NewOpportunitySink(db, 0).Write(context.Background(), sampleOpportunities(2, time.Now()), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch item 0")
}

var opportunityColumns = []string{
	"id", "symbol", "buy_exchange", "sell_exchange", "buy_price", "sell_price",
	"profit_percent", "profit_usd", "volume", "timestamp",
}

func TestOpportunitySink_ListByRange(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	at := from.Add(time.Hour)

	mock.ExpectQuery(`FROM arbitrage_opportunities\s+WHERE timestamp BETWEEN \$1 AND \$2\s+ORDER BY profit_percent DESC LIMIT \$3`).
		WithArgs(from, to, 2).
		WillReturnRows(pgxmock.NewRows(opportunityColumns).
			AddRow("a", "BTC/USDT", "binance", "kraken", 100.0, 102.0, 2.0, 20.0, 10.0, at).
			AddRow("b", "ETH/USDT", "bybit", "gateio", 10.0, 10.1, 1.0, 1.0, 100.0, at))

	got, err := NewOpportunitySink(mock, 10).ListByRange(context.Background(), from, to, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.Opportunity{
		ID: "a", Symbol: "BTC/USDT", BuySource: "binance", SellSource: "kraken",
		BuyPrice: 100, SellPrice: 102, ProfitPercent: 2, ProfitUSD: 20, Volume: 10, DetectedAt: at,
	}, got[0])
	assert.Equal(t, "b", got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpportunitySink_ListByRangeWithoutLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	from, to := time.Unix(0, 0), time.Unix(3600, 0)
	mock.ExpectQuery(`ORDER BY profit_percent DESC$`).
		WithArgs(from, to).
		WillReturnRows(pgxmock.NewRows(opportunityColumns))

	got, err := NewOpportunitySink(mock, 10).ListByRange(context.Background(), from, to, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpportunitySink_ListByRangeQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM arbitrage_opportunities`).WillReturnError(errors.New("conn reset"))
	_, err = NewOpportunitySink(mock, 10).ListByRange(context.Background(), time.Now(), time.Now(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list opportunities")
}
