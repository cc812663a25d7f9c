package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

func sampleTrade(at time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		ID: "trade-1",
		Opportunity: domain.Opportunity{
			ID: "opp-1", Symbol: "BTC/USDT", BuySource: "binance", SellSource: "kraken",
			BuyPrice: 100, SellPrice: 101, ProfitPercent: 1, ProfitUSD: 10, Volume: 10,
		},
		Mode:       domain.ExecutionSimulated,
		ExecutedAt: at,
	}
}

func TestTradeStore_InsertTrade(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`(?s)INSERT INTO trades.+ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("trade-1", "opp-1", "BTC/USDT", "binance", "kraken",
			100.0, 101.0, 1.0, 10.0, 10.0, string(domain.ExecutionSimulated), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewTradeStore(mock).InsertTrade(context.Background(), sampleTrade(at)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeStore_InsertTradeError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO trades`).WillReturnError(errors.New("disk full"))
	err = NewTradeStore(mock).InsertTrade(context.Background(), sampleTrade(time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trade-1")
}

func TestTradeStore_ListRecentTradesDefaultLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM trades\s+ORDER BY execution_time DESC\s+LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "opportunity_id", "symbol", "buy_exchange", "sell_exchange",
			"executed_buy_price", "executed_sell_price", "profit_percent",
			"actual_profit_usd", "volume", "status", "execution_time",
		}).AddRow("trade-1", "opp-1", "BTC/USDT", "binance", "kraken",
			100.0, 101.0, 1.0, 10.0, 10.0, "simulated", at))

	got, err := NewTradeStore(mock).ListRecentTrades(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sampleTrade(at), got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
