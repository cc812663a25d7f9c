package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

func TestKeys(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123000000, time.UTC)
	o := domain.Opportunity{Symbol: "BTC/USDT", BuySource: "binance", SellSource: "kraken"}

	assert.Equal(t, "BTC/USDT", PartitionKey(o))
	assert.Equal(t, UnknownPartition, PartitionKey(domain.Opportunity{}))
	assert.Equal(t, "2024-05-01T12:00:00.123Z_binance_kraken", RowKey(o, ts))
	assert.Equal(t, "opp:BTC/USDT:row", rowKey("BTC/USDT", "row"))
	assert.Equal(t, "opp:index:BTC/USDT", indexKey("BTC/USDT"))
	assert.Equal(t, "lock:cycle", LockKey("cycle"))
}

func TestRowKey_PrefersDetectionTime(t *testing.T) {
	cycle := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := domain.Opportunity{BuySource: "a", SellSource: "b", DetectedAt: cycle.Add(-time.Second)}
	assert.Equal(t, "2024-05-01T11:59:59Z_a_b", RowKey(o, cycle))
}

func TestRowFieldsParseRow(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := domain.Opportunity{
		ID: "id-1", Symbol: "ETH/USDT", BuySource: "gateio", SellSource: "bybit",
		BuyPrice: 3000.25, SellPrice: 3030.5, ProfitPercent: 1.0083, ProfitUSD: 100.83,
		Volume: 3.3330555, DetectedAt: at,
	}

	fields := rowFields(o, at)
	strs := make(map[string]string, len(fields))
	for k, v := range fields {
		strs[k] = v.(string)
	}
	assert.Equal(t, o, parseRow(strs))
}

func tableRows(at time.Time) []domain.Opportunity {
	return []domain.Opportunity{
		{ID: "1", Symbol: "BTC/USDT", BuySource: "binance", SellSource: "kraken", ProfitPercent: 3, DetectedAt: at},
		{ID: "2", Symbol: "BTC/USDT", BuySource: "bybit", SellSource: "kraken", ProfitPercent: 2, DetectedAt: at.Add(time.Second)},
		{ID: "3", Symbol: "ETH/USDT", BuySource: "gateio", SellSource: "binance", ProfitPercent: 1, DetectedAt: at},
	}
}

func TestTableSink_WriteTopNWithTTL(t *testing.T) {
	mr, c := newTestClient(t)
	sink := NewTableSink(c, 2, time.Hour)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Write(context.Background(), tableRows(at), at))

	opps := tableRows(at)
	first := rowKey("BTC/USDT", RowKey(opps[0], at))
	second := rowKey("BTC/USDT", RowKey(opps[1], at))
	assert.True(t, mr.Exists(first))
	assert.True(t, mr.Exists(second))
	assert.False(t, mr.Exists(indexKey("ETH/USDT")), "rows past top N are not written")

	assert.Equal(t, time.Hour, mr.TTL(first))
	assert.Equal(t, time.Hour, mr.TTL(indexKey("BTC/USDT")))
	assert.Equal(t, "binance", mr.HGet(first, "buy_exchange"))

	members, err := mr.ZMembers(indexKey("BTC/USDT"))
	require.NoError(t, err)
	assert.Equal(t, []string{RowKey(opps[0], at), RowKey(opps[1], at)}, members)
	score, err := mr.ZScore(indexKey("BTC/USDT"), RowKey(opps[1], at))
	require.NoError(t, err)
	assert.Equal(t, float64(at.Add(time.Second).UnixMilli()), score)
}

func TestTableSink_WriteWithoutTTL(t *testing.T) {
	mr, c := newTestClient(t)
	at := time.Now().UTC()
	require.NoError(t, NewTableSink(c, 0, 0).Write(context.Background(), tableRows(at), at))

	assert.Len(t, mr.Keys(), 5) // three rows, two indexes
	assert.Zero(t, mr.TTL(indexKey("ETH/USDT")))
}

func TestTableSink_WriteEmpty(t *testing.T) {
	mr, c := newTestClient(t)
	require.NoError(t, NewTableSink(c, 10, time.Hour).Write(context.Background(), nil, time.Now()))
	assert.Empty(t, mr.Keys())
}

func TestTableSink_LatestNewestFirst(t *testing.T) {
	_, c := newTestClient(t)
	sink := NewTableSink(c, 10, time.Hour)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Write(context.Background(), tableRows(at), at))

	got, err := sink.Latest(context.Background(), "BTC/USDT", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "1", got[1].ID)
	assert.Equal(t, at, got[1].DetectedAt)

	got, err = sink.Latest(context.Background(), "BTC/USDT", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	got, err = sink.Latest(context.Background(), "SOL/USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTableSink_LatestSkipsExpiredRows(t *testing.T) {
	mr, c := newTestClient(t)
	sink := NewTableSink(c, 10, 0)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opps := tableRows(at)
	require.NoError(t, sink.Write(context.Background(), opps, at))

	// The index outlives the row hash.
	newest := rowKey("BTC/USDT", RowKey(opps[1], at))
	mr.SetTTL(newest, time.Minute)
	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(newest))

	got, err := sink.Latest(context.Background(), "BTC/USDT", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	_, c := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exact, err := bus.Subscribe(ctx, "arbbot:telemetry")
	require.NoError(t, err)
	pattern, err := bus.Subscribe(ctx, "arbbot:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "arbbot:telemetry", []byte(`{"kind":"event"}`)))

	for _, ch := range []<-chan []byte{exact, pattern} {
		select {
		case msg := <-ch:
			assert.JSONEq(t, `{"kind":"event"}`, string(msg))
		case <-ctx.Done():
			t.Fatal("no message received")
		}
	}
}
