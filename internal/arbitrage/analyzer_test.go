package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAnalyzer(threshold float64) *Analyzer {
	return NewAnalyzer(Config{
		ThresholdPercent: threshold,
		MaxPositionSize:  10000,
		Now:              func() time.Time { return fixedNow },
	})
}

func quote(source, symbol string, bid, ask, volume float64) domain.Quote {
	return domain.Quote{Source: source, Symbol: symbol, Bid: bid, Ask: ask, Last: (bid + ask) / 2, Volume: volume}
}

func TestAnalyze_BinanceBybitScenario(t *testing.T) {
	a := newTestAnalyzer(0.5)
	opps := a.Analyze([]domain.Quote{
		quote("binance", "BTC/USDT", 49500, 49510, 100),
		quote("bybit", "BTC/USDT", 50200, 50210, 100),
	})

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, "BTC/USDT", opp.Symbol)
	assert.Equal(t, "binance", opp.BuySource)
	assert.Equal(t, "bybit", opp.SellSource)
	assert.Equal(t, 49510.0, opp.BuyPrice)
	assert.Equal(t, 50200.0, opp.SellPrice)
	assert.InDelta(t, 1.393, opp.ProfitPercent, 0.001)
	assert.Equal(t, fixedNow, opp.DetectedAt)
	assert.NotEmpty(t, opp.ID)

	// Position is capped by max position since 100 BTC far exceeds it.
	assert.InDelta(t, 10000*opp.ProfitPercent/100, opp.ProfitUSD, 1e-9)
	assert.InDelta(t, 10000/49510.0, opp.Volume, 1e-12)
}

func TestAnalyze_PositionCappedByBuyVolume(t *testing.T) {
	a := newTestAnalyzer(0.5)
	opps := a.Analyze([]domain.Quote{
		quote("kraken", "ETH/USDT", 2990, 3000, 2), // 2 ETH at 3000 = 6000 USD
		quote("gateio", "ETH/USDT", 3060, 3070, 50),
	})

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, "kraken", opp.BuySource)
	assert.InDelta(t, 2.0, opp.ProfitPercent, 1e-9)
	assert.InDelta(t, 6000*0.02, opp.ProfitUSD, 1e-9)
	assert.InDelta(t, 2.0, opp.Volume, 1e-12)
}

func TestAnalyze_Invariants(t *testing.T) {
	quotes := []domain.Quote{
		quote("binance", "BTC/USDT", 100, 101, 10),
		quote("bybit", "BTC/USDT", 103, 104, 10),
		quote("gateio", "BTC/USDT", 99, 99.5, 10),
		quote("kraken", "BTC/USDT", 102, 102.2, 10),
		quote("binance", "ETH/USDT", 10, 10.1, 5),
		quote("bybit", "ETH/USDT", 10.4, 10.5, 5),
	}
	const threshold = 0.5
	opps := newTestAnalyzer(threshold).Analyze(quotes)
	require.NotEmpty(t, opps)

	for i, opp := range opps {
		assert.GreaterOrEqual(t, opp.ProfitPercent, threshold)
		assert.NotEqual(t, opp.BuySource, opp.SellSource)
		position := PositionSize(10000, volumeOf(quotes, opp.BuySource, opp.Symbol), opp.BuyPrice)
		assert.InDelta(t, position*opp.ProfitPercent/100, opp.ProfitUSD, 1e-9)
		if i > 0 {
			assert.GreaterOrEqual(t, opps[i-1].ProfitPercent, opp.ProfitPercent, "results must be sorted descending")
		}
	}
}

func volumeOf(quotes []domain.Quote, source, symbol string) float64 {
	for _, q := range quotes {
		if q.Source == source && q.Symbol == symbol {
			return q.Volume
		}
	}
	return 0
}

func TestAnalyze_ThresholdMonotonicity(t *testing.T) {
	quotes := []domain.Quote{
		quote("binance", "SOL/USDT", 100, 100.1, 1000),
		quote("bybit", "SOL/USDT", 100.8, 100.9, 1000),
		quote("gateio", "SOL/USDT", 101.5, 101.6, 1000),
		quote("kraken", "SOL/USDT", 99.2, 99.3, 1000),
	}

	key := func(o domain.Opportunity) string { return o.Symbol + ":" + o.BuySource + ">" + o.SellSource }

	low := newTestAnalyzer(0.5).Analyze(quotes)
	high := newTestAnalyzer(1.5).Analyze(quotes)
	require.NotEmpty(t, low)
	assert.LessOrEqual(t, len(high), len(low))

	lowSet := make(map[string]bool, len(low))
	for _, o := range low {
		lowSet[key(o)] = true
	}
	for _, o := range high {
		assert.True(t, lowSet[key(o)], "%s found at higher threshold but not at lower", key(o))
	}
}

func TestAnalyze_ThresholdIsInclusive(t *testing.T) {
	// Sell bid exactly 1% above buy ask.
	opps := newTestAnalyzer(1.0).Analyze([]domain.Quote{
		quote("binance", "BNB/USDT", 99, 100, 10),
		quote("kraken", "BNB/USDT", 101, 102, 10),
	})
	require.Len(t, opps, 1)
	assert.InDelta(t, 1.0, opps[0].ProfitPercent, 1e-9)
}

func TestAnalyze_SkipsUnusableQuotes(t *testing.T) {
	tests := []struct {
		name   string
		quotes []domain.Quote
	}{
		{"single quote", []domain.Quote{quote("binance", "BTC/USDT", 100, 101, 1)}},
		{"zero ask", []domain.Quote{
			quote("binance", "BTC/USDT", 100, 0, 1),
			quote("bybit", "BTC/USDT", 0, 120, 1),
		}},
		{"same source twice", []domain.Quote{
			quote("binance", "BTC/USDT", 100, 101, 1),
			quote("binance", "BTC/USDT", 110, 111, 1),
		}},
		{"different symbols", []domain.Quote{
			quote("binance", "BTC/USDT", 100, 101, 1),
			quote("bybit", "ETH/USDT", 200, 201, 1),
		}},
		{"no quotes", nil},
	}
	a := newTestAnalyzer(0.1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, a.Analyze(tt.quotes))
		})
	}
}

func TestAnalyze_ZeroVolumeKeptWithoutSize(t *testing.T) {
	opps := newTestAnalyzer(0.5).Analyze([]domain.Quote{
		quote("binance", "BTC/USDT", 99, 100, 0),
		quote("bybit", "BTC/USDT", 102, 103, 5),
	})
	require.Len(t, opps, 1)
	assert.Equal(t, "binance", opps[0].BuySource)
	assert.InDelta(t, 2.0, opps[0].ProfitPercent, 1e-9)
	assert.Zero(t, opps[0].ProfitUSD)
	assert.Zero(t, opps[0].Volume)
}

func TestAnalyze_StableOrderForTies(t *testing.T) {
	// Identical spreads on two symbols produce equal percents; first-seen
	// symbol must come first.
	opps := newTestAnalyzer(0.5).Analyze([]domain.Quote{
		quote("binance", "ETH/USDT", 99, 100, 1000),
		quote("bybit", "ETH/USDT", 102, 103, 1000),
		quote("binance", "BTC/USDT", 99, 100, 1000),
		quote("bybit", "BTC/USDT", 102, 103, 1000),
	})
	require.Len(t, opps, 2)
	assert.Equal(t, "ETH/USDT", opps[0].Symbol)
	assert.Equal(t, "BTC/USDT", opps[1].Symbol)
}

func TestAnalyze_BothDirectionsEvaluated(t *testing.T) {
	// Crossed books on both sides: each venue's bid is above the other's ask.
	opps := newTestAnalyzer(0.5).Analyze([]domain.Quote{
		quote("gateio", "BTC/USDT", 105, 100, 100),
		quote("kraken", "BTC/USDT", 106, 101, 100),
	})
	require.Len(t, opps, 2)
	assert.Equal(t, "gateio", opps[0].BuySource)
	assert.Equal(t, "kraken", opps[0].SellSource)
	assert.Equal(t, "kraken", opps[1].BuySource)
	assert.Equal(t, "gateio", opps[1].SellSource)
}
