package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestSummary_NoFetches(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewCollector(WithClock(clock.Now))

	s := c.Summary()
	assert.Equal(t, 0, s.TotalTickerFetches)
	assert.Equal(t, 0.0, s.FetchSuccessRate)
	assert.Equal(t, 0.0, s.UptimeSeconds)
	assert.Equal(t, 0.0, s.OpportunitiesPerMinute)
	assert.Empty(t, c.ExchangeStatistics())
}

func TestSummary_Aggregates(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewCollector(WithClock(clock.Now))

	c.RecordTickerFetch("binance", "BTC/USDT", true)
	c.RecordTickerFetch("binance", "ETH/USDT", false)
	c.RecordTickerFetch("bybit", "BTC/USDT", true)
	c.RecordTickerFetch("bybit", "ETH/USDT", true)
	c.RecordOpportunity(domain.Opportunity{Symbol: "BTC/USDT"})
	c.RecordOpportunity(domain.Opportunity{Symbol: "ETH/USDT"})
	c.RecordExecution(ExecutionResult{Symbol: "BTC/USDT", Success: true, ProfitUSD: 12.5})
	clock.Advance(2 * time.Minute)

	s := c.Summary()
	assert.Equal(t, 120.0, s.UptimeSeconds)
	assert.Equal(t, 4, s.TotalTickerFetches)
	assert.Equal(t, 3, s.SuccessfulTickerFetches)
	assert.InDelta(t, 0.75, s.FetchSuccessRate, 1e-12)
	assert.Equal(t, 2, s.TotalOpportunities)
	assert.Equal(t, 1, s.TotalExecutions)
	assert.InDelta(t, 1.0, s.OpportunitiesPerMinute, 1e-12)

	stats := c.ExchangeStatistics()
	require.Len(t, stats, 2)
	assert.Equal(t, ExchangeStats{Total: 2, Successful: 1, SuccessRate: 0.5}, stats["binance"])
	assert.Equal(t, ExchangeStats{Total: 2, Successful: 2, SuccessRate: 1}, stats["bybit"])
}

func TestEntries_Filter(t *testing.T) {
	c := NewCollector()
	c.RecordTickerFetch("kraken", "SOL/USDT", true)
	c.RecordOpportunity(domain.Opportunity{Symbol: "SOL/USDT"})

	assert.Len(t, c.Entries(""), 2)
	fetches := c.Entries(CategoryTickerFetch)
	require.Len(t, fetches, 1)
	assert.Equal(t, "kraken", fetches[0].Fetch.Source)
	assert.False(t, fetches[0].RecordedAt.IsZero())
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordTickerFetch("gateio", "BTC/USDT", j%2 == 0)
			}
		}()
	}
	wg.Wait()

	s := c.Summary()
	assert.Equal(t, 1600, s.TotalTickerFetches)
	assert.Equal(t, 800, s.SuccessfulTickerFetches)
}
