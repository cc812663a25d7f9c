// Package metrics keeps an append-only, in-memory log of operational events
// (ticker fetches, detected opportunities, executions) and derives summary
// statistics from it on demand.
//
// The log grows without bound for the lifetime of the process.
package metrics

import (
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Category names the kind of an Entry.
type Category string

const (
	CategoryTickerFetch Category = "ticker_fetches"
	CategoryOpportunity Category = "opportunities"
	CategoryExecution   Category = "executions"
)

// Entry is one recorded event. Exactly one of the payload fields is set,
// matching Category.
type Entry struct {
	Category    Category
	RecordedAt  time.Time
	Fetch       *FetchEvent
	Opportunity *domain.Opportunity
	Execution   *ExecutionResult
}

// FetchEvent is the outcome of one (source, symbol) quote request.
type FetchEvent struct {
	Source  string
	Symbol  string
	Success bool
}

// ExecutionResult is the outcome of one execution attempt.
type ExecutionResult struct {
	OpportunityID string
	Symbol        string
	Success       bool
	ProfitUSD     float64
}

// Summary is the aggregate view returned by Collector.Summary.
type Summary struct {
	UptimeSeconds           float64 `json:"uptime_seconds"`
	TotalTickerFetches      int     `json:"total_ticker_fetches"`
	SuccessfulTickerFetches int     `json:"successful_ticker_fetches"`
	FetchSuccessRate        float64 `json:"fetch_success_rate"`
	TotalOpportunities      int     `json:"total_opportunities_found"`
	TotalExecutions         int     `json:"total_executions"`
	OpportunitiesPerMinute  float64 `json:"opportunities_per_minute"`
}

// ExchangeStats is the per-source fetch tally.
type ExchangeStats struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	SuccessRate float64 `json:"success_rate"`
}

// Collector is safe for concurrent use: fetch tasks record from many
// goroutines while status handlers read.
type Collector struct {
	mu      sync.RWMutex
	now     func() time.Time
	started time.Time
	entries []Entry
}

// Option customises a Collector.
type Option func(*Collector)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a Collector whose uptime starts now.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{now: time.Now}
	for _, o := range opts {
		o(c)
	}
	c.started = c.now()
	return c
}

// RecordTickerFetch appends a fetch outcome.
func (c *Collector) RecordTickerFetch(source, symbol string, success bool) {
	c.append(Entry{
		Category: CategoryTickerFetch,
		Fetch:    &FetchEvent{Source: source, Symbol: symbol, Success: success},
	})
}

// RecordOpportunity appends a detected opportunity.
func (c *Collector) RecordOpportunity(opp domain.Opportunity) {
	c.append(Entry{Category: CategoryOpportunity, Opportunity: &opp})
}

// RecordExecution appends an execution outcome.
func (c *Collector) RecordExecution(res ExecutionResult) {
	c.append(Entry{Category: CategoryExecution, Execution: &res})
}

func (c *Collector) append(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.RecordedAt = c.now()
	c.entries = append(c.entries, e)
}

// Summary derives the aggregate statistics. Rates are 0 rather than NaN when
// their denominator is 0.
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var s Summary
	s.UptimeSeconds = c.now().Sub(c.started).Seconds()
	for _, e := range c.entries {
		switch e.Category {
		case CategoryTickerFetch:
			s.TotalTickerFetches++
			if e.Fetch.Success {
				s.SuccessfulTickerFetches++
			}
		case CategoryOpportunity:
			s.TotalOpportunities++
		case CategoryExecution:
			s.TotalExecutions++
		}
	}
	if s.TotalTickerFetches > 0 {
		s.FetchSuccessRate = float64(s.SuccessfulTickerFetches) / float64(s.TotalTickerFetches)
	}
	if s.UptimeSeconds > 0 {
		s.OpportunitiesPerMinute = float64(s.TotalOpportunities) / (s.UptimeSeconds / 60)
	}
	return s
}

// ExchangeStatistics tallies fetch outcomes per source.
func (c *Collector) ExchangeStatistics() map[string]ExchangeStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]ExchangeStats)
	for _, e := range c.entries {
		if e.Category != CategoryTickerFetch {
			continue
		}
		st := out[e.Fetch.Source]
		st.Total++
		if e.Fetch.Success {
			st.Successful++
		}
		out[e.Fetch.Source] = st
	}
	for name, st := range out {
		if st.Total > 0 {
			st.SuccessRate = float64(st.Successful) / float64(st.Total)
		}
		out[name] = st
	}
	return out
}

// Entries returns a copy of the log for the given category, or of the whole
// log when category is empty.
func (c *Collector) Entries(category Category) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if category == "" || e.Category == category {
			out = append(out, e)
		}
	}
	return out
}
