// Package pipeline runs the scan loop: fetch quotes from every source,
// analyze them for cross-source spreads, persist the results, optionally ask
// the advisor, and execute the best opportunity. Cycles never overlap and a
// failed cycle never stops the loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arbbot/internal/arbitrage"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/executor"
	"github.com/alanyoungcy/arbbot/internal/feed"
	"github.com/alanyoungcy/arbbot/internal/metrics"
	"github.com/alanyoungcy/arbbot/internal/notify"
	"github.com/alanyoungcy/arbbot/internal/persist"
	"github.com/alanyoungcy/arbbot/internal/telemetry"
)

// State is the lifecycle state of an Orchestrator.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// cycleLockKey guards a cycle across replicas sharing a Locker.
const cycleLockKey = "arbbot:cycle"

// Config configures the scan loop.
type Config struct {
	Symbols      []string
	Interval     time.Duration // pause after a successful cycle
	ErrorBackoff time.Duration // pause after a failed cycle
	AdviseTopN   int
	LogTopN      int

	// LockTTL is the cycle lease length. The lease is renewed every third
	// of it while a cycle runs, so it only bounds how long a crashed
	// replica blocks the others.
	LockTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	if c.AdviseTopN <= 0 {
		c.AdviseTopN = 5
	}
	if c.LogTopN <= 0 {
		c.LogTopN = 3
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.Interval + c.ErrorBackoff
	}
}

// errCycleLockLost cancels a cycle whose lease could not be kept.
var errCycleLockLost = errors.New("pipeline: cycle lock lost")

// Deps are the collaborators of an Orchestrator. Advisor, Notifier and
// Locker are optional.
type Deps struct {
	Sources   []domain.Source
	Acquirer  *feed.Acquirer
	Analyzer  *arbitrage.Analyzer
	Executor  *executor.Engine
	Metrics   *metrics.Collector
	Fanout    *persist.Fanout
	Telemetry *telemetry.Telemetry
	Advisor   domain.Advisor
	Notifier  *notify.Notifier
	Locker    domain.Locker
}

// CycleReport summarises one cycle.
type CycleReport struct {
	Iteration     int                  `json:"iteration"`
	StartedAt     time.Time            `json:"started_at"`
	Duration      time.Duration        `json:"duration_ns"`
	Quotes        int                  `json:"quotes"`
	FailedFetches int                  `json:"failed_fetches"`
	Opportunities int                  `json:"opportunities"`
	Best          *domain.Opportunity  `json:"best,omitempty"`
	Executed      bool                 `json:"executed"`
	Advice        *domain.Advice       `json:"advice,omitempty"`
	SinkResults   []persist.SinkResult `json:"sinks,omitempty"`
	Skipped       bool                 `json:"skipped,omitempty"` // another replica held the cycle lock
}

// Orchestrator owns the scan loop.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	state     atomic.Int32
	iteration int // only touched by the cycle goroutine

	mu       sync.RWMutex
	last     CycleReport
	hasLast  bool
	shutdown sync.Once
}

// New creates an Orchestrator in StateIdle.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "orchestrator")),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// LastReport returns the report of the most recent completed cycle.
func (o *Orchestrator) LastReport() (CycleReport, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last, o.hasLast
}

// Init moves the orchestrator from Idle to Running. Running with no sources
// is allowed; every cycle then fetches nothing.
func (o *Orchestrator) Init(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateInitializing)) {
		return fmt.Errorf("pipeline: init in state %s", o.State())
	}

	names := make([]string, len(o.deps.Sources))
	for i, s := range o.deps.Sources {
		names[i] = s.Name()
	}
	if len(names) == 0 {
		o.logger.WarnContext(ctx, "no sources configured, running in demo mode")
	}
	o.logger.InfoContext(ctx, "orchestrator initialized",
		slog.Any("sources", names),
		slog.Any("symbols", o.cfg.Symbols),
		slog.Float64("threshold_percent", o.deps.Analyzer.Threshold()),
		slog.String("execution_mode", string(o.deps.Executor.Mode())),
		slog.Any("sinks", o.deps.Fanout.Sinks()),
		slog.Bool("advisor", o.deps.Advisor != nil),
		slog.Duration("interval", o.cfg.Interval),
	)

	o.state.Store(int32(StateRunning))
	return nil
}

// Run initializes the orchestrator if needed and runs cycles until ctx is
// cancelled, then shuts down. It returns nil on cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.State() == StateIdle {
		if err := o.Init(ctx); err != nil {
			return err
		}
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		o.Shutdown(sctx)
	}()

	for {
		wait := o.cfg.Interval
		if _, err := o.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.reportFailure(ctx, err)
			wait = o.cfg.ErrorBackoff
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// RunCycle runs one fetch, analyze, persist, advise, execute pass. A panic
// anywhere in the cycle is recovered and returned as an error.
func (o *Orchestrator) RunCycle(ctx context.Context) (report CycleReport, err error) {
	if s := o.State(); s != StateRunning {
		return CycleReport{}, fmt.Errorf("pipeline: cycle in state %s", s)
	}

	o.iteration++
	report = CycleReport{Iteration: o.iteration, StartedAt: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: cycle %d panic: %v", report.Iteration, r)
			o.logger.ErrorContext(ctx, "cycle panicked",
				slog.Int("iteration", report.Iteration),
				slog.String("stack", string(debug.Stack())),
			)
		}
		report.Duration = time.Since(report.StartedAt)
		if err == nil {
			o.mu.Lock()
			o.last, o.hasLast = report, true
			o.mu.Unlock()
		}
	}()

	lease, skip := o.acquireCycleLock(ctx)
	if skip {
		report.Skipped = true
		return report, nil
	}
	if lease != nil {
		var stop func()
		ctx, stop = o.holdLease(ctx, lease)
		defer stop()
	}

	res := o.fetch(ctx)
	report.Quotes = len(res.Quotes)
	report.FailedFetches = len(res.Failed())
	if ctx.Err() != nil {
		return report, context.Cause(ctx)
	}

	opps := o.analyze(ctx, res.Quotes)
	report.Opportunities = len(opps)
	if len(opps) == 0 {
		o.logger.InfoContext(ctx, "no arbitrage opportunities found",
			slog.Int("iteration", report.Iteration),
			slog.Int("quotes", report.Quotes),
		)
		return report, nil
	}

	best := opps[0]
	report.Best = &best
	o.logTop(ctx, opps)
	_ = o.deps.Notifier.Opportunity(ctx, best)

	report.SinkResults = o.deps.Fanout.Save(ctx, opps, report.StartedAt)

	if o.deps.Advisor != nil {
		advice := o.advise(ctx, opps)
		report.Advice = &advice
	}

	if ctx.Err() != nil {
		return report, context.Cause(ctx)
	}
	report.Executed = o.execute(ctx, best)
	return report, nil
}

// acquireCycleLock returns a nil lease when no Locker is configured or the
// backend is unreachable; the cycle then runs unguarded.
func (o *Orchestrator) acquireCycleLock(ctx context.Context) (lease domain.Lease, skip bool) {
	if o.deps.Locker == nil {
		return nil, false
	}
	lease, err := o.deps.Locker.Acquire(ctx, cycleLockKey, o.cfg.LockTTL)
	switch {
	case err == nil:
		return lease, false
	case errors.Is(err, domain.ErrLockHeld):
		o.logger.InfoContext(ctx, "cycle lock held by another replica, skipping")
		return nil, true
	default:
		// Run without the lock rather than stall every replica on a Redis outage.
		o.logger.WarnContext(ctx, "cycle lock unavailable", slog.String("error", err.Error()))
		return nil, false
	}
}

// holdLease keeps lease alive for the rest of the cycle. The returned
// context is cancelled with errCycleLockLost if the lease is taken over or
// runs out before a refresh succeeds. stop ends renewal and releases.
func (o *Orchestrator) holdLease(parent context.Context, lease domain.Lease) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancelCause(parent)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.renewLease(ctx, lease, cancel, done)
	}()
	return ctx, func() {
		close(done)
		wg.Wait()
		cancel(nil)
		lease.Release()
	}
}

func (o *Orchestrator) renewLease(ctx context.Context, lease domain.Lease, cancel context.CancelCauseFunc, done <-chan struct{}) {
	ttl := o.cfg.LockTTL
	tick := time.NewTicker(max(ttl/3, time.Millisecond))
	defer tick.Stop()
	expiry := time.NewTimer(ttl)
	defer expiry.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-expiry.C:
			o.logger.WarnContext(ctx, "cycle lock expired before it could be refreshed")
			cancel(errCycleLockLost)
			return
		case <-tick.C:
		}

		sent := time.Now()
		rctx, rcancel := context.WithTimeout(ctx, ttl/3)
		err := lease.Refresh(rctx, ttl)
		rcancel()
		switch {
		case err == nil:
			expiry.Reset(time.Until(sent.Add(ttl)))
		case errors.Is(err, domain.ErrLockLost):
			o.logger.WarnContext(ctx, "cycle lock taken over by another replica")
			cancel(errCycleLockLost)
			return
		default:
			o.logger.WarnContext(ctx, "cycle lock refresh failed", slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) fetch(ctx context.Context) feed.Result {
	ctx, span := o.deps.Telemetry.StartSpan(ctx, "ticker_acquisition")
	defer span.End()
	return o.deps.Acquirer.Fetch(ctx, o.deps.Sources, o.cfg.Symbols)
}

func (o *Orchestrator) analyze(ctx context.Context, quotes []domain.Quote) []domain.Opportunity {
	ctx, span := o.deps.Telemetry.StartSpan(ctx, "opportunity_analysis")
	defer span.End()

	opps := o.deps.Analyzer.Analyze(quotes)
	for _, opp := range opps {
		o.deps.Metrics.RecordOpportunity(opp)
	}
	o.deps.Telemetry.TrackMetric(ctx, "opportunities_found", float64(len(opps)), nil)
	return opps
}

func (o *Orchestrator) advise(ctx context.Context, opps []domain.Opportunity) domain.Advice {
	ctx, span := o.deps.Telemetry.StartSpan(ctx, "ai_analysis")
	defer span.End()

	if len(opps) > o.cfg.AdviseTopN {
		opps = opps[:o.cfg.AdviseTopN]
	}
	advice := o.deps.Advisor.Advise(ctx, opps)
	if advice.Recommendation == domain.RecommendError {
		span.Fail(errors.New(advice.Analysis))
	}
	o.logger.InfoContext(ctx, "advisory recommendation",
		slog.String("recommendation", string(advice.Recommendation)),
		slog.Int("opportunities", advice.OpportunitiesCount),
	)
	return advice
}

func (o *Orchestrator) execute(ctx context.Context, best domain.Opportunity) bool {
	ctx, span := o.deps.Telemetry.StartSpan(ctx, "trade_execution")
	defer span.End()

	ok := o.deps.Executor.Execute(ctx, best)
	o.deps.Metrics.RecordExecution(metrics.ExecutionResult{
		OpportunityID: best.ID,
		Symbol:        best.Symbol,
		Success:       ok,
		ProfitUSD:     best.ProfitUSD,
	})
	if !ok {
		span.Fail(errors.New("execution not completed"))
		return false
	}
	if rec, found := o.deps.Executor.LastTrade(); found {
		_ = o.deps.Notifier.Trade(ctx, rec)
	}
	return true
}

func (o *Orchestrator) logTop(ctx context.Context, opps []domain.Opportunity) {
	n := min(len(opps), o.cfg.LogTopN)
	o.logger.InfoContext(ctx, "arbitrage opportunities found", slog.Int("count", len(opps)))
	for i, opp := range opps[:n] {
		o.logger.InfoContext(ctx, "opportunity",
			slog.Int("rank", i+1),
			slog.String("symbol", opp.Symbol),
			slog.String("buy_exchange", opp.BuySource),
			slog.Float64("buy_price", opp.BuyPrice),
			slog.String("sell_exchange", opp.SellSource),
			slog.Float64("sell_price", opp.SellPrice),
			slog.Float64("profit_percent", opp.ProfitPercent),
			slog.Float64("profit_usd", opp.ProfitUSD),
		)
	}
}

func (o *Orchestrator) reportFailure(ctx context.Context, err error) {
	o.logger.ErrorContext(ctx, "cycle failed",
		slog.String("error", err.Error()),
		slog.Duration("backoff", o.cfg.ErrorBackoff),
	)
	o.deps.Telemetry.TrackEvent(ctx, "bot_error", map[string]any{"error": err.Error()})
	_ = o.deps.Notifier.Error(ctx, err)
}

// Shutdown closes every source and logs final statistics. It is safe to
// call more than once; only the first call does any work.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.shutdown.Do(func() {
		o.state.Store(int32(StateShuttingDown))
		o.logger.InfoContext(ctx, "shutting down")

		for _, src := range o.deps.Sources {
			if err := src.Close(); err != nil {
				o.logger.WarnContext(ctx, "failed to close source",
					slog.String("exchange", src.Name()),
					slog.String("error", err.Error()),
				)
			}
		}

		last, _ := o.LastReport()
		stats := o.deps.Executor.Statistics()
		summary := o.deps.Metrics.Summary()
		o.logger.InfoContext(ctx, "final statistics",
			slog.Int("cycles", last.Iteration),
			slog.Int("total_trades", stats.TotalTrades),
			slog.Float64("total_profit_usd", stats.TotalProfitUSD),
			slog.Float64("avg_profit_percent", stats.AvgProfitPercent),
			slog.Int("total_ticker_fetches", summary.TotalTickerFetches),
			slog.Float64("fetch_success_rate", summary.FetchSuccessRate),
			slog.Int("total_opportunities", summary.TotalOpportunities),
		)

		o.state.Store(int32(StateStopped))
	})
}
