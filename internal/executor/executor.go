// Package executor acts on the best opportunity of a cycle. Only simulated
// execution is implemented: the engine waits a fixed latency, reports the
// trade through telemetry and appends it to an in-memory ledger.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/telemetry"
)

// DefaultSimulatedLatency approximates the round trip of two market orders.
const DefaultSimulatedLatency = 100 * time.Millisecond

// Config configures an Engine.
type Config struct {
	Mode             domain.ExecutionMode
	SimulatedLatency time.Duration
	// StoreTimeout bounds the best-effort copy of a trade to the TradeStore.
	StoreTimeout time.Duration
}

// Engine executes opportunities and owns the execution ledger. The ledger is
// append-only and guarded by a mutex so status readers can run concurrently
// with the cycle loop.
type Engine struct {
	cfg    Config
	tel    *telemetry.Telemetry
	logger *slog.Logger
	now    func() time.Time

	store domain.TradeStore

	mu     sync.RWMutex
	ledger []domain.TradeRecord
}

// NewEngine creates an Engine. An empty Mode means simulated.
func NewEngine(cfg Config, tel *telemetry.Telemetry, logger *slog.Logger) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = domain.ExecutionSimulated
	}
	if cfg.SimulatedLatency <= 0 {
		cfg.SimulatedLatency = DefaultSimulatedLatency
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		tel:    tel,
		logger: logger.With(slog.String("component", "executor")),
		now:    time.Now,
	}
}

// SetTradeStore enables persisting each ledger entry. Store failures are
// logged and never affect the ledger.
func (e *Engine) SetTradeStore(store domain.TradeStore) {
	e.store = store
}

// Mode returns the configured execution mode.
func (e *Engine) Mode() domain.ExecutionMode { return e.cfg.Mode }

// Execute acts on opp and reports whether a trade was recorded. Live mode is
// not implemented and always returns false.
func (e *Engine) Execute(ctx context.Context, opp domain.Opportunity) bool {
	switch e.cfg.Mode {
	case domain.ExecutionSimulated:
		return e.simulate(ctx, opp)
	case domain.ExecutionLive:
		e.logger.WarnContext(ctx, "live execution not implemented",
			slog.String("symbol", opp.Symbol),
			slog.String("buy_exchange", opp.BuySource),
			slog.String("sell_exchange", opp.SellSource),
		)
		return false
	default:
		e.logger.ErrorContext(ctx, "unknown execution mode", slog.String("mode", string(e.cfg.Mode)))
		return false
	}
}

func (e *Engine) simulate(ctx context.Context, opp domain.Opportunity) bool {
	e.logger.InfoContext(ctx, "simulating arbitrage execution",
		slog.String("symbol", opp.Symbol),
		slog.String("buy_exchange", opp.BuySource),
		slog.Float64("buy_price", opp.BuyPrice),
		slog.String("sell_exchange", opp.SellSource),
		slog.Float64("sell_price", opp.SellPrice),
		slog.Float64("volume", opp.Volume),
	)

	timer := time.NewTimer(e.cfg.SimulatedLatency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		e.logger.WarnContext(ctx, "simulated execution cancelled", slog.String("symbol", opp.Symbol))
		return false
	case <-timer.C:
	}

	e.tel.TrackEvent(ctx, "arbitrage_opportunity_simulated", map[string]any{
		"symbol":         opp.Symbol,
		"buy_exchange":   opp.BuySource,
		"sell_exchange":  opp.SellSource,
		"profit_percent": opp.ProfitPercent,
		"profit_usd":     opp.ProfitUSD,
	})
	attrs := map[string]any{"symbol": opp.Symbol}
	e.tel.TrackMetric(ctx, "arbitrage_profit_percent", opp.ProfitPercent, attrs)
	e.tel.TrackMetric(ctx, "arbitrage_profit_usd", opp.ProfitUSD, attrs)

	rec := domain.TradeRecord{
		ID:          uuid.Must(uuid.NewRandom()).String(),
		Opportunity: opp,
		Mode:        domain.ExecutionSimulated,
		ExecutedAt:  e.now(),
	}
	e.mu.Lock()
	e.ledger = append(e.ledger, rec)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "simulated trade completed",
		slog.String("trade_id", rec.ID),
		slog.Float64("profit_percent", opp.ProfitPercent),
		slog.Float64("profit_usd", opp.ProfitUSD),
	)

	e.persist(ctx, rec)
	return true
}

func (e *Engine) persist(ctx context.Context, rec domain.TradeRecord) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()
	if err := e.store.InsertTrade(ctx, rec); err != nil {
		e.logger.WarnContext(ctx, "failed to persist trade",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Trades returns a copy of the ledger in execution order.
func (e *Engine) Trades() []domain.TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.TradeRecord(nil), e.ledger...)
}

// LastTrade returns the most recent ledger entry.
func (e *Engine) LastTrade() (domain.TradeRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.ledger) == 0 {
		return domain.TradeRecord{}, false
	}
	return e.ledger[len(e.ledger)-1], true
}

// Statistics aggregates the ledger. An empty ledger yields zero values and a
// nil Best.
func (e *Engine) Statistics() domain.ExecutionStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var st domain.ExecutionStats
	if len(e.ledger) == 0 {
		return st
	}

	var sumPct float64
	var best *domain.Opportunity
	for i := range e.ledger {
		opp := &e.ledger[i].Opportunity
		st.TotalProfitUSD += opp.ProfitUSD
		sumPct += opp.ProfitPercent
		if best == nil || opp.ProfitPercent > best.ProfitPercent {
			best = opp
		}
	}
	st.TotalTrades = len(e.ledger)
	st.AvgProfitPercent = sumPct / float64(len(e.ledger))
	st.Best = &domain.BestTrade{
		Symbol:        best.Symbol,
		ProfitPercent: best.ProfitPercent,
		ProfitUSD:     best.ProfitUSD,
	}
	return st
}
