package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/arbitrage"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/executor"
	"github.com/alanyoungcy/arbbot/internal/feed"
	"github.com/alanyoungcy/arbbot/internal/metrics"
	"github.com/alanyoungcy/arbbot/internal/persist"
	"github.com/alanyoungcy/arbbot/internal/pipeline"
	"github.com/alanyoungcy/arbbot/internal/server"
	"github.com/alanyoungcy/arbbot/internal/server/handler"
	"github.com/alanyoungcy/arbbot/internal/server/ws"
	"github.com/alanyoungcy/arbbot/internal/telemetry"
)

// runtime holds the in-process components built on top of Dependencies.
type runtime struct {
	orch      *pipeline.Orchestrator
	tel       *telemetry.Telemetry
	collector *metrics.Collector
	engine    *executor.Engine
	fanout    *persist.Fanout
	analyzer  *arbitrage.Analyzer
}

// BotMode runs the scan loop until ctx is cancelled, alongside the HTTP API
// and WebSocket hub when the server is enabled.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bot mode")
	rt := a.buildRuntime(deps)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		hub, srv := a.buildServer(deps, rt)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("app: ws hub: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	g.Go(func() error {
		return rt.orch.Run(ctx)
	})

	return g.Wait()
}

// OnceMode runs a single cycle and exits. Useful from cron and for smoke
// testing a configuration.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")
	rt := a.buildRuntime(deps)

	if err := rt.orch.Init(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		rt.orch.Shutdown(sctx)
	}()

	report, err := rt.orch.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("app: cycle: %w", err)
	}

	attrs := []any{
		slog.Int("quotes", report.Quotes),
		slog.Int("failed_fetches", report.FailedFetches),
		slog.Int("opportunities", report.Opportunities),
		slog.Bool("executed", report.Executed),
		slog.Duration("duration", report.Duration),
	}
	if report.Best != nil {
		attrs = append(attrs,
			slog.String("best_symbol", report.Best.Symbol),
			slog.Float64("best_profit_percent", report.Best.ProfitPercent),
		)
	}
	a.logger.InfoContext(ctx, "cycle complete", attrs...)
	return nil
}

func (a *App) buildRuntime(deps *Dependencies) *runtime {
	cfg := a.cfg
	t := cfg.Trading

	// Envelopes go to the bus when one is configured; the hub relays from
	// there. Otherwise buildServer attaches the hub directly.
	var pubs []domain.Publisher
	if deps.SignalBus != nil {
		pubs = append(pubs, deps.SignalBus)
	}
	tel := telemetry.New(telemetry.Config{Channel: cfg.Telemetry.Channel}, a.logger, pubs...)

	collector := metrics.NewCollector()
	acquirer := feed.NewAcquirer(feed.AcquirerConfig{
		FetchTimeout: t.FetchTimeout.Duration,
		Concurrency:  t.FetchConcurrency,
	}, collector, tel, a.logger)
	analyzer := arbitrage.NewAnalyzer(arbitrage.Config{
		ThresholdPercent: t.ThresholdPercent,
		MaxPositionSize:  t.MaxPositionSizeUSD,
	})

	engine := executor.NewEngine(executor.Config{
		Mode:             domain.ExecutionMode(strings.ToLower(t.ExecutionMode)),
		SimulatedLatency: t.SimulatedLatency.Duration,
		StoreTimeout:     5 * time.Second,
	}, tel, a.logger)
	if deps.TradeStore != nil {
		engine.SetTradeStore(deps.TradeStore)
	}

	fanout := persist.NewFanout(deps.Sinks, persist.Config{SinkTimeout: t.SinkTimeout.Duration}, a.logger)

	orch := pipeline.New(pipeline.Deps{
		Sources:   deps.Sources,
		Acquirer:  acquirer,
		Analyzer:  analyzer,
		Executor:  engine,
		Metrics:   collector,
		Fanout:    fanout,
		Telemetry: tel,
		Advisor:   deps.Advisor,
		Notifier:  deps.Notifier,
		Locker:    deps.Locker,
	}, pipeline.Config{
		Symbols:      t.Symbols,
		Interval:     t.Interval.Duration,
		ErrorBackoff: t.ErrorBackoff.Duration,
		AdviseTopN:   t.AdviseTopN,
		LogTopN:      t.LogTopN,
		LockTTL:      cfg.Redis.CycleLockTTL.Duration,
	}, a.logger)

	return &runtime{
		orch:      orch,
		tel:       tel,
		collector: collector,
		engine:    engine,
		fanout:    fanout,
		analyzer:  analyzer,
	}
}

func (a *App) buildServer(deps *Dependencies, rt *runtime) (*ws.Hub, *server.Server) {
	names := make([]string, len(deps.Sources))
	for i, s := range deps.Sources {
		names[i] = s.Name()
	}
	info := handler.StatusInfo{
		ExecutionMode:    string(rt.engine.Mode()),
		Sources:          names,
		Symbols:          a.cfg.Trading.Symbols,
		ThresholdPercent: rt.analyzer.Threshold(),
		Sinks:            rt.fanout.Sinks(),
		Advisor:          deps.Advisor != nil,
	}

	var hub *ws.Hub
	status := handler.NewStatusHandler(rt.orch, info, func() int { return hub.ClientCount() })
	hub = ws.NewHub(ws.Config{
		Channels: []string{rt.tel.Channel()},
		Status:   func() any { return status.Snapshot() },
	}, deps.SignalBus, a.logger)
	if deps.SignalBus == nil {
		rt.tel.AddPublisher(hub)
	}

	health := handler.NewHealthHandler(a.logger)
	for name, check := range deps.Checks {
		health.AddCheck(name, check)
	}

	handlers := server.Handlers{
		Health:        health,
		Status:        status,
		Stats:         handler.NewStatsHandler(rt.engine, deps.TradeStore, a.logger),
		Metrics:       handler.NewMetricsHandler(rt.collector, rt.tel),
		Opportunities: opportunityHandler(deps, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,

		TrustedProxies: a.cfg.Server.TrustedProxies,
	}, handlers, hub, a.logger)
	return hub, srv
}

// opportunityHandler returns nil when no sink can be queried. Readers are
// assigned only when set so the handler never sees a typed nil.
func opportunityHandler(deps *Dependencies, logger *slog.Logger) *handler.OpportunityHandler {
	var (
		latest  handler.LatestReader
		history handler.RangeReader
		recent  handler.RecentReader
	)
	if deps.Table != nil {
		latest = deps.Table
	}
	if deps.History != nil {
		history = deps.History
	}
	if deps.Local != nil {
		recent = deps.Local
	}
	if latest == nil && history == nil && recent == nil {
		return nil
	}
	return handler.NewOpportunityHandler(latest, history, recent, logger)
}
