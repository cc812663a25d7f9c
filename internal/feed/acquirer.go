package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/telemetry"
)

// FetchRecorder receives exactly one outcome per (source, symbol) request.
// It is implemented by metrics.Collector.
type FetchRecorder interface {
	RecordTickerFetch(source, symbol string, success bool)
}

// AcquirerConfig configures an Acquirer.
type AcquirerConfig struct {
	// FetchTimeout bounds each individual quote request. Zero disables it.
	FetchTimeout time.Duration
	// Concurrency caps in-flight requests. Zero or negative means one
	// goroutine per (source, symbol) pair.
	Concurrency int
}

// FetchOutcome describes one (source, symbol) request.
type FetchOutcome struct {
	Source  string
	Symbol  string
	OK      bool
	Err     error
	Latency time.Duration
}

// Result is everything one acquisition round produced. Quotes are ordered by
// source, then symbol, as given to Fetch.
type Result struct {
	Quotes   []domain.Quote
	Outcomes []FetchOutcome
}

// Failed returns the outcomes that did not produce a quote.
func (r Result) Failed() []FetchOutcome {
	var out []FetchOutcome
	for _, o := range r.Outcomes {
		if !o.OK {
			out = append(out, o)
		}
	}
	return out
}

// Acquirer fetches quotes for every (source, symbol) pair concurrently. A
// failing pair never prevents the others from completing.
type Acquirer struct {
	cfg      AcquirerConfig
	recorder FetchRecorder
	tel      *telemetry.Telemetry
	logger   *slog.Logger
}

// NewAcquirer creates an Acquirer. recorder and tel may be nil.
func NewAcquirer(cfg AcquirerConfig, recorder FetchRecorder, tel *telemetry.Telemetry, logger *slog.Logger) *Acquirer {
	return &Acquirer{
		cfg:      cfg,
		recorder: recorder,
		tel:      tel,
		logger:   logger.With(slog.String("component", "acquirer")),
	}
}

// Fetch issues one request per (source, symbol) pair and waits for all of
// them. It does not retry; a pair that fails is simply absent from Quotes.
func (a *Acquirer) Fetch(ctx context.Context, sources []domain.Source, symbols []string) Result {
	n := len(sources) * len(symbols)
	quotes := make([]*domain.Quote, n)
	outcomes := make([]FetchOutcome, n)

	// Tasks always return nil so one failure cannot cancel its siblings.
	var g errgroup.Group
	if a.cfg.Concurrency > 0 {
		g.SetLimit(a.cfg.Concurrency)
	}
	for si, src := range sources {
		for yi, symbol := range symbols {
			idx := si*len(symbols) + yi
			g.Go(func() error {
				q, out := a.fetchOne(ctx, src, symbol)
				outcomes[idx] = out
				if out.OK {
					quotes[idx] = &q
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	res := Result{Outcomes: outcomes, Quotes: make([]domain.Quote, 0, n)}
	for _, q := range quotes {
		if q != nil {
			res.Quotes = append(res.Quotes, *q)
		}
	}

	a.logger.DebugContext(ctx, "acquisition complete",
		slog.Int("requested", n),
		slog.Int("quotes", len(res.Quotes)),
	)
	return res
}

func (a *Acquirer) fetchOne(ctx context.Context, src domain.Source, symbol string) (q domain.Quote, out FetchOutcome) {
	name := src.Name()
	out = FetchOutcome{Source: name, Symbol: symbol}
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			q = domain.Quote{}
			out.OK = false
			out.Err = fmt.Errorf("feed: %s %s: panic: %v", name, symbol, r)
		}
		out.Latency = time.Since(started)
		a.report(ctx, q, out)
	}()

	fetchCtx := ctx
	if a.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, a.cfg.FetchTimeout)
		defer cancel()
	}

	got, err := src.FetchQuote(fetchCtx, symbol)
	if err != nil {
		out.Err = err
		return domain.Quote{}, out
	}
	if got.Source == "" {
		got.Source = name
	}
	if got.Symbol == "" {
		got.Symbol = symbol
	}
	out.OK = true
	return got, out
}

func (a *Acquirer) report(ctx context.Context, q domain.Quote, out FetchOutcome) {
	if a.recorder != nil {
		a.recorder.RecordTickerFetch(out.Source, out.Symbol, out.OK)
	}
	if !out.OK {
		msg := "unknown error"
		if out.Err != nil {
			msg = out.Err.Error()
		}
		a.logger.WarnContext(ctx, "ticker fetch failed",
			slog.String("exchange", out.Source),
			slog.String("symbol", out.Symbol),
			slog.Duration("latency", out.Latency),
			slog.String("error", msg),
		)
		return
	}
	a.tel.TrackMetric(ctx, "ticker_price", q.Last, map[string]any{
		"exchange": out.Source,
		"symbol":   out.Symbol,
	})
}
