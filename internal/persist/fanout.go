// Package persist fans a cycle's opportunities out to every configured sink.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// DefaultSinkTimeout bounds a single sink write when Config leaves it unset.
const DefaultSinkTimeout = 30 * time.Second

// Config configures a Fanout.
type Config struct {
	SinkTimeout time.Duration
}

// SinkResult is the outcome of writing one cycle to one sink.
type SinkResult struct {
	Sink     string
	Err      error
	Duration time.Duration
}

// MarshalJSON renders Err as a string.
func (r SinkResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Sink       string  `json:"sink"`
		OK         bool    `json:"ok"`
		Error      string  `json:"error,omitempty"`
		DurationMS float64 `json:"duration_ms"`
	}{Sink: r.Sink, OK: r.Err == nil, DurationMS: float64(r.Duration) / float64(time.Millisecond)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// OK reports whether the write succeeded.
func (r SinkResult) OK() bool { return r.Err == nil }

// Fanout writes to all sinks concurrently. A sink that errors or panics is
// logged and reported in its SinkResult; it never affects the other sinks.
type Fanout struct {
	sinks  []domain.Sink
	cfg    Config
	logger *slog.Logger
}

// NewFanout creates a Fanout over sinks. A nil or empty list is valid.
func NewFanout(sinks []domain.Sink, cfg Config, logger *slog.Logger) *Fanout {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultSinkTimeout
	}
	return &Fanout{
		sinks:  sinks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "persist")),
	}
}

// Sinks returns the names of the configured sinks in order.
func (f *Fanout) Sinks() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

// Save writes opps to every sink and waits for all of them. Results are in
// sink order. When opps is empty no sink is invoked and nil is returned.
func (f *Fanout) Save(ctx context.Context, opps []domain.Opportunity, ts time.Time) []SinkResult {
	if len(opps) == 0 || len(f.sinks) == 0 {
		return nil
	}

	results := make([]SinkResult, len(f.sinks))
	var g errgroup.Group
	for i, sink := range f.sinks {
		g.Go(func() error {
			results[i] = f.write(ctx, sink, opps, ts)
			return nil
		})
	}
	_ = g.Wait()

	saved := 0
	for _, r := range results {
		if r.OK() {
			saved++
		}
	}
	f.logger.InfoContext(ctx, "opportunities persisted",
		slog.Int("count", len(opps)),
		slog.Int("sinks_ok", saved),
		slog.Int("sinks_total", len(results)),
	)
	return results
}

func (f *Fanout) write(ctx context.Context, sink domain.Sink, opps []domain.Opportunity, ts time.Time) (res SinkResult) {
	res.Sink = sink.Name()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("persist: %s: panic: %v", res.Sink, r)
		}
		res.Duration = time.Since(started)
		if res.Err != nil {
			f.logger.ErrorContext(ctx, "sink write failed",
				slog.String("sink", res.Sink),
				slog.Duration("duration", res.Duration),
				slog.String("error", res.Err.Error()),
			)
		}
	}()

	wctx, cancel := context.WithTimeout(ctx, f.cfg.SinkTimeout)
	defer cancel()

	if err := sink.Write(wctx, opps, ts); err != nil {
		res.Err = fmt.Errorf("persist: %s: %w", res.Sink, err)
	}
	return res
}
