// Package telemetry records named events, numeric metrics and timed spans.
// A Telemetry value is constructed once at startup and handed to the
// components that report through it; there is no package-level state.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// DefaultChannel is the pub/sub channel envelopes are published on.
const DefaultChannel = "arb:events"

// Kind distinguishes envelope types on the wire.
type Kind string

const (
	KindEvent  Kind = "event"
	KindMetric Kind = "metric"
	KindSpan   Kind = "span"
)

// Envelope is the JSON document published for every event, metric and
// finished span.
type Envelope struct {
	Kind       Kind           `json:"kind"`
	Name       string         `json:"name"`
	Value      *float64       `json:"value,omitempty"`
	DurationMs *float64       `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// MetricStats aggregates every observation of one metric name.
type MetricStats struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Last  float64 `json:"last"`
}

// Snapshot is a point-in-time copy of the in-memory aggregates.
type Snapshot struct {
	Events  map[string]int         `json:"events"`
	Metrics map[string]MetricStats `json:"metrics"`
}

// Config configures a Telemetry.
type Config struct {
	Channel string
	Now     func() time.Time
}

// Telemetry is safe for concurrent use. A nil *Telemetry is a valid no-op.
type Telemetry struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	publishers []domain.Publisher
	events     map[string]int
	metrics    map[string]MetricStats
}

// New creates a Telemetry that publishes envelopes to every publisher.
func New(cfg Config, logger *slog.Logger, publishers ...domain.Publisher) *Telemetry {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Telemetry{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "telemetry")),
		publishers: publishers,
		events:     make(map[string]int),
		metrics:    make(map[string]MetricStats),
	}
}

// AddPublisher registers another publisher. Used when a publisher (such as
// the WebSocket hub) is constructed after the Telemetry.
func (t *Telemetry) AddPublisher(p domain.Publisher) {
	if t == nil || p == nil {
		return
	}
	t.mu.Lock()
	t.publishers = append(t.publishers, p)
	t.mu.Unlock()
}

// Channel returns the channel envelopes are published on.
func (t *Telemetry) Channel() string {
	if t == nil {
		return DefaultChannel
	}
	return t.cfg.Channel
}

// TrackEvent records a named occurrence.
func (t *Telemetry) TrackEvent(ctx context.Context, name string, attrs map[string]any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.events[name]++
	t.mu.Unlock()

	t.logger.InfoContext(ctx, "event", slog.String("event", name), slog.Any("attributes", attrs))
	t.publish(ctx, Envelope{Kind: KindEvent, Name: name, Attributes: attrs, Timestamp: t.cfg.Now()})
}

// TrackMetric records one observation of a numeric metric.
func (t *Telemetry) TrackMetric(ctx context.Context, name string, value float64, attrs map[string]any) {
	if t == nil {
		return
	}
	t.observe(name, value)

	t.logger.DebugContext(ctx, "metric",
		slog.String("metric", name),
		slog.Float64("value", value),
		slog.Any("attributes", attrs),
	)
	v := value
	t.publish(ctx, Envelope{Kind: KindMetric, Name: name, Value: &v, Attributes: attrs, Timestamp: t.cfg.Now()})
}

func (t *Telemetry) observe(name string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.metrics[name]
	if !ok {
		st = MetricStats{Min: math.Inf(1), Max: math.Inf(-1)}
	}
	st.Count++
	st.Sum += value
	st.Min = math.Min(st.Min, value)
	st.Max = math.Max(st.Max, value)
	st.Last = value
	t.metrics[name] = st
}

// Snapshot copies the current aggregates.
func (t *Telemetry) Snapshot() Snapshot {
	snap := Snapshot{Events: map[string]int{}, Metrics: map[string]MetricStats{}}
	if t == nil {
		return snap
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range t.events {
		snap.Events[k] = v
	}
	for k, v := range t.metrics {
		snap.Metrics[k] = v
	}
	return snap
}

func (t *Telemetry) publish(ctx context.Context, env Envelope) {
	t.mu.Lock()
	pubs := append([]domain.Publisher(nil), t.publishers...)
	t.mu.Unlock()
	if len(pubs) == 0 {
		return
	}

	payload, err := json.Marshal(env)
	if err != nil {
		t.logger.WarnContext(ctx, "telemetry: marshal envelope",
			slog.String("name", env.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, p := range pubs {
		if err := p.Publish(ctx, t.cfg.Channel, payload); err != nil {
			t.logger.WarnContext(ctx, "telemetry: publish failed",
				slog.String("name", env.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}
