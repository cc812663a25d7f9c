package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Span times one operation. End must be called exactly once in spirit; extra
// calls are ignored.
type Span struct {
	tel     *Telemetry
	name    string
	started time.Time

	once sync.Once
	err  error
	ctx  context.Context
}

type spanKey struct{}

// StartSpan begins a span named name. The returned context carries the span
// so nested code can reach it with SpanFromContext.
func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{tel: t, name: name, ctx: ctx}
	if t != nil {
		s.started = t.cfg.Now()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

// SpanFromContext returns the innermost span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// Fail marks the span as failed; the error is reported when the span ends.
func (s *Span) Fail(err error) {
	if s == nil {
		return
	}
	s.err = err
}

// End finishes the span, logging its duration and recording it as the
// metric "<name>.duration_ms".
func (s *Span) End() {
	if s == nil || s.tel == nil {
		return
	}
	s.once.Do(func() {
		t := s.tel
		elapsed := t.cfg.Now().Sub(s.started)
		ms := float64(elapsed) / float64(time.Millisecond)
		t.observe(s.name+".duration_ms", ms)

		attrs := []any{slog.String("span", s.name), slog.Duration("duration", elapsed)}
		env := Envelope{Kind: KindSpan, Name: s.name, DurationMs: &ms, Timestamp: t.cfg.Now()}
		if s.err != nil {
			attrs = append(attrs, slog.String("error", s.err.Error()))
			env.Error = s.err.Error()
		}
		t.logger.DebugContext(s.ctx, "span finished", attrs...)
		t.publish(s.ctx, env)
	})
}
