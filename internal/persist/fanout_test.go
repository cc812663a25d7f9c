package persist

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type fakeSink struct {
	name  string
	err   error
	panic bool
	block bool
	calls atomic.Int32
	got   []domain.Opportunity
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Write(ctx context.Context, opps []domain.Opportunity, _ time.Time) error {
	s.calls.Add(1)
	if s.panic {
		panic("boom")
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.got = opps
	return s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleOpps() []domain.Opportunity {
	return []domain.Opportunity{
		{ID: "1", Symbol: "BTC/USDT", BuySource: "binance", SellSource: "bybit", ProfitPercent: 1.2},
		{ID: "2", Symbol: "ETH/USDT", BuySource: "kraken", SellSource: "gateio", ProfitPercent: 0.7},
	}
}

func TestSave_IsolatesFailingSinks(t *testing.T) {
	good := &fakeSink{name: "good"}
	bad := &fakeSink{name: "bad", err: errors.New("disk full")}
	panicky := &fakeSink{name: "panicky", panic: true}
	last := &fakeSink{name: "last"}

	f := NewFanout([]domain.Sink{good, bad, panicky, last}, Config{}, testLogger())
	results := f.Save(context.Background(), sampleOpps(), time.Now())

	require.Len(t, results, 4)
	assert.Equal(t, "good", results[0].Sink)
	assert.True(t, results[0].OK())
	assert.Equal(t, "bad", results[1].Sink)
	assert.ErrorContains(t, results[1].Err, "disk full")
	assert.Equal(t, "panicky", results[2].Sink)
	assert.ErrorContains(t, results[2].Err, "panic")
	assert.True(t, results[3].OK())

	assert.Len(t, good.got, 2)
	assert.Len(t, last.got, 2)
}

func TestSave_EmptyInputSkipsSinks(t *testing.T) {
	s := &fakeSink{name: "s"}
	f := NewFanout([]domain.Sink{s}, Config{}, testLogger())

	assert.Nil(t, f.Save(context.Background(), nil, time.Now()))
	assert.Equal(t, int32(0), s.calls.Load())
}

func TestSave_NoSinks(t *testing.T) {
	f := NewFanout(nil, Config{}, testLogger())
	assert.Nil(t, f.Save(context.Background(), sampleOpps(), time.Now()))
	assert.Empty(t, f.Sinks())
}

func TestSave_TimeoutBoundsSlowSink(t *testing.T) {
	slow := &fakeSink{name: "slow", block: true}
	fast := &fakeSink{name: "fast"}
	f := NewFanout([]domain.Sink{slow, fast}, Config{SinkTimeout: 20 * time.Millisecond}, testLogger())

	start := time.Now()
	results := f.Save(context.Background(), sampleOpps(), time.Now())
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.True(t, results[1].OK())
}

func TestSinkResult_JSON(t *testing.T) {
	data, err := json.Marshal(SinkResult{Sink: "redis", Err: errors.New("timeout"), Duration: 1500 * time.Microsecond})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sink":"redis","ok":false,"error":"timeout","duration_ms":1.5}`, string(data))
}
