package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Default key prefixes.
const (
	DefaultBlobPrefix = "opportunities"
	DefaultLakePrefix = "arbitrage_results"
)

// ObjectKey returns "<prefix>/YYYY/MM/DD/HHMMSS.json" for ts in UTC.
func ObjectKey(prefix string, ts time.Time) string {
	ts = ts.UTC()
	return path.Join(prefix, ts.Format("2006/01/02"), ts.Format("150405")+".json")
}

// BlobSink stores each cycle as a JSON array of opportunities.
type BlobSink struct {
	w      domain.BlobWriter
	prefix string
}

// NewBlobSink creates a BlobSink. An empty prefix uses DefaultBlobPrefix.
func NewBlobSink(w domain.BlobWriter, prefix string) *BlobSink {
	if prefix == "" {
		prefix = DefaultBlobPrefix
	}
	return &BlobSink{w: w, prefix: prefix}
}

// Name implements domain.Sink.
func (s *BlobSink) Name() string { return "blob" }

// Write implements domain.Sink.
func (s *BlobSink) Write(ctx context.Context, opps []domain.Opportunity, ts time.Time) error {
	body, err := json.Marshal(opps)
	if err != nil {
		return fmt.Errorf("s3blob: marshal opportunities: %w", err)
	}
	return s.w.Put(ctx, ObjectKey(s.prefix, ts), bytes.NewReader(body), "application/json")
}

// LakeSink stores each cycle as a timestamped document in the data lake
// layout, uploaded through the multipart manager.
type LakeSink struct {
	w      domain.BlobWriter
	prefix string
}

// NewLakeSink creates a LakeSink. An empty prefix uses DefaultLakePrefix.
func NewLakeSink(w domain.BlobWriter, prefix string) *LakeSink {
	if prefix == "" {
		prefix = DefaultLakePrefix
	}
	return &LakeSink{w: w, prefix: prefix}
}

type lakeDocument struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
	Timestamp     time.Time            `json:"timestamp"`
}

// Name implements domain.Sink.
func (s *LakeSink) Name() string { return "datalake" }

// Write implements domain.Sink.
func (s *LakeSink) Write(ctx context.Context, opps []domain.Opportunity, ts time.Time) error {
	body, err := json.Marshal(lakeDocument{Opportunities: opps, Timestamp: ts.UTC()})
	if err != nil {
		return fmt.Errorf("s3blob: marshal lake document: %w", err)
	}
	return s.w.PutMultipart(ctx, ObjectKey(s.prefix, ts), bytes.NewReader(body), 0)
}

var (
	_ domain.Sink = (*BlobSink)(nil)
	_ domain.Sink = (*LakeSink)(nil)
)
