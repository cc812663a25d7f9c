package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// UnknownPartition is used for opportunities without a symbol.
const UnknownPartition = "UNKNOWN"

// TableSink stores the top N opportunities of each cycle as a row table:
// one hash per row at opp:<partition>:<row>, indexed per partition by a
// sorted set scored by detection time. It implements domain.Sink.
type TableSink struct {
	rdb  *redis.Client
	topN int
	ttl  time.Duration
}

var _ domain.Sink = (*TableSink)(nil)

// NewTableSink creates a TableSink. topN <= 0 keeps every row; ttl <= 0
// keeps rows forever.
func NewTableSink(c *Client, topN int, ttl time.Duration) *TableSink {
	return &TableSink{rdb: c.Underlying(), topN: topN, ttl: ttl}
}

// PartitionKey returns the partition of o.
func PartitionKey(o domain.Opportunity) string {
	if o.Symbol == "" {
		return UnknownPartition
	}
	return o.Symbol
}

// RowKey returns "<RFC3339Nano>_<buy>_<sell>" for o.
func RowKey(o domain.Opportunity, ts time.Time) string {
	return detectedAt(o, ts).Format(time.RFC3339Nano) + "_" + o.BuySource + "_" + o.SellSource
}

func rowKey(partition, row string) string { return "opp:" + partition + ":" + row }

func indexKey(partition string) string { return "opp:index:" + partition }

func detectedAt(o domain.Opportunity, ts time.Time) time.Time {
	if o.DetectedAt.IsZero() {
		return ts.UTC()
	}
	return o.DetectedAt.UTC()
}

// Name implements domain.Sink.
func (s *TableSink) Name() string { return "redis" }

// Write stores the rows in a single pipeline.
func (s *TableSink) Write(ctx context.Context, opps []domain.Opportunity, ts time.Time) error {
	if s.topN > 0 && len(opps) > s.topN {
		opps = opps[:s.topN]
	}
	if len(opps) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	for _, o := range opps {
		partition := PartitionKey(o)
		row := RowKey(o, ts)
		key := rowKey(partition, row)
		at := detectedAt(o, ts)

		pipe.HSet(ctx, key, rowFields(o, at))
		pipe.ZAdd(ctx, indexKey(partition), redis.Z{Score: float64(at.UnixMilli()), Member: row})
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
			pipe.Expire(ctx, indexKey(partition), s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: write opportunity rows: %w", err)
	}
	return nil
}

// Latest returns up to limit rows of partition, newest first. Rows whose
// hash has expired are skipped.
func (s *TableSink) Latest(ctx context.Context, partition string, limit int) ([]domain.Opportunity, error) {
	rows, err := s.rdb.ZRevRange(ctx, indexKey(partition), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read index %s: %w", partition, err)
	}

	out := make([]domain.Opportunity, 0, len(rows))
	for _, row := range rows {
		fields, err := s.rdb.HGetAll(ctx, rowKey(partition, row)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: read row %s: %w", row, err)
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, parseRow(fields))
	}
	return out, nil
}

func rowFields(o domain.Opportunity, at time.Time) map[string]any {
	return map[string]any{
		"id":             o.ID,
		"symbol":         o.Symbol,
		"buy_exchange":   o.BuySource,
		"sell_exchange":  o.SellSource,
		"buy_price":      strconv.FormatFloat(o.BuyPrice, 'f', -1, 64),
		"sell_price":     strconv.FormatFloat(o.SellPrice, 'f', -1, 64),
		"profit_percent": strconv.FormatFloat(o.ProfitPercent, 'f', -1, 64),
		"profit_usd":     strconv.FormatFloat(o.ProfitUSD, 'f', -1, 64),
		"volume":         strconv.FormatFloat(o.Volume, 'f', -1, 64),
		"timestamp":      at.Format(time.RFC3339Nano),
	}
}

func parseRow(f map[string]string) domain.Opportunity {
	num := func(k string) float64 {
		v, _ := strconv.ParseFloat(f[k], 64)
		return v
	}
	at, _ := time.Parse(time.RFC3339Nano, f["timestamp"])
	return domain.Opportunity{
		ID:            f["id"],
		Symbol:        f["symbol"],
		BuySource:     f["buy_exchange"],
		SellSource:    f["sell_exchange"],
		BuyPrice:      num("buy_price"),
		SellPrice:     num("sell_price"),
		ProfitPercent: num("profit_percent"),
		ProfitUSD:     num("profit_usd"),
		Volume:        num("volume"),
		DetectedAt:    at,
	}
}
