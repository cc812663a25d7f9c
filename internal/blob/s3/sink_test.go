package s3blob

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type recordingWriter struct {
	path        string
	contentType string
	multipart   bool
	body        []byte
}

func (w *recordingWriter) Put(_ context.Context, p string, data io.Reader, contentType string) error {
	w.path, w.contentType = p, contentType
	w.body, _ = io.ReadAll(data)
	return nil
}

func (w *recordingWriter) PutMultipart(_ context.Context, p string, data io.Reader, _ int64) error {
	w.path, w.multipart = p, true
	w.body, _ = io.ReadAll(data)
	return nil
}

var cycleTS = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func opps() []domain.Opportunity {
	return []domain.Opportunity{{
		ID: "a", Symbol: "BTC/USDT", BuySource: "binance", SellSource: "bybit",
		BuyPrice: 50000, SellPrice: 50700, ProfitPercent: 1.4, ProfitUSD: 140, Volume: 0.2,
		DetectedAt: cycleTS,
	}}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "opportunities/2024/03/09/140507.json", ObjectKey("opportunities", cycleTS))
	local := cycleTS.In(time.FixedZone("X", 3600))
	assert.Equal(t, "p/2024/03/09/140507.json", ObjectKey("p", local))
}

func TestBlobSink_Write(t *testing.T) {
	w := &recordingWriter{}
	s := NewBlobSink(w, "")
	require.NoError(t, s.Write(context.Background(), opps(), cycleTS))

	assert.Equal(t, "opportunities/2024/03/09/140507.json", w.path)
	assert.Equal(t, "application/json", w.contentType)
	assert.False(t, w.multipart)
	doc := gjson.ParseBytes(w.body)
	assert.True(t, doc.IsArray())
	assert.Equal(t, "binance", doc.Get("0.buy_exchange").String())
	assert.Equal(t, "bybit", doc.Get("0.sell_exchange").String())
	assert.Equal(t, 1.4, doc.Get("0.profit_percent").Float())
}

func TestLakeSink_Write(t *testing.T) {
	w := &recordingWriter{}
	s := NewLakeSink(w, "")
	require.NoError(t, s.Write(context.Background(), opps(), cycleTS))

	assert.Equal(t, "arbitrage_results/2024/03/09/140507.json", w.path)
	assert.True(t, w.multipart)
	doc := gjson.ParseBytes(w.body)
	assert.Equal(t, int64(1), doc.Get("opportunities.#").Int())
	assert.Equal(t, "2024-03-09T14:05:07Z", doc.Get("timestamp").String())
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
}
