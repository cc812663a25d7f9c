package kraken

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

func TestPairAndAsset(t *testing.T) {
	assert.Equal(t, "XBTUSDT", Pair("BTC/USDT"))
	assert.Equal(t, "ETHUSDT", Pair("ETH/USDT"))
	assert.Equal(t, "BTC", Asset("XXBT"))
	assert.Equal(t, "USD", Asset("ZUSD"))
	assert.Equal(t, "ETH", Asset("XETH"))
	assert.Equal(t, "USDT", Asset("USDT"))
	assert.Equal(t, "SOL", Asset("SOL"))
}

func TestFetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Ticker", r.URL.Path)
		assert.Equal(t, "XBTUSDT", r.URL.Query().Get("pair"))
		_, _ = w.Write([]byte(`{"error":[],"result":{"XBTUSDT":{
			"a":["50010.1","1","1.000"],"b":["50000.0","2","2.000"],
			"c":["50005.0","0.01"],"v":["100.5","250.75"]}}}`))
	}))
	defer srv.Close()

	q, err := New(Config{BaseURL: srv.URL, RateLimit: 100}).FetchQuote(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "kraken", q.Source)
	assert.Equal(t, 50000.0, q.Bid)
	assert.Equal(t, 50010.1, q.Ask)
	assert.Equal(t, 50005.0, q.Last)
	assert.Equal(t, 250.75, q.Volume)
}

func TestFetchQuote_ErrorArray(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"EQuery:Unknown asset pair", domain.ErrNotFound},
		{"EAPI:Rate limit exceeded", domain.ErrRateLimited},
		{"EService:Unavailable", domain.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"error":["` + tt.msg + `"]}`))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL, RateLimit: 100}).FetchQuote(context.Background(), "BTC/USDT")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`{"error":[],"result":{"XETHZUSD":{
			"asks":[["3001.0","1.2",1700000000]],"bids":[["3000.5","0.4",1700000000]]}}}`))
	}))
	defer srv.Close()

	book, err := New(Config{BaseURL: srv.URL, RateLimit: 100}).FetchOrderBook(context.Background(), "ETH/USD", 5)
	require.NoError(t, err)
	assert.Equal(t, 3000.5, book.BestBid())
	assert.Equal(t, 3001.0, book.BestAsk())
	assert.Equal(t, 1.2, book.Asks[0].Size)
}

func TestFetchBalances(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("kraken-secret"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("API-Key"))
		assert.NotEmpty(t, r.Header.Get("API-Sign"))
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("nonce"))
		_, _ = w.Write([]byte(`{"error":[],"result":{"XXBT":"0.25","ZUSD":"1000.0","XETH":"0.0000"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RateLimit: 100, Auth: crypto.HMACAuth{Key: "key", Secret: secret}})
	bal, err := c.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 0.25, "USD": 1000}, bal)
}
