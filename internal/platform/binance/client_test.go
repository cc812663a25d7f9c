package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

func newTestServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Symbol("BTC/USDT"))
	assert.Equal(t, "SOLUSDT", Symbol("sol/usdt"))
}

func TestFetchQuote(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"/api/v3/ticker/24hr": `{"symbol":"BTCUSDT","bidPrice":"49500.00","askPrice":"49510.00","lastPrice":"49505.10","volume":"1234.5"}`,
	})
	c := New(Config{BaseURL: srv.URL, RateLimit: 100})
	defer c.Close()

	q, err := c.FetchQuote(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "binance", q.Source)
	assert.Equal(t, "BTC/USDT", q.Symbol)
	assert.Equal(t, 49500.0, q.Bid)
	assert.Equal(t, 49510.0, q.Ask)
	assert.Equal(t, 49505.1, q.Last)
	assert.Equal(t, 1234.5, q.Volume)
}

func TestFetchQuote_UnknownSymbol(t *testing.T) {
	srv := newTestServer(t, map[string]string{})
	c := New(Config{BaseURL: srv.URL, RateLimit: 100})

	_, err := c.FetchQuote(context.Background(), "NOPE/USDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchOrderBook(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"/api/v3/depth": `{"lastUpdateId":1,"bids":[["100.5","2"],["100.4","1"]],"asks":[["100.6","3"]]}`,
	})
	c := New(Config{BaseURL: srv.URL, RateLimit: 100})

	book, err := c.FetchOrderBook(context.Background(), "ETH/USDT", 5)
	require.NoError(t, err)
	require.Len(t, book.Bids, 2)
	assert.Equal(t, 100.5, book.BestBid())
	assert.Equal(t, 100.6, book.BestAsk())
	assert.Equal(t, 3.0, book.Asks[0].Size)
}

func TestFetchBalances(t *testing.T) {
	t.Run("no credentials", func(t *testing.T) {
		c := New(Config{RateLimit: 100})
		_, err := c.FetchBalances(context.Background())
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("filters zero balances", func(t *testing.T) {
		srv := newTestServer(t, map[string]string{
			"/api/v3/account": `{"balances":[{"asset":"BTC","free":"0.5","locked":"0"},{"asset":"ETH","free":"0.00000000","locked":"1"}]}`,
		})
		c := New(Config{BaseURL: srv.URL, RateLimit: 100, Auth: crypto.HMACAuth{Key: "k", Secret: "s"}})
		bal, err := c.FetchBalances(context.Background())
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"BTC": 0.5}, bal)
	})
}
