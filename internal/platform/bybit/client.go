// Package bybit implements the market data source for Bybit spot over the
// v5 REST API.
package bybit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Name is the source identifier used in quotes and opportunities.
const Name = "bybit"

const (
	defaultBaseURL = "https://api.bybit.com"
	recvWindow     = 5000
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	Auth      crypto.HMACAuth
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// Client is a domain.Source backed by the Bybit v5 REST API.
type Client struct {
	baseURL    string
	auth       crypto.HMACAuth
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ domain.Source = (*Client)(nil)

// New creates a Bybit client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		auth:       cfg.Auth,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}
}

// Name implements domain.Source.
func (c *Client) Name() string { return Name }

// Symbol converts "BTC/USDT" to Bybit's "BTCUSDT".
func Symbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// FetchQuote returns best bid/ask, last price and 24h base volume.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", Symbol(symbol))

	result, err := c.get(ctx, "/v5/market/tickers", params, false)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("bybit: ticker %s: %w", symbol, err)
	}
	t := result.Get("list.0")
	if !t.Exists() {
		return domain.Quote{}, fmt.Errorf("bybit: ticker %s: %w", symbol, domain.ErrNotFound)
	}

	q := domain.Quote{Source: Name, Symbol: symbol, ObservedAt: time.Now()}
	for _, f := range []struct {
		field string
		dst   *float64
	}{
		{"bid1Price", &q.Bid},
		{"ask1Price", &q.Ask},
		{"lastPrice", &q.Last},
		{"volume24h", &q.Volume},
	} {
		v, err := parseFloat(t.Get(f.field).String())
		if err != nil {
			return domain.Quote{}, fmt.Errorf("bybit: ticker %s: %s: %w", symbol, f.field, err)
		}
		*f.dst = v
	}
	return q, nil
}

// FetchOrderBook returns up to depth levels per side.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", Symbol(symbol))
	params.Set("limit", strconv.Itoa(depth))

	result, err := c.get(ctx, "/v5/market/orderbook", params, false)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("bybit: orderbook %s: %w", symbol, err)
	}

	book := domain.OrderBook{Source: Name, Symbol: symbol, ObservedAt: time.Now()}
	if book.Bids, err = levels(result.Get("b")); err != nil {
		return domain.OrderBook{}, fmt.Errorf("bybit: orderbook %s: bids: %w", symbol, err)
	}
	if book.Asks, err = levels(result.Get("a")); err != nil {
		return domain.OrderBook{}, fmt.Errorf("bybit: orderbook %s: asks: %w", symbol, err)
	}
	return book, nil
}

// FetchBalances returns wallet balances greater than zero from the unified
// trading account.
func (c *Client) FetchBalances(ctx context.Context) (map[string]float64, error) {
	if c.auth.Empty() {
		return nil, fmt.Errorf("bybit: balances: %w: no credentials", domain.ErrUnauthorized)
	}
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	result, err := c.get(ctx, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return nil, fmt.Errorf("bybit: balances: %w", err)
	}

	out := make(map[string]float64)
	var parseErr error
	result.Get("list.0.coin").ForEach(func(_, coin gjson.Result) bool {
		v, err := parseFloat(coin.Get("walletBalance").String())
		if err != nil {
			parseErr = fmt.Errorf("%s: %w", coin.Get("coin").String(), err)
			return false
		}
		if v > 0 {
			out[coin.Get("coin").String()] = v
		}
		return true
	})
	if parseErr != nil {
		return nil, fmt.Errorf("bybit: balances: %w", parseErr)
	}
	return out, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// get performs a GET and returns the "result" object of a retCode=0
// response.
func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}

	query := params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		for k, v := range c.auth.BybitHeaders(query, recvWindow) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return gjson.Result{}, err
	}

	doc := gjson.ParseBytes(body)
	if code := doc.Get("retCode").Int(); code != 0 {
		return gjson.Result{}, retCodeError(code, doc.Get("retMsg").String())
	}
	return doc.Get("result"), nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", domain.ErrUnavailable, statusCode)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func retCodeError(code int64, msg string) error {
	switch code {
	case 10003, 10004, 10005, 33004:
		return fmt.Errorf("%w: retCode %d: %s", domain.ErrUnauthorized, code, msg)
	case 10006, 10018:
		return fmt.Errorf("%w: retCode %d: %s", domain.ErrRateLimited, code, msg)
	case 10001:
		return fmt.Errorf("%w: retCode %d: %s", domain.ErrNotFound, code, msg)
	default:
		return fmt.Errorf("retCode %d: %s", code, msg)
	}
}

func levels(arr gjson.Result) ([]domain.PriceLevel, error) {
	var out []domain.PriceLevel
	var parseErr error
	arr.ForEach(func(_, lvl gjson.Result) bool {
		p, err := parseFloat(lvl.Get("0").String())
		if err != nil {
			parseErr = err
			return false
		}
		s, err := parseFloat(lvl.Get("1").String())
		if err != nil {
			parseErr = err
			return false
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
		return true
	})
	return out, parseErr
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidQuote, s)
	}
	return d.InexactFloat64(), nil
}
