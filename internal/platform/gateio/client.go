// Package gateio implements the market data source for Gate.io spot over the
// v4 REST API.
package gateio

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
const Name = "gateio"

const defaultBaseURL = "https://api.gateio.ws/api/v4"

// Config configures a Client.
type Config struct {
	BaseURL   string // including the /api/v4 prefix
	Auth      crypto.HMACAuth
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// Client is a domain.Source backed by the Gate.io v4 REST API.
type Client struct {
	baseURL    string
	basePath   string // path component of baseURL, part of the signed string
	auth       crypto.HMACAuth
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ domain.Source = (*Client)(nil)

// New creates a Gate.io client.
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
	base := strings.TrimRight(cfg.BaseURL, "/")
	var basePath string
	if u, err := url.Parse(base); err == nil {
		basePath = u.Path
	}
	return &Client{
		baseURL:    base,
		basePath:   basePath,
		auth:       cfg.Auth,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}
}

// Name implements domain.Source.
func (c *Client) Name() string { return Name }

// Pair converts "BTC/USDT" to Gate.io's "BTC_USDT".
func Pair(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "_"))
}

// FetchQuote returns best bid/ask, last price and 24h base volume.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("currency_pair", Pair(symbol))

	doc, err := c.get(ctx, "/spot/tickers", params, false)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("gateio: ticker %s: %w", symbol, err)
	}
	t := doc.Get("0")
	if !t.Exists() {
		return domain.Quote{}, fmt.Errorf("gateio: ticker %s: %w", symbol, domain.ErrNotFound)
	}

	q := domain.Quote{Source: Name, Symbol: symbol, ObservedAt: time.Now()}
	for _, f := range []struct {
		field string
		dst   *float64
	}{
		{"highest_bid", &q.Bid},
		{"lowest_ask", &q.Ask},
		{"last", &q.Last},
		{"base_volume", &q.Volume},
	} {
		v, err := parseFloat(t.Get(f.field).String())
		if err != nil {
			return domain.Quote{}, fmt.Errorf("gateio: ticker %s: %s: %w", symbol, f.field, err)
		}
		*f.dst = v
	}
	return q, nil
}

// FetchOrderBook returns up to depth levels per side.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	params := url.Values{}
	params.Set("currency_pair", Pair(symbol))
	params.Set("limit", strconv.Itoa(depth))

	doc, err := c.get(ctx, "/spot/order_book", params, false)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("gateio: order book %s: %w", symbol, err)
	}

	book := domain.OrderBook{Source: Name, Symbol: symbol, ObservedAt: time.Now()}
	if book.Bids, err = levels(doc.Get("bids")); err != nil {
		return domain.OrderBook{}, fmt.Errorf("gateio: order book %s: bids: %w", symbol, err)
	}
	if book.Asks, err = levels(doc.Get("asks")); err != nil {
		return domain.OrderBook{}, fmt.Errorf("gateio: order book %s: asks: %w", symbol, err)
	}
	return book, nil
}

// FetchBalances returns available spot balances greater than zero.
func (c *Client) FetchBalances(ctx context.Context) (map[string]float64, error) {
	if c.auth.Empty() {
		return nil, fmt.Errorf("gateio: balances: %w: no credentials", domain.ErrUnauthorized)
	}

	doc, err := c.get(ctx, "/spot/accounts", url.Values{}, true)
	if err != nil {
		return nil, fmt.Errorf("gateio: balances: %w", err)
	}

	out := make(map[string]float64)
	var parseErr error
	doc.ForEach(func(_, acct gjson.Result) bool {
		v, err := parseFloat(acct.Get("available").String())
		if err != nil {
			parseErr = fmt.Errorf("%s: %w", acct.Get("currency").String(), err)
			return false
		}
		if v > 0 {
			out[acct.Get("currency").String()] = v
		}
		return true
	})
	if parseErr != nil {
		return nil, fmt.Errorf("gateio: balances: %w", parseErr)
	}
	return out, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}

	query := params.Encode()
	target := c.baseURL + path
	if query != "" {
		target += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		for k, v := range c.auth.GateHeaders(http.MethodGet, c.basePath+path, query, "") {
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
	return gjson.ParseBytes(body), nil
}

// checkHTTPStatus maps Gate.io error labels onto domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	doc := gjson.ParseBytes(body)
	label, msg := doc.Get("label").String(), doc.Get("message").String()
	switch {
	case label == "INVALID_CURRENCY_PAIR" || label == "INVALID_CURRENCY" || statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, label, msg)
	case label == "INVALID_KEY" || label == "INVALID_SIGNATURE" || label == "FORBIDDEN" ||
		statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", domain.ErrUnauthorized, label, msg)
	case label == "TOO_MANY_REQUESTS" || statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", domain.ErrUnavailable, statusCode)
	default:
		return fmt.Errorf("HTTP %d: %s %s", statusCode, label, msg)
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
