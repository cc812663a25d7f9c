// Package kraken implements the market data source for Kraken spot over its
// public and private REST API.
package kraken

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
const Name = "kraken"

const defaultBaseURL = "https://api.kraken.com"

// Config configures a Client.
type Config struct {
	BaseURL   string
	Auth      crypto.HMACAuth // Secret is base64 as issued by Kraken
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// Client is a domain.Source backed by the Kraken REST API.
type Client struct {
	baseURL    string
	auth       crypto.HMACAuth
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ domain.Source = (*Client)(nil)

// New creates a Kraken client. Kraken's public tier is strict, so the
// default rate is one request per second.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
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

// Pair converts "BTC/USDT" to Kraken's "XBTUSDT".
func Pair(symbol string) string {
	base, quote, _ := strings.Cut(strings.ToUpper(symbol), "/")
	if base == "BTC" {
		base = "XBT"
	}
	return base + quote
}

// FetchQuote returns best bid/ask, last trade price and 24h base volume.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("pair", Pair(symbol))

	result, err := c.public(ctx, "/0/public/Ticker", params)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("kraken: ticker %s: %w", symbol, err)
	}
	t, ok := first(result)
	if !ok {
		return domain.Quote{}, fmt.Errorf("kraken: ticker %s: %w", symbol, domain.ErrNotFound)
	}

	q := domain.Quote{Source: Name, Symbol: symbol, ObservedAt: time.Now()}
	for _, f := range []struct {
		path string
		dst  *float64
	}{
		{"b.0", &q.Bid},
		{"a.0", &q.Ask},
		{"c.0", &q.Last},
		{"v.1", &q.Volume},
	} {
		v, err := parseFloat(t.Get(f.path).String())
		if err != nil {
			return domain.Quote{}, fmt.Errorf("kraken: ticker %s: %s: %w", symbol, f.path, err)
		}
		*f.dst = v
	}
	return q, nil
}

// FetchOrderBook returns up to depth levels per side.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	params := url.Values{}
	params.Set("pair", Pair(symbol))
	params.Set("count", strconv.Itoa(depth))

	result, err := c.public(ctx, "/0/public/Depth", params)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("kraken: depth %s: %w", symbol, err)
	}
	d, ok := first(result)
	if !ok {
		return domain.OrderBook{}, fmt.Errorf("kraken: depth %s: %w", symbol, domain.ErrNotFound)
	}

	book := domain.OrderBook{Source: Name, Symbol: symbol, ObservedAt: time.Now()}
	if book.Bids, err = levels(d.Get("bids")); err != nil {
		return domain.OrderBook{}, fmt.Errorf("kraken: depth %s: bids: %w", symbol, err)
	}
	if book.Asks, err = levels(d.Get("asks")); err != nil {
		return domain.OrderBook{}, fmt.Errorf("kraken: depth %s: asks: %w", symbol, err)
	}
	return book, nil
}

// FetchBalances returns balances greater than zero keyed by normalised
// currency code (XXBT becomes BTC, ZUSD becomes USD).
func (c *Client) FetchBalances(ctx context.Context) (map[string]float64, error) {
	if c.auth.Empty() {
		return nil, fmt.Errorf("kraken: balances: %w: no credentials", domain.ErrUnauthorized)
	}

	result, err := c.private(ctx, "/0/private/Balance", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("kraken: balances: %w", err)
	}

	out := make(map[string]float64)
	var parseErr error
	result.ForEach(func(asset, amount gjson.Result) bool {
		v, err := parseFloat(amount.String())
		if err != nil {
			parseErr = fmt.Errorf("%s: %w", asset.String(), err)
			return false
		}
		if v > 0 {
			out[Asset(asset.String())] += v
		}
		return true
	})
	if parseErr != nil {
		return nil, fmt.Errorf("kraken: balances: %w", parseErr)
	}
	return out, nil
}

// Asset normalises a Kraken asset code.
func Asset(code string) string {
	if len(code) == 4 && (code[0] == 'X' || code[0] == 'Z') {
		code = code[1:]
	}
	if code == "XBT" {
		return "BTC"
	}
	return code
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) public(ctx context.Context, path string, params url.Values) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) private(ctx context.Context, path string, form url.Values) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}
	nonce := crypto.KrakenNonce()
	form.Set("nonce", nonce)
	body := form.Encode()

	sig, err := c.auth.KrakenSign(path, nonce, body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.auth.Key)
	req.Header.Set("API-Sign", sig)
	return c.do(req)
}

// do executes req and returns the "result" member, mapping Kraken's error
// array onto domain errors.
func (c *Client) do(req *http.Request) (gjson.Result, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return gjson.Result{}, fmt.Errorf("%w: HTTP %d", domain.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return gjson.Result{}, fmt.Errorf("%w: HTTP 429", domain.ErrRateLimited)
	}

	doc := gjson.ParseBytes(body)
	if errs := doc.Get("error").Array(); len(errs) > 0 {
		return gjson.Result{}, apiError(errs[0].String())
	}
	if resp.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return doc.Get("result"), nil
}

func apiError(msg string) error {
	switch {
	case strings.HasPrefix(msg, "EQuery:Unknown asset pair"):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case strings.HasPrefix(msg, "EAPI:Invalid key"),
		strings.HasPrefix(msg, "EAPI:Invalid signature"),
		strings.HasPrefix(msg, "EAPI:Invalid nonce"),
		strings.HasPrefix(msg, "EGeneral:Permission denied"):
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case strings.HasPrefix(msg, "EAPI:Rate limit exceeded"),
		strings.HasPrefix(msg, "EGeneral:Too many requests"):
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case strings.HasPrefix(msg, "EService:Unavailable"),
		strings.HasPrefix(msg, "EService:Busy"):
		return fmt.Errorf("%w: %s", domain.ErrUnavailable, msg)
	default:
		return fmt.Errorf("kraken error: %s", msg)
	}
}

// first returns the single entry of a result object keyed by Kraken's
// internal pair name, which may differ from the requested one.
func first(result gjson.Result) (gjson.Result, bool) {
	var out gjson.Result
	var found bool
	result.ForEach(func(_, v gjson.Result) bool {
		out, found = v, true
		return false
	})
	return out, found
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
