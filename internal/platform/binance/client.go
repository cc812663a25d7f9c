// Package binance implements the market data source for Binance spot on top
// of the go-binance SDK.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Name is the source identifier used in quotes and opportunities.
const Name = "binance"

// Config configures a Client.
type Config struct {
	BaseURL   string // empty uses the SDK default
	Auth      crypto.HMACAuth
	RateLimit float64 // requests per second
	Burst     int
	Timeout   time.Duration
}

// Client is a domain.Source backed by the Binance spot REST API.
type Client struct {
	api     *gobinance.Client
	http    *http.Client
	limiter *rate.Limiter
	hasAuth bool
}

var _ domain.Source = (*Client)(nil)

// New creates a Binance client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	api := gobinance.NewClient(cfg.Auth.Key, cfg.Auth.Secret)
	api.HTTPClient = httpClient
	if cfg.BaseURL != "" {
		api.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &Client{
		api:     api,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		hasAuth: !cfg.Auth.Empty(),
	}
}

// Name implements domain.Source.
func (c *Client) Name() string { return Name }

// Symbol converts "BTC/USDT" to Binance's "BTCUSDT".
func Symbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// FetchQuote returns best bid/ask, last price and 24h base volume.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Quote{}, fmt.Errorf("binance: ticker %s: %w", symbol, err)
	}

	stats, err := c.api.NewListPriceChangeStatsService().Symbol(Symbol(symbol)).Do(ctx)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("binance: ticker %s: %w", symbol, mapError(err))
	}
	if len(stats) == 0 || stats[0] == nil {
		return domain.Quote{}, fmt.Errorf("binance: ticker %s: %w", symbol, domain.ErrNotFound)
	}
	s := stats[0]

	q := domain.Quote{Source: Name, Symbol: symbol, ObservedAt: time.Now()}
	for _, f := range []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"bidPrice", s.BidPrice, &q.Bid},
		{"askPrice", s.AskPrice, &q.Ask},
		{"lastPrice", s.LastPrice, &q.Last},
		{"volume", s.Volume, &q.Volume},
	} {
		v, err := parseFloat(f.raw)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("binance: ticker %s: %s: %w", symbol, f.name, err)
		}
		*f.dst = v
	}
	return q, nil
}

// FetchOrderBook returns up to depth levels per side.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: depth %s: %w", symbol, err)
	}

	res, err := c.api.NewDepthService().Symbol(Symbol(symbol)).Limit(depth).Do(ctx)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: depth %s: %w", symbol, mapError(err))
	}

	book := domain.OrderBook{Source: Name, Symbol: symbol, ObservedAt: time.Now()}
	for _, b := range res.Bids {
		lvl, err := level(b.Price, b.Quantity)
		if err != nil {
			return domain.OrderBook{}, fmt.Errorf("binance: depth %s: %w", symbol, err)
		}
		book.Bids = append(book.Bids, lvl)
	}
	for _, a := range res.Asks {
		lvl, err := level(a.Price, a.Quantity)
		if err != nil {
			return domain.OrderBook{}, fmt.Errorf("binance: depth %s: %w", symbol, err)
		}
		book.Asks = append(book.Asks, lvl)
	}
	return book, nil
}

// FetchBalances returns free balances greater than zero.
func (c *Client) FetchBalances(ctx context.Context) (map[string]float64, error) {
	if !c.hasAuth {
		return nil, fmt.Errorf("binance: balances: %w: no credentials", domain.ErrUnauthorized)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("binance: balances: %w", err)
	}

	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: balances: %w", mapError(err))
	}

	out := make(map[string]float64)
	for _, b := range acct.Balances {
		free, err := parseFloat(b.Free)
		if err != nil {
			return nil, fmt.Errorf("binance: balances: %s: %w", b.Asset, err)
		}
		if free > 0 {
			out[b.Asset] = free
		}
	}
	return out, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func mapError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case -2014, -2015, -1022:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, apiErr.Message)
	case -1003, -1015:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr.Message)
	case -1121:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, apiErr.Message)
	default:
		return err
	}
}

func level(price, size string) (domain.PriceLevel, error) {
	p, err := parseFloat(price)
	if err != nil {
		return domain.PriceLevel{}, err
	}
	s, err := parseFloat(size)
	if err != nil {
		return domain.PriceLevel{}, err
	}
	return domain.PriceLevel{Price: p, Size: s}, nil
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
