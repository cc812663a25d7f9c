// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBBOT_* environment variables.
type Config struct {
	Trading   TradingConfig   `toml:"trading"`
	Exchanges ExchangesConfig `toml:"exchanges"`
	Secrets   SecretsConfig   `toml:"secrets"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Advisor   AdvisorConfig   `toml:"advisor"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`

	Mode        string `toml:"mode"`
	LogLevel    string `toml:"log_level"`
	Environment string `toml:"environment"`
}

// TradingConfig holds the scan loop and execution parameters.
type TradingConfig struct {
	Symbols            []string `toml:"symbols"`
	ThresholdPercent   float64  `toml:"threshold_percent"`
	MaxPositionSizeUSD float64  `toml:"max_position_size_usd"`
	Interval           duration `toml:"interval"`
	ErrorBackoff       duration `toml:"error_backoff"`
	FetchTimeout       duration `toml:"fetch_timeout"`
	FetchConcurrency   int      `toml:"fetch_concurrency"`
	ExecutionMode      string   `toml:"execution_mode"`
	SimulatedLatency   duration `toml:"simulated_latency"`
	SinkTimeout        duration `toml:"sink_timeout"`
	PersistTopN        int      `toml:"persist_top_n"`
	AdviseTopN         int      `toml:"advise_top_n"`
	LogTopN            int      `toml:"log_top_n"`
}

// ExchangesConfig holds one section per supported venue.
type ExchangesConfig struct {
	Binance ExchangeConfig `toml:"binance"`
	Bybit   ExchangeConfig `toml:"bybit"`
	Gateio  ExchangeConfig `toml:"gateio"`
	Kraken  ExchangeConfig `toml:"kraken"`
}

// Named returns the exchange sections in a fixed order keyed by venue name.
// The order determines source order in every cycle.
func (e ExchangesConfig) Named() []NamedExchange {
	return []NamedExchange{
		{Name: "binance", ExchangeConfig: e.Binance},
		{Name: "bybit", ExchangeConfig: e.Bybit},
		{Name: "gateio", ExchangeConfig: e.Gateio},
		{Name: "kraken", ExchangeConfig: e.Kraken},
	}
}

// NamedExchange pairs a venue name with its settings.
type NamedExchange struct {
	Name string
	ExchangeConfig
}

// ExchangeConfig holds per-venue REST client parameters. Credentials are
// resolved from the secrets vault, never from this file.
type ExchangeConfig struct {
	Enabled   bool     `toml:"enabled"`
	BaseURL   string   `toml:"base_url"`
	RateLimit float64  `toml:"rate_limit"` // requests per second
	Burst     int      `toml:"burst"`
	Timeout   duration `toml:"timeout"`
}

// SecretsConfig selects where API credentials come from.
type SecretsConfig struct {
	Backend  string `toml:"backend"` // "env" or "file"
	Path     string `toml:"path"`
	Password string `toml:"password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis serves both as the
// row-table sink and as the telemetry pub/sub bus.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	TableTTL   duration `toml:"table_ttl"`
	// CycleLock makes replicas sharing this Redis take turns: a cycle is
	// skipped while another replica holds the lock. The holder renews the
	// lease every third of CycleLockTTL until its cycle ends.
	CycleLock    bool     `toml:"cycle_lock"`
	CycleLockTTL duration `toml:"cycle_lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the blob and
// data-lake sinks.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	BlobPrefix     string `toml:"blob_prefix"`
	LakeEnabled    bool   `toml:"lake_enabled"`
	LakeBucket     string `toml:"lake_bucket"`
	LakePrefix     string `toml:"lake_prefix"`
}

// SQLiteConfig configures the local opportunity table.
type SQLiteConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// AdvisorConfig configures the LLM advisory client.
type AdvisorConfig struct {
	Enabled     bool     `toml:"enabled"`
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Model       string   `toml:"model"`
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	Timeout     duration `toml:"timeout"`
	MaxRetries  int      `toml:"max_retries"`
}

// TelemetryConfig controls publication of events and metrics on the bus.
type TelemetryConfig struct {
	Enabled bool   `toml:"enabled"`
	Channel string `toml:"channel"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   float64  `toml:"rate_limit"` // requests per second per client, 0 disables
	RateBurst   int      `toml:"rate_burst"`
	// TrustedProxies may set X-Forwarded-For. Without any, clients are
	// keyed by their socket address.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIURL    string   `toml:"telegram_api_url"` // empty uses the public Bot API
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinProfitPercent  float64  `toml:"min_profit_percent"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	exchange := func(baseURL string, rps float64) ExchangeConfig {
		return ExchangeConfig{
			Enabled:   true,
			BaseURL:   baseURL,
			RateLimit: rps,
			Burst:     1,
			Timeout:   duration{10 * time.Second},
		}
	}
	return Config{
		Trading: TradingConfig{
			Symbols:            []string{"BTC/USDT", "ETH/USDT", "BNB/USDT", "SOL/USDT"},
			ThresholdPercent:   0.5,
			MaxPositionSizeUSD: 10000,
			Interval:           duration{10 * time.Second},
			ErrorBackoff:       duration{5 * time.Second},
			FetchTimeout:       duration{10 * time.Second},
			ExecutionMode:      "simulated",
			SimulatedLatency:   duration{100 * time.Millisecond},
			SinkTimeout:        duration{30 * time.Second},
			PersistTopN:        10,
			AdviseTopN:         5,
			LogTopN:            3,
		},
		Exchanges: ExchangesConfig{
			Binance: exchange("https://api.binance.com", 10),
			Bybit:   exchange("https://api.bybit.com", 10),
			Gateio:  exchange("https://api.gateio.ws/api/v4", 10),
			Kraken:  exchange("https://api.kraken.com", 1),
		},
		Secrets: SecretsConfig{
			Backend: "env",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbitrage",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			TableTTL:   duration{7 * 24 * time.Hour},

			CycleLockTTL: duration{15 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbitrage-data",
			ForcePathStyle: true,
			BlobPrefix:     "opportunities",
			LakePrefix:     "arbitrage_results",
		},
		SQLite: SQLiteConfig{
			Path: "arbitrage.db",
		},
		Advisor: AdvisorConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			Temperature: 0.3,
			MaxTokens:   500,
			Timeout:     duration{30 * time.Second},
			MaxRetries:  2,
		},
		Telemetry: TelemetryConfig{
			Channel: "arb:events",
		},
		Server: ServerConfig{
			Enabled:     false,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   20,
			RateBurst:   40,
		},
		Notify: NotifyConfig{
			Events:           []string{"opportunity_detected", "trade_executed", "bot_error"},
			MinProfitPercent: 1.0,
		},
		Mode:        "bot",
		LogLevel:    "info",
		Environment: "production",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"bot":  true,
	"once": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validExecutionModes = map[string]bool{
	"simulated": true,
	"live":      true,
}

var validSecretBackends = map[string]bool{
	"env":  true,
	"file": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: bot, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Trading
	t := c.Trading
	if len(t.Symbols) == 0 {
		errs = append(errs, "trading: symbols must not be empty")
	}
	for _, s := range t.Symbols {
		if base, quote, ok := strings.Cut(s, "/"); !ok || base == "" || quote == "" {
			errs = append(errs, fmt.Sprintf("trading: symbol %q must be BASE/QUOTE", s))
		}
	}
	if t.ThresholdPercent < 0 {
		errs = append(errs, "trading: threshold_percent must be >= 0")
	}
	if t.MaxPositionSizeUSD <= 0 {
		errs = append(errs, "trading: max_position_size_usd must be > 0")
	}
	if t.Interval.Duration <= 0 {
		errs = append(errs, "trading: interval must be > 0")
	}
	if t.ErrorBackoff.Duration < 0 {
		errs = append(errs, "trading: error_backoff must be >= 0")
	}
	if t.FetchTimeout.Duration < 0 {
		errs = append(errs, "trading: fetch_timeout must be >= 0")
	}
	if !validExecutionModes[strings.ToLower(t.ExecutionMode)] {
		errs = append(errs, fmt.Sprintf("trading: unknown execution_mode %q (valid: simulated, live)", t.ExecutionMode))
	}
	if t.PersistTopN < 1 {
		errs = append(errs, "trading: persist_top_n must be >= 1")
	}
	if t.AdviseTopN < 1 {
		errs = append(errs, "trading: advise_top_n must be >= 1")
	}

	// Exchanges
	for _, ex := range c.Exchanges.Named() {
		if !ex.Enabled {
			continue
		}
		if ex.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: base_url must not be empty", ex.Name))
		}
		if ex.RateLimit <= 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: rate_limit must be > 0", ex.Name))
		}
	}

	// Secrets
	if !validSecretBackends[strings.ToLower(c.Secrets.Backend)] {
		errs = append(errs, fmt.Sprintf("secrets: unknown backend %q (valid: env, file)", c.Secrets.Backend))
	}
	if strings.EqualFold(c.Secrets.Backend, "file") {
		if c.Secrets.Path == "" {
			errs = append(errs, "secrets: path is required for the file backend")
		}
		if c.Secrets.Password == "" {
			errs = append(errs, "secrets: password is required for the file backend")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled || c.Telemetry.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.CycleLock && c.Redis.CycleLockTTL.Duration < 3*time.Millisecond {
			errs = append(errs, "redis: cycle_lock_ttl must be >= 3ms")
		}
	}

	// S3
	if c.S3.Enabled || c.S3.LakeEnabled {
		if c.S3.Endpoint == "" && c.S3.Region == "" {
			errs = append(errs, "s3: endpoint or region must be set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// SQLite
	if c.SQLite.Enabled && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Advisor
	if c.Advisor.Enabled {
		if c.Advisor.BaseURL == "" {
			errs = append(errs, "advisor: base_url must not be empty")
		}
		if c.Advisor.Model == "" {
			errs = append(errs, "advisor: model must not be empty")
		}
		if c.Advisor.MaxTokens < 1 {
			errs = append(errs, "advisor: max_tokens must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		for _, p := range c.Server.TrustedProxies {
			if !validProxy(p) {
				errs = append(errs, fmt.Sprintf("server: trusted_proxies entry %q is not an address or CIDR", p))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
