package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults.
// The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Trading ──
	setStringSlice(&cfg.Trading.Symbols, "ARBBOT_TRADING_SYMBOLS")
	setFloat64(&cfg.Trading.ThresholdPercent, "ARBBOT_TRADING_THRESHOLD_PERCENT")
	setFloat64(&cfg.Trading.MaxPositionSizeUSD, "ARBBOT_TRADING_MAX_POSITION_SIZE_USD")
	setDuration(&cfg.Trading.Interval, "ARBBOT_TRADING_INTERVAL")
	setDuration(&cfg.Trading.ErrorBackoff, "ARBBOT_TRADING_ERROR_BACKOFF")
	setDuration(&cfg.Trading.FetchTimeout, "ARBBOT_TRADING_FETCH_TIMEOUT")
	setInt(&cfg.Trading.FetchConcurrency, "ARBBOT_TRADING_FETCH_CONCURRENCY")
	setStr(&cfg.Trading.ExecutionMode, "ARBBOT_TRADING_EXECUTION_MODE")
	setDuration(&cfg.Trading.SimulatedLatency, "ARBBOT_TRADING_SIMULATED_LATENCY")
	setInt(&cfg.Trading.PersistTopN, "ARBBOT_TRADING_PERSIST_TOP_N")

	// ── Exchanges ──
	setBool(&cfg.Exchanges.Binance.Enabled, "ARBBOT_EXCHANGES_BINANCE_ENABLED")
	setStr(&cfg.Exchanges.Binance.BaseURL, "ARBBOT_EXCHANGES_BINANCE_BASE_URL")
	setBool(&cfg.Exchanges.Bybit.Enabled, "ARBBOT_EXCHANGES_BYBIT_ENABLED")
	setStr(&cfg.Exchanges.Bybit.BaseURL, "ARBBOT_EXCHANGES_BYBIT_BASE_URL")
	setBool(&cfg.Exchanges.Gateio.Enabled, "ARBBOT_EXCHANGES_GATEIO_ENABLED")
	setStr(&cfg.Exchanges.Gateio.BaseURL, "ARBBOT_EXCHANGES_GATEIO_BASE_URL")
	setBool(&cfg.Exchanges.Kraken.Enabled, "ARBBOT_EXCHANGES_KRAKEN_ENABLED")
	setStr(&cfg.Exchanges.Kraken.BaseURL, "ARBBOT_EXCHANGES_KRAKEN_BASE_URL")

	// ── Secrets ──
	setStr(&cfg.Secrets.Backend, "ARBBOT_SECRETS_BACKEND")
	setStr(&cfg.Secrets.Path, "ARBBOT_SECRETS_PATH")
	setStr(&cfg.Secrets.Password, "ARBBOT_SECRETS_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ARBBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.TableTTL, "ARBBOT_REDIS_TABLE_TTL")
	setBool(&cfg.Redis.CycleLock, "ARBBOT_REDIS_CYCLE_LOCK")
	setDuration(&cfg.Redis.CycleLockTTL, "ARBBOT_REDIS_CYCLE_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.LakeEnabled, "ARBBOT_S3_LAKE_ENABLED")
	setStr(&cfg.S3.LakeBucket, "ARBBOT_S3_LAKE_BUCKET")

	// ── SQLite ──
	setBool(&cfg.SQLite.Enabled, "ARBBOT_SQLITE_ENABLED")
	setStr(&cfg.SQLite.Path, "ARBBOT_SQLITE_PATH")

	// ── Advisor ──
	setBool(&cfg.Advisor.Enabled, "ARBBOT_ADVISOR_ENABLED")
	setStr(&cfg.Advisor.APIKey, "ARBBOT_ADVISOR_API_KEY")
	setStr(&cfg.Advisor.APIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.Advisor.BaseURL, "ARBBOT_ADVISOR_BASE_URL")
	setStr(&cfg.Advisor.Model, "ARBBOT_ADVISOR_MODEL")
	setDuration(&cfg.Advisor.Timeout, "ARBBOT_ADVISOR_TIMEOUT")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.Enabled, "ARBBOT_TELEMETRY_ENABLED")
	setStr(&cfg.Telemetry.Channel, "ARBBOT_TELEMETRY_CHANNEL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBBOT_SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimit, "ARBBOT_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "ARBBOT_SERVER_RATE_BURST")
	setStringSlice(&cfg.Server.TrustedProxies, "ARBBOT_SERVER_TRUSTED_PROXIES")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPIURL, "ARBBOT_NOTIFY_TELEGRAM_API_URL")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBBOT_NOTIFY_EVENTS")
	setFloat64(&cfg.Notify.MinProfitPercent, "ARBBOT_NOTIFY_MIN_PROFIT_PERCENT")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBBOT_MODE")
	setStr(&cfg.LogLevel, "ARBBOT_LOG_LEVEL")
	setStr(&cfg.Environment, "ARBBOT_ENVIRONMENT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
