package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arbbot/internal/advisor"
	s3blob "github.com/alanyoungcy/arbbot/internal/blob/s3"
	"github.com/alanyoungcy/arbbot/internal/cache/redis"
	"github.com/alanyoungcy/arbbot/internal/config"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/notify"
	"github.com/alanyoungcy/arbbot/internal/platform/binance"
	"github.com/alanyoungcy/arbbot/internal/platform/bybit"
	"github.com/alanyoungcy/arbbot/internal/platform/gateio"
	"github.com/alanyoungcy/arbbot/internal/platform/kraken"
	"github.com/alanyoungcy/arbbot/internal/secrets"
	"github.com/alanyoungcy/arbbot/internal/server/handler"
	"github.com/alanyoungcy/arbbot/internal/store/postgres"
	"github.com/alanyoungcy/arbbot/internal/store/sqlite"
)

// Dependencies bundles the external collaborators of the scan loop. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Sources []domain.Source

	// Sinks in fan-out order. The typed fields below point at the same
	// values when the backend can also be queried.
	Sinks      []domain.Sink
	Table      *redis.TableSink
	History    *postgres.OpportunitySink
	Local      *sqlite.Sink
	TradeStore domain.TradeStore

	SignalBus domain.SignalBus
	Locker    domain.Locker

	Advisor  domain.Advisor
	Notifier *notify.Notifier

	// Checks are probed by the health endpoint.
	Checks map[string]handler.CheckFunc
}

// Wire constructs every enabled backend from cfg and returns them together
// with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	closeLogged := func(name string, fn func() error) func() {
		return func() {
			if err := fn(); err != nil {
				logger.Warn("close failed", slog.String("resource", name), slog.String("error", err.Error()))
			}
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.CheckFunc)}
	topN := cfg.Trading.PersistTopN

	// --- Secrets ---
	vault, err := buildVault(cfg)
	if err != nil {
		return fail(fmt.Errorf("wire: secrets: %w", err))
	}

	// --- Exchanges ---
	deps.Sources, err = buildSources(ctx, cfg, vault)
	if err != nil {
		return fail(fmt.Errorf("wire: exchanges: %w", err))
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, closeLogged("postgres", pgClient.Close))

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.History = postgres.NewOpportunitySink(pool, topN)
		deps.Sinks = append(deps.Sinks, deps.History)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled || cfg.Telemetry.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, closeLogged("redis", redisClient.Close))
		deps.Checks["redis"] = redisClient.Ping

		if cfg.Telemetry.Enabled {
			deps.SignalBus = redis.NewSignalBus(redisClient)
		}
		if cfg.Redis.Enabled {
			deps.Table = redis.NewTableSink(redisClient, topN, cfg.Redis.TableTTL.Duration)
			deps.Sinks = append(deps.Sinks, deps.Table)
			if cfg.Redis.CycleLock {
				deps.Locker = redis.NewLockManager(redisClient)
			}
		}
	}

	// --- S3 blob storage and data lake ---
	if cfg.S3.Enabled || cfg.S3.LakeEnabled {
		s3cfg := s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		}
		blobClient, err := s3blob.New(ctx, s3cfg)
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, closeLogged("s3", blobClient.Close))
		deps.Checks["s3"] = blobClient.Health

		if cfg.S3.Enabled {
			deps.Sinks = append(deps.Sinks, s3blob.NewBlobSink(blobClient, cfg.S3.BlobPrefix))
		}
		if cfg.S3.LakeEnabled {
			lakeClient := blobClient
			if cfg.S3.LakeBucket != "" && cfg.S3.LakeBucket != cfg.S3.Bucket {
				s3cfg.Bucket = cfg.S3.LakeBucket
				if lakeClient, err = s3blob.New(ctx, s3cfg); err != nil {
					return fail(fmt.Errorf("wire: s3 lake: %w", err))
				}
				closers = append(closers, closeLogged("s3 lake", lakeClient.Close))
			}
			deps.Sinks = append(deps.Sinks, s3blob.NewLakeSink(lakeClient, cfg.S3.LakePrefix))
		}
	}

	// --- SQLite ---
	if cfg.SQLite.Enabled {
		local, err := sqlite.Open(cfg.SQLite.Path, topN)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, closeLogged("sqlite", local.Close))
		deps.Local = local
		deps.Sinks = append(deps.Sinks, local)
	}

	// --- Advisor ---
	deps.Advisor, err = buildAdvisor(ctx, cfg, vault, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: advisor: %w", err))
	}

	// --- Notifications ---
	deps.Notifier, err = buildNotifier(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: notify: %w", err))
	}

	return deps, cleanup, nil
}

// buildVault returns the configured secret source. The file backend falls
// back to the environment for names it does not hold.
func buildVault(cfg *config.Config) (secrets.Vault, error) {
	env := secrets.NewEnvVault()
	if !strings.EqualFold(cfg.Secrets.Backend, "file") {
		return env, nil
	}
	file, err := secrets.OpenFileVault(cfg.Secrets.Path, cfg.Secrets.Password)
	if err != nil {
		return nil, err
	}
	return secrets.Chain{file, env}, nil
}

// buildSources creates one adapter per enabled exchange, in the fixed order
// of config.ExchangesConfig.Named. Zero enabled exchanges is not an error.
func buildSources(ctx context.Context, cfg *config.Config, vault secrets.Vault) ([]domain.Source, error) {
	var sources []domain.Source
	for _, ex := range cfg.Exchanges.Named() {
		if !ex.Enabled {
			continue
		}
		auth, err := secrets.ExchangeCredentials(ctx, vault, ex.Name)
		if err != nil {
			return nil, fmt.Errorf("%s credentials: %w", ex.Name, err)
		}

		var src domain.Source
		switch ex.Name {
		case "binance":
			src = binance.New(binance.Config{BaseURL: ex.BaseURL, Auth: auth, RateLimit: ex.RateLimit, Burst: ex.Burst, Timeout: ex.Timeout.Duration})
		case "bybit":
			src = bybit.New(bybit.Config{BaseURL: ex.BaseURL, Auth: auth, RateLimit: ex.RateLimit, Burst: ex.Burst, Timeout: ex.Timeout.Duration})
		case "gateio":
			src = gateio.New(gateio.Config{BaseURL: ex.BaseURL, Auth: auth, RateLimit: ex.RateLimit, Burst: ex.Burst, Timeout: ex.Timeout.Duration})
		case "kraken":
			src = kraken.New(kraken.Config{BaseURL: ex.BaseURL, Auth: auth, RateLimit: ex.RateLimit, Burst: ex.Burst, Timeout: ex.Timeout.Duration})
		default:
			return nil, fmt.Errorf("unknown exchange %q", ex.Name)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// buildAdvisor returns nil when the advisor is disabled or has no API key.
// The key comes from the config first, then from the vault.
func buildAdvisor(ctx context.Context, cfg *config.Config, vault secrets.Vault, logger *slog.Logger) (domain.Advisor, error) {
	if !cfg.Advisor.Enabled {
		return nil, nil
	}
	key := cfg.Advisor.APIKey
	if key == "" {
		var err error
		if key, err = secrets.AdvisorKey(ctx, vault); err != nil {
			return nil, err
		}
	}
	if key == "" {
		logger.WarnContext(ctx, "advisor enabled but no API key configured, disabling")
		return nil, nil
	}

	client := advisor.NewChatClient(advisor.ClientConfig{
		BaseURL:     cfg.Advisor.BaseURL,
		APIKey:      key,
		Model:       cfg.Advisor.Model,
		Temperature: cfg.Advisor.Temperature,
		MaxTokens:   cfg.Advisor.MaxTokens,
		Timeout:     cfg.Advisor.Timeout.Duration,
		MaxRetries:  cfg.Advisor.MaxRetries,
	})
	return advisor.New(client, logger), nil
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) (*notify.Notifier, error) {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.TelegramAPIURL)
		if err != nil {
			return nil, err
		}
		senders = append(senders, tg)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.MinProfitPercent, logger), nil
}
