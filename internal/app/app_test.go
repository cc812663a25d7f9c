package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/config"
	"github.com/alanyoungcy/arbbot/internal/secrets"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func offlineConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Exchanges.Binance.Enabled = false
	cfg.Exchanges.Bybit.Enabled = false
	cfg.Exchanges.Gateio.Enabled = false
	cfg.Exchanges.Kraken.Enabled = false
	return &cfg
}

func TestBuildSources_FixedOrder(t *testing.T) {
	cfg := config.Defaults()
	sources, err := buildSources(context.Background(), &cfg, secrets.NewEnvVault())
	require.NoError(t, err)

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{"binance", "bybit", "gateio", "kraken"}, names)
}

func TestBuildSources_SkipsDisabled(t *testing.T) {
	cfg := offlineConfig()
	cfg.Exchanges.Kraken.Enabled = true

	sources, err := buildSources(context.Background(), cfg, secrets.NewEnvVault())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "kraken", sources[0].Name())

	cfg = offlineConfig()
	sources, err = buildSources(context.Background(), cfg, secrets.NewEnvVault())
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestBuildVault_FileBackendMissingFile(t *testing.T) {
	cfg := offlineConfig()
	cfg.Secrets.Backend = "file"
	cfg.Secrets.Path = filepath.Join(t.TempDir(), "missing.enc")
	cfg.Secrets.Password = "pw"

	_, err := buildVault(cfg)
	require.Error(t, err)
}

func TestBuildAdvisor_DisabledWithoutKey(t *testing.T) {
	cfg := offlineConfig()
	cfg.Advisor.Enabled = true
	adv, err := buildAdvisor(context.Background(), cfg, secrets.NewEnvVault(), testLogger())
	require.NoError(t, err)
	assert.Nil(t, adv)

	cfg.Advisor.APIKey = "sk-test"
	adv, err = buildAdvisor(context.Background(), cfg, secrets.NewEnvVault(), testLogger())
	require.NoError(t, err)
	assert.NotNil(t, adv)
}

func TestOpportunityHandler_NilWithoutQueryableSinks(t *testing.T) {
	assert.Nil(t, opportunityHandler(&Dependencies{}, testLogger()))
}

func TestRun_OnceModeWithoutBackends(t *testing.T) {
	cfg := offlineConfig()
	cfg.Mode = "once"

	a := New(cfg, testLogger())
	defer a.Close()
	require.NoError(t, a.Run(context.Background()))
}

func TestRun_UnknownMode(t *testing.T) {
	cfg := offlineConfig()
	cfg.Mode = "backtest"

	a := New(cfg, testLogger())
	defer a.Close()
	require.Error(t, a.Run(context.Background()))
}
