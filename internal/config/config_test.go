package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "dev", cfg.AppVersion)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "synthetic", cfg.Provider)
	require.Equal(t, "./state", cfg.StateDir)
	require.Equal(t, "./state/queue.db", cfg.QueueDBPath)
	require.Equal(t, 5, cfg.ScanIntervalMin)
	require.Equal(t, 30, cfg.MisfireGraceSec)
	require.Equal(t, 0, cfg.DailyLimitPerSymbol)
	require.Equal(t, 60, cfg.SignalCooldownMinutes)
	require.Equal(t, 0.85, cfg.AutofixThreshold)
	require.True(t, cfg.StrategyFailoverOnBlock)
	require.False(t, cfg.StrictStartup)
	require.Equal(t, "all", cfg.NotifyMode)

	require.Equal(t, 5*time.Minute, cfg.ScanInterval())
	require.Equal(t, 30*time.Second, cfg.MisfireGrace())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_VERSION", "1.4.0")
	t.Setenv("STATE_DIR", "/var/lib/scanner")
	t.Setenv("AUTO_SCAN_INTERVAL_MIN", "15")
	t.Setenv("STRATEGY_FAILOVER_ON_BLOCK", "false")
	t.Setenv("NOTIFY_MODE", "admin_only")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "1.4.0", cfg.AppVersion)
	require.Equal(t, "/var/lib/scanner", cfg.StateDir)
	// Derived paths follow the state dir.
	require.Equal(t, "/var/lib/scanner/queue.db", cfg.QueueDBPath)
	require.Equal(t, "/var/lib/scanner/market_cache.json", cfg.MarketCachePath)
	require.Equal(t, 15, cfg.ScanIntervalMin)
	require.False(t, cfg.StrategyFailoverOnBlock)
	require.Equal(t, "admin_only", cfg.NotifyMode)
}

func TestProviderPrecedence(t *testing.T) {
	t.Setenv("DATA_PROVIDER", "kraken")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "kraken", cfg.Provider)

	t.Setenv("MARKET_DATA_PROVIDER", "binance")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, "binance", cfg.Provider, "MARKET_DATA_PROVIDER wins")
}

func TestInvalidNotifyModeRejected(t *testing.T) {
	t.Setenv("NOTIFY_MODE", "everyone")
	_, err := Load()
	require.ErrorContains(t, err, "NOTIFY_MODE")
}

func TestMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("AUTO_SCAN_INTERVAL_MIN", "soon")
	t.Setenv("UNKNOWN_DETECTOR_AUTOFIX_THRESHOLD", "high")
	t.Setenv("STRICT_STARTUP", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.ScanIntervalMin)
	require.Equal(t, 0.85, cfg.AutofixThreshold)
	require.False(t, cfg.StrictStartup)
}

func TestYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  interval_min: 10
ingest:
  warmup_count: 500
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("AUTO_SCAN_INTERVAL_MIN", "15")

	cfg, err := Load()
	require.NoError(t, err)
	// YAML wins over env for the keys it sets; untouched keys keep env or
	// default values.
	require.Equal(t, 10, cfg.ScanIntervalMin)
	require.Equal(t, 500, cfg.WarmupCount)
	require.Equal(t, 30, cfg.MisfireGraceSec)
	require.Equal(t, 50, cfg.IncrementalLimit)
}

func TestMissingConfigFileIsFatal(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}
