package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, 15*time.Minute, cfg.Risk.PositionTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Engine.ScanInterval.Duration)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Analyzer, cfg.Analyzer)
	assert.Equal(t, "paper", cfg.Mode)
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "live"
log_level = "debug"

[analyzer]
min_profit_threshold = 0.05

[risk]
position_timeout = "30m"

[feed]
assets = ["BTC"]

[notify]
events = ["trade", "halt"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.InDelta(t, 0.05, cfg.Analyzer.MinProfitThreshold, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Risk.PositionTimeout.Duration)
	assert.Equal(t, []string{"BTC"}, cfg.Feed.Assets)
	assert.Equal(t, []string{"trade", "halt"}, cfg.Notify.Events)

	// Untouched sections keep their defaults.
	assert.InDelta(t, 5000, cfg.Risk.MaxTotalExposureUSDC, 1e-9)
	assert.Equal(t, 3, cfg.Executor.MaxRetries)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ARBBOT_MODE", "live")
	t.Setenv("ARBBOT_RISK_MAX_DAILY_LOSS_USDC", "750")
	t.Setenv("ARBBOT_RISK_POSITION_TIMEOUT", "10m")
	t.Setenv("ARBBOT_REDIS_ADDR", "localhost:6379")
	t.Setenv("ARBBOT_FEED_ASSETS", "BTC,ETH")
	t.Setenv("ARBBOT_REPORT_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Mode)
	assert.InDelta(t, 750, cfg.Risk.MaxDailyLossUSDC, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.Risk.PositionTimeout.Duration)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Feed.Assets)
	assert.False(t, cfg.Report.Enabled)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replay"
	cfg.Analyzer.MinProfitThreshold = 0
	cfg.Risk.MaxPositionSizeUSDC = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "min_profit_threshold")
	assert.Contains(t, err.Error(), "max_position_size_usdc")
}

func TestValidate_TelegramPairing(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.TelegramToken = "token-only"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")

	cfg.Notify.TelegramChatID = "12345"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_PostgresOnlyWhenConfigured(t *testing.T) {
	cfg := Defaults()
	// Not enabled: bad pool settings are ignored.
	cfg.Postgres.PoolMaxConns = 0
	assert.NoError(t, cfg.Validate())

	cfg.Postgres.Host = "localhost"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool_max_conns")

	// A full DSN skips the field-level checks.
	cfg.Postgres.Host = ""
	cfg.Postgres.DSN = "postgres://u:p@localhost:5432/arbbot"
	assert.NoError(t, cfg.Validate())
}

func TestPostgresEnabled(t *testing.T) {
	var p PostgresConfig
	assert.False(t, p.Enabled())
	p.Host = "localhost"
	assert.True(t, p.Enabled())
	p = PostgresConfig{DSN: "postgres://localhost/db"}
	assert.True(t, p.Enabled())
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
