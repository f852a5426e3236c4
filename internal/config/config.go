// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBBOT_* environment variables.
type Config struct {
	Analyzer AnalyzerConfig `toml:"analyzer"`
	Detector DetectorConfig `toml:"detector"`
	Risk     RiskConfig     `toml:"risk"`
	Executor ExecutorConfig `toml:"executor"`
	Sim      SimConfig      `toml:"sim"`
	Feed     FeedConfig     `toml:"feed"`
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Report   ReportConfig   `toml:"report"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AnalyzerConfig holds spread profitability thresholds.
type AnalyzerConfig struct {
	MinProfitThreshold float64 `toml:"min_profit_threshold"`
	MinLiquidity       float64 `toml:"min_liquidity"`
	MaxPositionUSDC    float64 `toml:"max_position_usdc"`
	CloseBufferSeconds float64 `toml:"close_buffer_seconds"`
}

// DetectorConfig holds spread dislocation detection thresholds.
type DetectorConfig struct {
	WindowSize      int      `toml:"window_size"`
	ThresholdPct    float64  `toml:"threshold_pct"`
	MinSpreadChange float64  `toml:"min_spread_change"`
	Lookback        duration `toml:"lookback"`
}

// RiskConfig holds portfolio-level risk limits.
type RiskConfig struct {
	MaxPositionSizeUSDC   float64  `toml:"max_position_size_usdc"`
	MaxTotalExposureUSDC  float64  `toml:"max_total_exposure_usdc"`
	MaxDailyLossUSDC      float64  `toml:"max_daily_loss_usdc"`
	MaxPositionsPerMarket int      `toml:"max_positions_per_market"`
	MaxTotalPositions     int      `toml:"max_total_positions"`
	MinProfitThreshold    float64  `toml:"min_profit_threshold"`
	PositionTimeout       duration `toml:"position_timeout"`
}

// ExecutorConfig holds order submission parameters.
type ExecutorConfig struct {
	MaxRetries        int      `toml:"max_retries"`
	RetryBaseDelay    duration `toml:"retry_base_delay"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	OrdersPerSecond   float64  `toml:"orders_per_second"`
}

// SimConfig holds paper-mode fill simulation parameters.
type SimConfig struct {
	BaseFeeRate     float64 `toml:"base_fee_rate"`
	TakerFeeRate    float64 `toml:"taker_fee_rate"`
	MakerFeeRate    float64 `toml:"maker_fee_rate"`
	AvgLatencyMs    float64 `toml:"avg_latency_ms"`
	LatencyStdMs    float64 `toml:"latency_std_ms"`
	FailureRate     float64 `toml:"failure_rate"`
	PartialFillRate float64 `toml:"partial_fill_rate"`
	Seed            int64   `toml:"seed"`
}

// FeedConfig holds simulated quote feed parameters for paper mode.
type FeedConfig struct {
	Assets         []string `toml:"assets"`
	MarketDuration duration `toml:"market_duration"`
	Volatility     float64  `toml:"volatility"`
	ArbProbability float64  `toml:"arb_probability"`
	MinLiquidity   float64  `toml:"min_liquidity"`
	MaxLiquidity   float64  `toml:"max_liquidity"`
}

// EngineConfig holds the trading loop cadence.
type EngineConfig struct {
	ScanInterval      duration `toml:"scan_interval"`
	ProcessInterval   duration `toml:"process_interval"`
	MaxOpportunityAge duration `toml:"max_opportunity_age"`
	QueueLimit        int      `toml:"queue_limit"`
}

// PostgresConfig holds PostgreSQL connection parameters for the position
// archive. Leave DSN and Host empty to run without archival.
type PostgresConfig struct {
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

// Enabled reports whether an archive connection is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters for the spread cache. Leave
// Addr empty to run without the cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for report uploads.
// Leave Bucket empty to keep reports local-only.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ReportConfig holds performance report generation parameters.
type ReportConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Analyzer: AnalyzerConfig{
			MinProfitThreshold: 0.02,
			MinLiquidity:       100,
			MaxPositionUSDC:    1000,
			CloseBufferSeconds: 300,
		},
		Detector: DetectorConfig{
			WindowSize:      20,
			ThresholdPct:    2.0,
			MinSpreadChange: 0.01,
			Lookback:        duration{60 * time.Second},
		},
		Risk: RiskConfig{
			MaxPositionSizeUSDC:   1000,
			MaxTotalExposureUSDC:  5000,
			MaxDailyLossUSDC:      500,
			MaxPositionsPerMarket: 1,
			MaxTotalPositions:     10,
			MinProfitThreshold:    0.04,
			PositionTimeout:       duration{15 * time.Minute},
		},
		Executor: ExecutorConfig{
			MaxRetries:        3,
			RetryBaseDelay:    duration{time.Second},
			BackoffMultiplier: 2.0,
			OrdersPerSecond:   2.0,
		},
		Sim: SimConfig{
			BaseFeeRate:     0.0,
			TakerFeeRate:    0.02,
			MakerFeeRate:    0.0,
			AvgLatencyMs:    100,
			LatencyStdMs:    50,
			FailureRate:     0.02,
			PartialFillRate: 0.05,
		},
		Feed: FeedConfig{
			Assets:         []string{"BTC", "ETH", "SOL", "DOGE"},
			MarketDuration: duration{time.Hour},
			Volatility:     0.015,
			ArbProbability: 0.12,
			MinLiquidity:   500,
			MaxLiquidity:   5000,
		},
		Engine: EngineConfig{
			ScanInterval:      duration{5 * time.Second},
			ProcessInterval:   duration{time.Second},
			MaxOpportunityAge: duration{30 * time.Second},
			QueueLimit:        100,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "arbbot",
			User:          "arbbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Report: ReportConfig{
			Enabled:  true,
			Interval: duration{24 * time.Hour},
			Prefix:   "reports",
		},
		Notify: NotifyConfig{
			Events: []string{"trade", "settlement", "timeout", "halt", "error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Analyzer
	if c.Analyzer.MinProfitThreshold <= 0 || c.Analyzer.MinProfitThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("analyzer: min_profit_threshold must be in (0, 1), got %g", c.Analyzer.MinProfitThreshold))
	}
	if c.Analyzer.MinLiquidity < 0 {
		errs = append(errs, "analyzer: min_liquidity must be >= 0")
	}
	if c.Analyzer.MaxPositionUSDC <= 0 {
		errs = append(errs, "analyzer: max_position_usdc must be > 0")
	}
	if c.Analyzer.CloseBufferSeconds < 0 {
		errs = append(errs, "analyzer: close_buffer_seconds must be >= 0")
	}

	// Detector
	if c.Detector.WindowSize < 2 {
		errs = append(errs, fmt.Sprintf("detector: window_size must be >= 2, got %d", c.Detector.WindowSize))
	}
	if c.Detector.ThresholdPct <= 0 {
		errs = append(errs, "detector: threshold_pct must be > 0")
	}
	if c.Detector.Lookback.Duration <= 0 {
		errs = append(errs, "detector: lookback must be positive")
	}

	// Risk
	if c.Risk.MaxPositionSizeUSDC <= 0 {
		errs = append(errs, "risk: max_position_size_usdc must be > 0")
	}
	if c.Risk.MaxTotalExposureUSDC < c.Risk.MaxPositionSizeUSDC {
		errs = append(errs, "risk: max_total_exposure_usdc must be >= max_position_size_usdc")
	}
	if c.Risk.MaxDailyLossUSDC <= 0 {
		errs = append(errs, "risk: max_daily_loss_usdc must be > 0")
	}
	if c.Risk.MaxPositionsPerMarket < 1 {
		errs = append(errs, "risk: max_positions_per_market must be >= 1")
	}
	if c.Risk.MaxTotalPositions < 1 {
		errs = append(errs, "risk: max_total_positions must be >= 1")
	}
	if c.Risk.PositionTimeout.Duration <= 0 {
		errs = append(errs, "risk: position_timeout must be positive")
	}

	// Executor
	if c.Executor.MaxRetries < 1 {
		errs = append(errs, "executor: max_retries must be >= 1")
	}
	if c.Executor.BackoffMultiplier < 1 {
		errs = append(errs, "executor: backoff_multiplier must be >= 1")
	}
	if c.Executor.OrdersPerSecond <= 0 {
		errs = append(errs, "executor: orders_per_second must be > 0")
	}

	// Sim
	if c.Sim.FailureRate < 0 || c.Sim.FailureRate > 1 {
		errs = append(errs, "sim: failure_rate must be in [0, 1]")
	}
	if c.Sim.PartialFillRate < 0 || c.Sim.PartialFillRate > 1 {
		errs = append(errs, "sim: partial_fill_rate must be in [0, 1]")
	}

	// Feed
	if strings.ToLower(c.Mode) == "paper" && len(c.Feed.Assets) == 0 {
		errs = append(errs, "feed: assets must not be empty in paper mode")
	}

	// Engine
	if c.Engine.ScanInterval.Duration <= 0 {
		errs = append(errs, "engine: scan_interval must be positive")
	}
	if c.Engine.ProcessInterval.Duration <= 0 {
		errs = append(errs, "engine: process_interval must be positive")
	}

	// Postgres, only when configured
	if c.Postgres.Enabled() && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis, only when configured
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3, only when configured
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}

	// Notify: token and chat id must be set together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
