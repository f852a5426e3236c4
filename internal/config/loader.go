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
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment overrides.
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
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Analyzer ──
	setFloat64(&cfg.Analyzer.MinProfitThreshold, "ARBBOT_ANALYZER_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Analyzer.MinLiquidity, "ARBBOT_ANALYZER_MIN_LIQUIDITY")
	setFloat64(&cfg.Analyzer.MaxPositionUSDC, "ARBBOT_ANALYZER_MAX_POSITION_USDC")
	setFloat64(&cfg.Analyzer.CloseBufferSeconds, "ARBBOT_ANALYZER_CLOSE_BUFFER_SECONDS")

	// ── Detector ──
	setInt(&cfg.Detector.WindowSize, "ARBBOT_DETECTOR_WINDOW_SIZE")
	setFloat64(&cfg.Detector.ThresholdPct, "ARBBOT_DETECTOR_THRESHOLD_PCT")
	setFloat64(&cfg.Detector.MinSpreadChange, "ARBBOT_DETECTOR_MIN_SPREAD_CHANGE")
	setDuration(&cfg.Detector.Lookback, "ARBBOT_DETECTOR_LOOKBACK")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSizeUSDC, "ARBBOT_RISK_MAX_POSITION_SIZE_USDC")
	setFloat64(&cfg.Risk.MaxTotalExposureUSDC, "ARBBOT_RISK_MAX_TOTAL_EXPOSURE_USDC")
	setFloat64(&cfg.Risk.MaxDailyLossUSDC, "ARBBOT_RISK_MAX_DAILY_LOSS_USDC")
	setInt(&cfg.Risk.MaxPositionsPerMarket, "ARBBOT_RISK_MAX_POSITIONS_PER_MARKET")
	setInt(&cfg.Risk.MaxTotalPositions, "ARBBOT_RISK_MAX_TOTAL_POSITIONS")
	setFloat64(&cfg.Risk.MinProfitThreshold, "ARBBOT_RISK_MIN_PROFIT_THRESHOLD")
	setDuration(&cfg.Risk.PositionTimeout, "ARBBOT_RISK_POSITION_TIMEOUT")

	// ── Executor ──
	setInt(&cfg.Executor.MaxRetries, "ARBBOT_EXECUTOR_MAX_RETRIES")
	setDuration(&cfg.Executor.RetryBaseDelay, "ARBBOT_EXECUTOR_RETRY_BASE_DELAY")
	setFloat64(&cfg.Executor.BackoffMultiplier, "ARBBOT_EXECUTOR_BACKOFF_MULTIPLIER")
	setFloat64(&cfg.Executor.OrdersPerSecond, "ARBBOT_EXECUTOR_ORDERS_PER_SECOND")

	// ── Sim ──
	setFloat64(&cfg.Sim.TakerFeeRate, "ARBBOT_SIM_TAKER_FEE_RATE")
	setFloat64(&cfg.Sim.FailureRate, "ARBBOT_SIM_FAILURE_RATE")
	setFloat64(&cfg.Sim.PartialFillRate, "ARBBOT_SIM_PARTIAL_FILL_RATE")
	setInt64(&cfg.Sim.Seed, "ARBBOT_SIM_SEED")

	// ── Feed ──
	setStringSlice(&cfg.Feed.Assets, "ARBBOT_FEED_ASSETS")
	setDuration(&cfg.Feed.MarketDuration, "ARBBOT_FEED_MARKET_DURATION")
	setFloat64(&cfg.Feed.Volatility, "ARBBOT_FEED_VOLATILITY")
	setFloat64(&cfg.Feed.ArbProbability, "ARBBOT_FEED_ARB_PROBABILITY")

	// ── Engine ──
	setDuration(&cfg.Engine.ScanInterval, "ARBBOT_ENGINE_SCAN_INTERVAL")
	setDuration(&cfg.Engine.ProcessInterval, "ARBBOT_ENGINE_PROCESS_INTERVAL")
	setDuration(&cfg.Engine.MaxOpportunityAge, "ARBBOT_ENGINE_MAX_OPPORTUNITY_AGE")
	setInt(&cfg.Engine.QueueLimit, "ARBBOT_ENGINE_QUEUE_LIMIT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "ARBBOT_S3_FORCE_PATH_STYLE")

	// ── Report ──
	setBool(&cfg.Report.Enabled, "ARBBOT_REPORT_ENABLED")
	setDuration(&cfg.Report.Interval, "ARBBOT_REPORT_INTERVAL")
	setStr(&cfg.Report.Prefix, "ARBBOT_REPORT_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBBOT_MODE")
	setStr(&cfg.LogLevel, "ARBBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
