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
// built-in defaults, applies TREASURY_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TREASURY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.Address, "TREASURY_WALLET_ADDRESS")
	setStr(&cfg.Wallet.PolymarketProxy, "TREASURY_WALLET_POLYMARKET_PROXY")
	setStr(&cfg.Wallet.HyperliquidAccount, "TREASURY_WALLET_HYPERLIQUID_ACCOUNT")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "TREASURY_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "TREASURY_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "TREASURY_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "TREASURY_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "TREASURY_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "TREASURY_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "TREASURY_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "TREASURY_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "TREASURY_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "TREASURY_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "TREASURY_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TREASURY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TREASURY_REDIS_ADDR")
	setStr(&cfg.Redis.MasterName, "TREASURY_REDIS_MASTER_NAME")
	setStr(&cfg.Redis.KeyPrefix, "TREASURY_REDIS_KEY_PREFIX")
	setStr(&cfg.Redis.Password, "TREASURY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TREASURY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TREASURY_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "TREASURY_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TREASURY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TREASURY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TREASURY_S3_REGION")
	setStr(&cfg.S3.Bucket, "TREASURY_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "TREASURY_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "TREASURY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TREASURY_S3_SECRET_KEY")

	// ── Venues ──
	setBool(&cfg.Venues.Polymarket.Enabled, "TREASURY_VENUES_POLYMARKET_ENABLED")
	setStr(&cfg.Venues.Polymarket.DataHost, "TREASURY_VENUES_POLYMARKET_DATA_HOST")
	setBool(&cfg.Venues.Hyperliquid.Enabled, "TREASURY_VENUES_HYPERLIQUID_ENABLED")
	setStr(&cfg.Venues.Hyperliquid.APIHost, "TREASURY_VENUES_HYPERLIQUID_API_HOST")

	// ── Onchain ──
	setBool(&cfg.Onchain.Enabled, "TREASURY_ONCHAIN_ENABLED")
	setStr(&cfg.Onchain.RPCURL, "TREASURY_ONCHAIN_RPC_URL")

	// ── Reconcile ──
	setStr(&cfg.Reconcile.StrategyID, "TREASURY_RECONCILE_STRATEGY_ID")
	setBool(&cfg.Reconcile.DryRun, "TREASURY_RECONCILE_DRY_RUN")
	setStr(&cfg.Reconcile.Schedule, "TREASURY_RECONCILE_SCHEDULE")
	setDuration(&cfg.Reconcile.FetchTimeout, "TREASURY_RECONCILE_FETCH_TIMEOUT")
	setFloat64(&cfg.Reconcile.CostBasisToleranceUSD, "TREASURY_RECONCILE_COST_BASIS_TOLERANCE_USD")
	setStr(&cfg.Reconcile.MergeKeepPolicy, "TREASURY_RECONCILE_MERGE_KEEP_POLICY")

	// ── Hedge ──
	setFloat64(&cfg.Hedge.TargetRatio, "TREASURY_HEDGE_TARGET_RATIO")
	setFloat64(&cfg.Hedge.RebalanceThreshold, "TREASURY_HEDGE_REBALANCE_THRESHOLD")
	setFloat64(&cfg.Hedge.MinExposureUSD, "TREASURY_HEDGE_MIN_EXPOSURE_USD")
	setFloat64(&cfg.Hedge.MaxDeltaUSD, "TREASURY_HEDGE_MAX_DELTA_USD")
	setStringSlice(&cfg.Hedge.Whitelist, "TREASURY_HEDGE_WHITELIST")

	// ── Stop-loss ──
	setBool(&cfg.StopLoss.Enabled, "TREASURY_STOP_LOSS_ENABLED")
	setFloat64(&cfg.StopLoss.MaxLossPct, "TREASURY_STOP_LOSS_MAX_LOSS_PCT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TREASURY_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TREASURY_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TREASURY_SERVER_API_KEY")
	setStr(&cfg.Server.ReadOnlyAPIKey, "TREASURY_SERVER_READ_ONLY_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TREASURY_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.TriggerLimit, "TREASURY_SERVER_TRIGGER_LIMIT")
	setDuration(&cfg.Server.TriggerWindow, "TREASURY_SERVER_TRIGGER_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TREASURY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TREASURY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TREASURY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TREASURY_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.File, "TREASURY_LOG_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "TREASURY_MODE")
	setStr(&cfg.LogLevel, "TREASURY_LOG_LEVEL")
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
