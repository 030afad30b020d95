// Package config defines the top-level configuration for the treasury bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TREASURY_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Venues    VenuesConfig    `toml:"venues"`
	Onchain   OnchainConfig   `toml:"onchain"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Hedge     HedgeConfig     `toml:"hedge"`
	StopLoss  StopLossConfig  `toml:"stop_loss"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Log       LogConfig       `toml:"log"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the treasury accounts queried on each venue. Only public
// addresses live here; signing keys are managed elsewhere.
type WalletConfig struct {
	// Address is the default account used for every venue without an override.
	Address string `toml:"address"`
	// PolymarketProxy is the proxy wallet that holds prediction-market shares.
	PolymarketProxy string `toml:"polymarket_proxy"`
	// HyperliquidAccount is the account holding perpetual hedges.
	HyperliquidAccount string `toml:"hyperliquid_account"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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

// RedisConfig holds Redis connection parameters. When disabled, locks are
// process-local and pass reports are not published.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	MasterName   string `toml:"master_name"`
	KeyPrefix    string `toml:"key_prefix"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters used for report
// and closed-position archives.
type S3Config struct {
	Enabled          bool   `toml:"enabled"`
	Endpoint         string `toml:"endpoint"`
	Region           string `toml:"region"`
	Bucket           string `toml:"bucket"`
	Prefix           string `toml:"prefix"`
	AccessKey        string `toml:"access_key"`
	SecretKey        string `toml:"secret_key"`
	UseSSL           bool   `toml:"use_ssl"`
	ForcePathStyle   bool   `toml:"force_path_style"`
	ArchiveSchedule  string `toml:"archive_schedule"`
	ArchiveAfterDays int    `toml:"archive_after_days"`
}

// VenuesConfig enables and locates each venue adapter.
type VenuesConfig struct {
	Polymarket  PolymarketVenueConfig  `toml:"polymarket"`
	Hyperliquid HyperliquidVenueConfig `toml:"hyperliquid"`
	Feeds       []FeedVenueConfig      `toml:"feeds"`
}

// PolymarketVenueConfig configures the prediction-market positions adapter.
type PolymarketVenueConfig struct {
	Enabled  bool   `toml:"enabled"`
	DataHost string `toml:"data_host"`
}

// HyperliquidVenueConfig configures the perpetual exchange adapter, which is
// also the hedge listing and price source.
type HyperliquidVenueConfig struct {
	Enabled bool   `toml:"enabled"`
	APIHost string `toml:"api_host"`
}

// FeedVenueConfig configures a normalised snapshot feed (LP or lending
// indexers that already emit snapshot-shaped JSON).
type FeedVenueConfig struct {
	Name    string `toml:"name"`
	URL     string `toml:"url"`
	Account string `toml:"account"`
}

// OnchainConfig configures the wallet balance reader.
type OnchainConfig struct {
	Enabled      bool          `toml:"enabled"`
	RPCURL       string        `toml:"rpc_url"`
	NativeSymbol string        `toml:"native_symbol"`
	Tokens       []TokenConfig `toml:"tokens"`
}

// TokenConfig is one ERC-20 token whose balance counts as spot exposure.
type TokenConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals int    `toml:"decimals"`
	// PriceSymbol overrides the mid-price lookup symbol (e.g. WETH -> ETH).
	PriceSymbol string `toml:"price_symbol"`
}

// Merge keep-row policies.
const (
	KeepOldest       = "oldest"
	KeepMostMetadata = "most_metadata"
)

// ReconcileConfig holds reconciliation pass parameters.
type ReconcileConfig struct {
	StrategyID string `toml:"strategy_id"`
	DryRun     bool   `toml:"dry_run"`
	// Schedule is a cron spec (e.g. "@every 5m") used by daemon mode.
	Schedule     string   `toml:"schedule"`
	FetchTimeout duration `toml:"fetch_timeout"`
	LockTTL      duration `toml:"lock_ttl"`
	PassTimeout  duration `toml:"pass_timeout"`
	// CostBasisToleranceUSD is the absolute difference above which the venue's
	// aggregate cost basis replaces the ledger's.
	CostBasisToleranceUSD float64 `toml:"cost_basis_tolerance_usd"`
	// MergeKeepPolicy picks the surviving row of a fragmented group:
	// "oldest" (earliest opened_at) or "most_metadata".
	MergeKeepPolicy string        `toml:"merge_keep_policy"`
	Breaker         BreakerConfig `toml:"breaker"`
}

// BreakerConfig configures the per-venue circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32   `toml:"consecutive_failures"`
	OpenTimeout         duration `toml:"open_timeout"`
}

// HedgeConfig holds hedge decision parameters.
type HedgeConfig struct {
	TargetRatio        float64  `toml:"target_ratio"`
	RebalanceThreshold float64  `toml:"rebalance_threshold"`
	MinExposureUSD     float64  `toml:"min_exposure_usd"`
	MaxDeltaUSD        float64  `toml:"max_delta_usd"`
	Whitelist          []string `toml:"whitelist"`
}

// StopLossConfig holds stop-loss evaluation parameters.
type StopLossConfig struct {
	Enabled    bool    `toml:"enabled"`
	MaxLossPct float64 `toml:"max_loss_pct"`
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

// ServerConfig holds HTTP server parameters. ReadOnlyAPIKey grants GET
// access only. TriggerLimit caps manual POST /api/reconcile calls per client
// within TriggerWindow; zero disables the cap.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	APIKey         string   `toml:"api_key"`
	ReadOnlyAPIKey string   `toml:"read_only_api_key"`
	CORSOrigins    []string `toml:"cors_origins"`
	TriggerLimit   int      `toml:"trigger_limit"`
	TriggerWindow  duration `toml:"trigger_window"`
}

// NotifyConfig holds alert channel credentials. Events filters which pass
// alerts are delivered (hedge, stop_loss, venue_error); empty means all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig controls optional rotating file output in addition to stdout.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "treasury-archive",
			ForcePathStyle:   true,
			ArchiveSchedule:  "0 4 * * 0",
			ArchiveAfterDays: 30,
		},
		Venues: VenuesConfig{
			Polymarket: PolymarketVenueConfig{
				Enabled:  true,
				DataHost: "https://data-api.polymarket.com",
			},
			Hyperliquid: HyperliquidVenueConfig{
				Enabled: true,
				APIHost: "https://api.hyperliquid.xyz",
			},
		},
		Onchain: OnchainConfig{
			NativeSymbol: "ETH",
		},
		Reconcile: ReconcileConfig{
			StrategyID:            "treasury",
			DryRun:                true,
			Schedule:              "@every 5m",
			FetchTimeout:          duration{20 * time.Second},
			LockTTL:               duration{30 * time.Second},
			PassTimeout:           duration{2 * time.Minute},
			CostBasisToleranceUSD: 0.50,
			MergeKeepPolicy:       KeepOldest,
			Breaker: BreakerConfig{
				ConsecutiveFailures: 3,
				OpenTimeout:         duration{5 * time.Minute},
			},
		},
		Hedge: HedgeConfig{
			TargetRatio:        0.5,
			RebalanceThreshold: 0.1,
			MinExposureUSD:     100,
		},
		StopLoss: StopLossConfig{
			Enabled:    false,
			MaxLossPct: 0.5,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			TriggerLimit:  6,
			TriggerWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"hedge", "stop_loss", "venue_error"},
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
		},
		Mode:     "daemon",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"reconcile": true,
	"daemon":    true,
	"server":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateHedge checks the hedge decision parameters. The dead-band must be
// strictly positive and the target ratio must lie in [0,1].
func (h HedgeConfig) ValidateHedge() error {
	var errs []string
	if h.RebalanceThreshold <= 0 {
		errs = append(errs, fmt.Sprintf("rebalance_threshold must be > 0, got %v", h.RebalanceThreshold))
	}
	if h.TargetRatio < 0 || h.TargetRatio > 1 {
		errs = append(errs, fmt.Sprintf("target_ratio must be within [0,1], got %v", h.TargetRatio))
	}
	if h.MinExposureUSD < 0 {
		errs = append(errs, "min_exposure_usd must be >= 0")
	}
	if h.MaxDeltaUSD < 0 {
		errs = append(errs, "max_delta_usd must be >= 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrDecisionConfigInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Account returns the account to query on the given venue, falling back to
// the default wallet address.
func (w WalletConfig) Account(venue string) string {
	switch venue {
	case "polymarket":
		if w.PolymarketProxy != "" {
			return w.PolymarketProxy
		}
	case "hyperliquid":
		if w.HyperliquidAccount != "" {
			return w.HyperliquidAccount
		}
	}
	return w.Address
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: reconcile, daemon, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet addresses must be valid EVM addresses when present.
	for name, addr := range map[string]string{
		"address":             c.Wallet.Address,
		"polymarket_proxy":    c.Wallet.PolymarketProxy,
		"hyperliquid_account": c.Wallet.HyperliquidAccount,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("wallet: %s %q is not a valid address", name, addr))
		}
	}
	if c.Mode != "server" && c.Wallet.Address == "" &&
		c.Wallet.PolymarketProxy == "" && c.Wallet.HyperliquidAccount == "" {
		errs = append(errs, "wallet: at least one account address must be set for mode "+c.Mode)
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Venues
	if c.Venues.Polymarket.Enabled && c.Venues.Polymarket.DataHost == "" {
		errs = append(errs, "venues.polymarket: data_host must not be empty")
	}
	if c.Venues.Hyperliquid.Enabled && c.Venues.Hyperliquid.APIHost == "" {
		errs = append(errs, "venues.hyperliquid: api_host must not be empty")
	}
	seen := map[string]bool{"polymarket": true, "hyperliquid": true}
	for i, f := range c.Venues.Feeds {
		if f.Name == "" || f.URL == "" {
			errs = append(errs, fmt.Sprintf("venues.feeds[%d]: name and url are required", i))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("venues.feeds[%d]: duplicate venue name %q", i, f.Name))
		}
		seen[f.Name] = true
	}

	// Onchain
	if c.Onchain.Enabled {
		if c.Onchain.RPCURL == "" {
			errs = append(errs, "onchain: rpc_url must not be empty when enabled")
		}
		for i, t := range c.Onchain.Tokens {
			if t.Symbol == "" || !common.IsHexAddress(t.Address) {
				errs = append(errs, fmt.Sprintf("onchain.tokens[%d]: symbol and a valid address are required", i))
			}
			if t.Decimals < 0 || t.Decimals > 36 {
				errs = append(errs, fmt.Sprintf("onchain.tokens[%d]: decimals must be 0-36", i))
			}
		}
	}

	// Reconcile
	if c.Reconcile.StrategyID == "" {
		errs = append(errs, "reconcile: strategy_id must not be empty")
	}
	if c.Reconcile.FetchTimeout.Duration <= 0 {
		errs = append(errs, "reconcile: fetch_timeout must be > 0")
	}
	if c.Reconcile.LockTTL.Duration <= 0 {
		errs = append(errs, "reconcile: lock_ttl must be > 0")
	}
	if c.Reconcile.CostBasisToleranceUSD < 0 {
		errs = append(errs, "reconcile: cost_basis_tolerance_usd must be >= 0")
	}
	if p := c.Reconcile.MergeKeepPolicy; p != KeepOldest && p != KeepMostMetadata {
		errs = append(errs, fmt.Sprintf("reconcile: merge_keep_policy %q (valid: oldest, most_metadata)", p))
	}
	if c.Mode == "daemon" && c.Reconcile.Schedule == "" {
		errs = append(errs, "reconcile: schedule must be set for daemon mode")
	}

	// Hedge parameters are fatal at load, never at decision time.
	if err := c.Hedge.ValidateHedge(); err != nil {
		errs = append(errs, "hedge: "+err.Error())
	}

	// Stop-loss
	if c.StopLoss.Enabled && (c.StopLoss.MaxLossPct <= 0 || c.StopLoss.MaxLossPct > 1) {
		errs = append(errs, "stop_loss: max_loss_pct must be within (0,1]")
	}

	// Server
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.ReadOnlyAPIKey != "" && c.Server.APIKey == "" {
			errs = append(errs, "server: read_only_api_key requires api_key")
		}
		if c.Server.TriggerLimit < 0 {
			errs = append(errs, "server: trigger_limit must be >= 0")
		}
		if c.Server.TriggerLimit > 0 && c.Server.TriggerWindow.Duration <= 0 {
			errs = append(errs, "server: trigger_window must be positive when trigger_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
