package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

const sampleTOML = `
mode = "reconcile"
log_level = "debug"

[wallet]
address = "0x1111111111111111111111111111111111111111"

[reconcile]
strategy_id = "core"
dry_run = false
fetch_timeout = "5s"
cost_basis_tolerance_usd = 1.25
merge_keep_policy = "most_metadata"

[hedge]
target_ratio = 0.6
rebalance_threshold = 0.05
min_exposure_usd = 250
whitelist = ["ETH", "BTC"]

[[venues.feeds]]
name = "aave"
url = "http://localhost:9999/positions"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.Address = "0x1111111111111111111111111111111111111111"
	assert.NoError(t, cfg.Validate())
}

func TestDefaultsRequireWallet(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	cfg.Mode = "server"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "reconcile", cfg.Mode)
	assert.Equal(t, "core", cfg.Reconcile.StrategyID)
	assert.False(t, cfg.Reconcile.DryRun)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.FetchTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.LockTTL.Duration, "untouched default survives")
	assert.InDelta(t, 1.25, cfg.Reconcile.CostBasisToleranceUSD, 1e-9)
	assert.Equal(t, KeepMostMetadata, cfg.Reconcile.MergeKeepPolicy)
	assert.Equal(t, []string{"ETH", "BTC"}, cfg.Hedge.Whitelist)
	require.Len(t, cfg.Venues.Feeds, 1)
	assert.Equal(t, "aave", cfg.Venues.Feeds[0].Name)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TREASURY_RECONCILE_STRATEGY_ID", "from-env")
	t.Setenv("TREASURY_RECONCILE_DRY_RUN", "true")
	t.Setenv("TREASURY_RECONCILE_FETCH_TIMEOUT", "45s")
	t.Setenv("TREASURY_HEDGE_WHITELIST", " SOL , ,ETH")
	t.Setenv("TREASURY_HEDGE_TARGET_RATIO", "not-a-number")
	t.Setenv("TREASURY_SERVER_PORT", "9100")
	t.Setenv("TREASURY_SERVER_CORS_ORIGINS", "https://ops.example.com")
	t.Setenv("TREASURY_SERVER_TRIGGER_WINDOW", "30s")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Reconcile.StrategyID)
	assert.True(t, cfg.Reconcile.DryRun)
	assert.Equal(t, 45*time.Second, cfg.Reconcile.FetchTimeout.Duration)
	assert.Equal(t, []string{"SOL", "ETH"}, cfg.Hedge.Whitelist)
	assert.InDelta(t, 0.6, cfg.Hedge.TargetRatio, 1e-9, "unparseable values are ignored")
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.Server.TriggerWindow.Duration)
	assert.Equal(t, 6, cfg.Server.TriggerLimit)
}

func TestValidateHedge(t *testing.T) {
	tests := []struct {
		name string
		cfg  HedgeConfig
		ok   bool
	}{
		{"defaults", Defaults().Hedge, true},
		{"zero threshold", HedgeConfig{TargetRatio: 0.5, RebalanceThreshold: 0}, false},
		{"negative threshold", HedgeConfig{TargetRatio: 0.5, RebalanceThreshold: -0.1}, false},
		{"ratio above one", HedgeConfig{TargetRatio: 1.2, RebalanceThreshold: 0.1}, false},
		{"ratio below zero", HedgeConfig{TargetRatio: -0.1, RebalanceThreshold: 0.1}, false},
		{"ratio bounds", HedgeConfig{TargetRatio: 1, RebalanceThreshold: 0.1}, true},
		{"negative clamp", HedgeConfig{TargetRatio: 0.5, RebalanceThreshold: 0.1, MaxDeltaUSD: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateHedge()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrDecisionConfigInvalid))
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.Address = "not-an-address"
	cfg.Mode = "bogus"
	cfg.Reconcile.MergeKeepPolicy = "newest"
	cfg.Hedge.RebalanceThreshold = 0
	cfg.Venues.Feeds = []FeedVenueConfig{{Name: "polymarket", URL: "http://x"}}
	cfg.Server.TriggerLimit = -1

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown mode")
	assert.Contains(t, msg, "not a valid address")
	assert.Contains(t, msg, "merge_keep_policy")
	assert.Contains(t, msg, "rebalance_threshold")
	assert.Contains(t, msg, "duplicate venue name")
	assert.Contains(t, msg, "trigger_limit")
}

func TestAccountFallback(t *testing.T) {
	w := WalletConfig{Address: "0xdefault", HyperliquidAccount: "0xhl"}
	assert.Equal(t, "0xhl", w.Account("hyperliquid"))
	assert.Equal(t, "0xdefault", w.Account("polymarket"))
	assert.Equal(t, "0xdefault", w.Account("aave"))
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.Password = "pw"
	cfg.Redis.Password = "redis-pw"
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "key"
	cfg.Hedge.Whitelist = []string{"ETH"}
	cfg.Notify.TelegramToken = "bot-token"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Supabase.Password)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.S3.AccessKey, "empty values stay empty")

	out.Hedge.Whitelist[0] = "BTC"
	assert.Equal(t, "pw", cfg.Supabase.Password)
	assert.Equal(t, "ETH", cfg.Hedge.Whitelist[0])
}
