package service

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/config"
	"github.com/alanyoungcy/treasurybot/internal/domain"
)

func hedgeCfg() config.HedgeConfig {
	return config.HedgeConfig{TargetRatio: 0.5, RebalanceThreshold: 0.1}
}

func TestDecideHedgesDeadBand(t *testing.T) {
	tests := []struct {
		name   string
		short  float64
		action domain.HedgeAction
		delta  float64
	}{
		{"inside band", 450, domain.HedgeInRange, 0},
		{"lower edge", 400, domain.HedgeInRange, 0},
		{"under hedged", 300, domain.HedgeOpen, 200},
		{"unhedged", 0, domain.HedgeOpen, 500},
		{"over hedged", 700, domain.HedgeClose, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exposures := []domain.TreasuryExposure{{Symbol: "ETH", ValueUSD: 1000, HLListed: true}}
			hedges := []domain.HedgePosition{{Coin: "eth", Side: domain.SideShort, NotionalUSD: tt.short}}

			got := DecideHedges(exposures, hedges, hedgeCfg())
			require.Len(t, got, 1)
			assert.Equal(t, tt.action, got[0].Action)
			assert.InDelta(t, tt.delta, got[0].DeltaUSD, 1e-9)
			assert.InDelta(t, 500, got[0].TargetUSD, 1e-9)
		})
	}
}

func TestDecideHedgesEligibility(t *testing.T) {
	exposures := []domain.TreasuryExposure{
		{Symbol: "SOL", ValueUSD: 800, HLListed: true},
		{Symbol: "ETH", ValueUSD: 1000, HLListed: true},
		{Symbol: "OBSCURE", ValueUSD: 5000, HLListed: false},
		{Symbol: "BTC", ValueUSD: 50, HLListed: true},
	}
	cfg := hedgeCfg()
	cfg.MinExposureUSD = 100

	got := DecideHedges(exposures, nil, cfg)
	require.Len(t, got, 2)
	assert.Equal(t, "SOL", got[0].Symbol)
	assert.Equal(t, "ETH", got[1].Symbol)

	cfg.Whitelist = []string{"eth"}
	got = DecideHedges(exposures, nil, cfg)
	require.Len(t, got, 1)
	assert.Equal(t, "ETH", got[0].Symbol)
}

func TestDecideHedgesIgnoresLongsAndClampsDelta(t *testing.T) {
	exposures := []domain.TreasuryExposure{{Symbol: "ETH", ValueUSD: 10000, HLListed: true}}
	hedges := []domain.HedgePosition{
		{Coin: "ETH", Side: domain.SideLong, NotionalUSD: 4000},
		{Coin: "BTC", Side: domain.SideShort, NotionalUSD: 4000},
	}
	cfg := hedgeCfg()
	cfg.MaxDeltaUSD = 1500

	got := DecideHedges(exposures, hedges, cfg)
	require.Len(t, got, 1)
	assert.Equal(t, domain.HedgeOpen, got[0].Action)
	assert.Zero(t, got[0].ShortUSD)
	assert.InDelta(t, 1500, got[0].DeltaUSD, 1e-9)
}

func TestHedgeConfigValidation(t *testing.T) {
	bad := []config.HedgeConfig{
		{TargetRatio: 0.5, RebalanceThreshold: 0},
		{TargetRatio: 1.5, RebalanceThreshold: 0.1},
		{TargetRatio: -0.1, RebalanceThreshold: 0.1},
	}
	for _, cfg := range bad {
		assert.True(t, errors.Is(cfg.ValidateHedge(), domain.ErrDecisionConfigInvalid), "%+v", cfg)
	}
	assert.NoError(t, hedgeCfg().ValidateHedge())
}

func TestHedgesFromLedger(t *testing.T) {
	perp := row("p", "perp:ETH", t0, 1000, 1000)
	perp.Venue = "hyperliquid"
	perp.Kind = domain.KindPerp
	perp.Asset = "ETH"
	perp.Side = domain.SideShort
	perp.SizeUnits = 0.5
	perp.CurrentPrice = 2000

	noMark := perp
	noMark.ID = "q"
	noMark.VenueAssetKey = "perp:SOL"
	noMark.Asset = ""
	noMark.CurrentPrice = 0
	noMark.CurrentValueUSD = 300

	got := HedgesFromLedger([]domain.PositionRecord{perp, noMark, row("x", "tok", t0, 1, 1)})
	require.Len(t, got, 2)
	assert.Equal(t, domain.HedgePosition{Coin: "ETH", Side: domain.SideShort, NotionalUSD: 1000}, got[0])
	assert.Equal(t, domain.HedgePosition{Coin: "SOL", Side: domain.SideShort, NotionalUSD: 300}, got[1])
}

func TestAggregateExposure(t *testing.T) {
	lending := row("l", "aave:weth", t0, 0, 400)
	lending.Kind = domain.KindLending
	lending.Asset = "weth"
	lp := row("u", "uni:1", t0, 0, 250)
	lp.Kind = domain.KindLP
	lp.Asset = "ETH"
	pred := row("p", "tok", t0, 10, 10)
	pred.Asset = "ETH"

	balances := []domain.AssetBalance{
		{Symbol: "eth", Source: domain.BalanceSpot, ValueUSD: 1000},
		{Symbol: "USDC", Source: domain.BalanceSpot, ValueUSD: 0},
		{Symbol: "ETH", Source: domain.BalanceLP, ValueUSD: 50},
	}

	got, errs := AggregateExposure([]domain.PositionRecord{lending, lp, pred}, balances, map[string]bool{"ETH": true})
	assert.Empty(t, errs)
	require.Len(t, got, 2)

	assert.Equal(t, domain.TreasuryExposure{
		Symbol: "ETH", ValueUSD: 1300, SpotUSD: 1000, LPUSD: 300, HLListed: true,
	}, got[0])
	assert.Equal(t, domain.TreasuryExposure{
		Symbol: "WETH", ValueUSD: 400, CollateralUSD: 400,
	}, got[1])
}

func TestAggregateExposureInconsistentInputs(t *testing.T) {
	balances := []domain.AssetBalance{
		{Symbol: "ETH", Source: domain.BalanceSpot, ValueUSD: -5},
		{Symbol: "ETH", Source: domain.BalanceSpot, ValueUSD: math.NaN()},
		{Symbol: "ETH", Source: domain.BalanceSpot, ValueUSD: 10},
		{Symbol: "SOL", Source: domain.BalanceSpot, ValueUSD: 20},
	}
	got, errs := AggregateExposure(nil, balances, nil)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.True(t, errors.Is(err, domain.ErrAggregationInconsistency))
	}
	require.Len(t, got, 1, "an inconsistent asset is excluded entirely")
	assert.Equal(t, "SOL", got[0].Symbol)
	assert.Equal(t, 20.0, got[0].ValueUSD)
}

func TestInconsistentAssetIsNeverHedged(t *testing.T) {
	balances := []domain.AssetBalance{
		{Symbol: "ETH", Source: domain.BalanceSpot, ValueUSD: 1000},
		{Symbol: "ETH", Source: domain.BalanceCollateral, ValueUSD: math.NaN()},
	}
	exposures, errs := AggregateExposure(nil, balances, map[string]bool{"ETH": true})
	require.Len(t, errs, 1)
	assert.Empty(t, exposures)
	assert.Empty(t, DecideHedges(exposures, nil, hedgeCfg()))
}

func TestEvaluateStopLoss(t *testing.T) {
	loser := row("a", "tok1", t0, 100, 40)
	edge := row("b", "tok2", t0, 100, 50)
	fine := row("c", "tok3", t0, 100, 80)
	perp := row("d", "perp:ETH", t0, 100, 10)
	perp.Kind = domain.KindPerp
	free := row("e", "tok4", t0, 0, 0)

	rows := []domain.PositionRecord{loser, edge, fine, perp, free}
	assert.Empty(t, EvaluateStopLoss(rows, config.StopLossConfig{Enabled: false, MaxLossPct: 0.5}))

	got := EvaluateStopLoss(rows, config.StopLossConfig{Enabled: true, MaxLossPct: 0.5})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].PositionID)
	assert.InDelta(t, 0.6, got[0].LossPct, 1e-9)
	assert.Equal(t, "b", got[1].PositionID)
}
