package service

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/treasurybot/internal/config"
	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// DecideHedges computes one advisory decision per hedgeable exposure. An
// asset is hedgeable when the hedge venue lists it, its exposure reaches
// MinExposureUSD and it passes the whitelist. Output follows exposure order.
// cfg is expected to have passed ValidateHedge.
func DecideHedges(exposures []domain.TreasuryExposure, hedges []domain.HedgePosition, cfg config.HedgeConfig) []domain.HedgeDecision {
	shorts := make(map[string]decimal.Decimal)
	for _, h := range hedges {
		if h.Side != domain.SideShort {
			continue
		}
		coin := strings.ToUpper(h.Coin)
		shorts[coin] = shorts[coin].Add(decimal.NewFromFloat(math.Abs(h.NotionalUSD)))
	}

	allowed := make(map[string]bool, len(cfg.Whitelist))
	for _, s := range cfg.Whitelist {
		allowed[strings.ToUpper(strings.TrimSpace(s))] = true
	}

	targetRatio := decimal.NewFromFloat(cfg.TargetRatio)
	band := decimal.NewFromFloat(cfg.RebalanceThreshold)
	maxDelta := decimal.NewFromFloat(cfg.MaxDeltaUSD)

	var out []domain.HedgeDecision
	for _, e := range exposures {
		symbol := strings.ToUpper(e.Symbol)
		if !e.HLListed || e.ValueUSD <= 0 || e.ValueUSD < cfg.MinExposureUSD {
			continue
		}
		if len(allowed) > 0 && !allowed[symbol] {
			continue
		}

		exposure := decimal.NewFromFloat(e.ValueUSD)
		short := shorts[symbol]
		target := exposure.Mul(targetRatio)
		ratio := short.Div(exposure)

		action := domain.HedgeInRange
		delta := decimal.Zero
		switch {
		case ratio.LessThan(targetRatio.Sub(band)):
			action = domain.HedgeOpen
			delta = target.Sub(short)
		case ratio.GreaterThan(targetRatio.Add(band)):
			action = domain.HedgeClose
			delta = short.Sub(target)
		}
		if cfg.MaxDeltaUSD > 0 && delta.GreaterThan(maxDelta) {
			delta = maxDelta
		}

		out = append(out, domain.HedgeDecision{
			Symbol:       symbol,
			Action:       action,
			DeltaUSD:     usd(delta),
			ExposureUSD:  usd(exposure),
			ShortUSD:     usd(short),
			CurrentRatio: ratio.Round(6).InexactFloat64(),
			TargetUSD:    usd(target),
		})
	}
	return out
}

// HedgesFromLedger derives existing hedges from open perp rows. Notional is
// size times mark price, falling back to the row's current value.
func HedgesFromLedger(rows []domain.PositionRecord) []domain.HedgePosition {
	var out []domain.HedgePosition
	for _, r := range rows {
		if !r.IsOpen() || r.Kind != domain.KindPerp {
			continue
		}
		coin := r.Asset
		if coin == "" {
			coin = strings.TrimPrefix(r.VenueAssetKey, "perp:")
		}
		notional := math.Abs(r.SizeUnits) * r.CurrentPrice
		if notional == 0 {
			notional = math.Abs(r.CurrentValueUSD)
		}
		out = append(out, domain.HedgePosition{
			Coin:        strings.ToUpper(coin),
			Side:        r.Side,
			NotionalUSD: domain.RoundUSD(notional),
		})
	}
	return out
}

func usd(d decimal.Decimal) float64 {
	return d.Round(8).InexactFloat64()
}
