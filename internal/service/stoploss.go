package service

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/treasurybot/internal/config"
	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// EvaluateStopLoss flags open non-perp rows whose unrealized loss has reached
// MaxLossPct of cost basis. Perp rows are hedges and are sized elsewhere.
func EvaluateStopLoss(rows []domain.PositionRecord, cfg config.StopLossConfig) []domain.StopLossDecision {
	if !cfg.Enabled || cfg.MaxLossPct <= 0 {
		return nil
	}
	limit := decimal.NewFromFloat(cfg.MaxLossPct).Neg()

	var out []domain.StopLossDecision
	for _, r := range rows {
		if !r.IsOpen() || r.Kind == domain.KindPerp || r.CostBasisUSD <= 0 {
			continue
		}
		pct := decimal.NewFromFloat(r.UnrealizedPnLUSD).Div(decimal.NewFromFloat(r.CostBasisUSD))
		if pct.GreaterThan(limit) {
			continue
		}
		out = append(out, domain.StopLossDecision{
			PositionID:      r.ID,
			Venue:           r.Venue,
			VenueAssetKey:   r.VenueAssetKey,
			CostBasisUSD:    r.CostBasisUSD,
			CurrentValueUSD: r.CurrentValueUSD,
			LossPct:         pct.Neg().Round(6).InexactFloat64(),
		})
	}
	return out
}
