package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// AggregateExposure sums spot, LP and collateral value per asset symbol.
// Balances contribute first, then open lending and LP ledger rows that name
// an underlying asset. A negative or NaN contribution is reported as
// ErrAggregationInconsistency and takes the whole asset's exposure to zero,
// so the asset is never hedged; other assets are unaffected. Assets whose
// total is zero are omitted.
func AggregateExposure(rows []domain.PositionRecord, balances []domain.AssetBalance, listed map[string]bool) ([]domain.TreasuryExposure, []error) {
	var (
		errs  []error
		order []string
		acc   = make(map[string]*domain.TreasuryExposure)
		bad   = make(map[string]bool)
	)

	listedUpper := make(map[string]bool, len(listed))
	for coin, ok := range listed {
		if ok {
			listedUpper[strings.ToUpper(coin)] = true
		}
	}

	add := func(symbol string, source domain.BalanceKind, value float64, origin string) {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			return
		}
		if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
			errs = append(errs, fmt.Errorf("%w: %s %s value %v from %s",
				domain.ErrAggregationInconsistency, symbol, source, value, origin))
			bad[symbol] = true
			return
		}
		e, ok := acc[symbol]
		if !ok {
			e = &domain.TreasuryExposure{Symbol: symbol, HLListed: listedUpper[symbol]}
			acc[symbol] = e
			order = append(order, symbol)
		}
		switch source {
		case domain.BalanceLP:
			e.LPUSD = domain.SumUSD(e.LPUSD, value)
		case domain.BalanceCollateral:
			e.CollateralUSD = domain.SumUSD(e.CollateralUSD, value)
		default:
			e.SpotUSD = domain.SumUSD(e.SpotUSD, value)
		}
	}

	for _, b := range balances {
		add(b.Symbol, b.Source, b.ValueUSD, "balance")
	}
	for _, r := range rows {
		if !r.IsOpen() || r.Asset == "" {
			continue
		}
		switch r.Kind {
		case domain.KindLending:
			add(r.Asset, domain.BalanceCollateral, r.CurrentValueUSD, "position "+r.ID)
		case domain.KindLP:
			add(r.Asset, domain.BalanceLP, r.CurrentValueUSD, "position "+r.ID)
		}
	}

	out := make([]domain.TreasuryExposure, 0, len(order))
	for _, sym := range order {
		if bad[sym] {
			continue
		}
		e := acc[sym]
		e.ValueUSD = domain.SumUSD(e.SpotUSD, e.LPUSD, e.CollateralUSD)
		if e.ValueUSD == 0 {
			continue
		}
		out = append(out, *e)
	}
	return out, errs
}
