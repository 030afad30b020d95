package hyperliquid

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// Venue is the venue name recorded on ledger rows.
const Venue = "hyperliquid"

// usdStablecoins are valued at 1 USD without a mid lookup.
var usdStablecoins = map[string]bool{"USDC": true, "USDT": true, "USDE": true, "USDH": true}

// PerpKey returns the ledger key for a perpetual on coin.
func PerpKey(coin string) string {
	return "perp:" + strings.ToUpper(coin)
}

// SnapshotSource implements domain.VenueSnapshotSource for perpetual
// positions. The same value also serves listings, mid prices and spot
// balances for exposure aggregation.
type SnapshotSource struct {
	client *Client
}

// NewSnapshotSource creates a source over the info client.
func NewSnapshotSource(client *Client) *SnapshotSource {
	return &SnapshotSource{client: client}
}

// Venue returns "hyperliquid".
func (s *SnapshotSource) Venue() string { return Venue }

// Fetch returns one snapshot per open perpetual. Cost basis is |szi|·entryPx
// and value is cost basis plus unrealized PnL.
func (s *SnapshotSource) Fetch(ctx context.Context, account string) ([]domain.PositionSnapshot, error) {
	state, err := s.client.ClearinghouseState(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: fetch %s: %w: %w", account, domain.ErrVenueUnavailable, err)
	}

	out := make([]domain.PositionSnapshot, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p := ap.Position
		if p.Coin == "" || p.Szi.IsZero() {
			continue
		}
		size := p.Szi.Abs()
		side := domain.SideLong
		if p.Szi.IsNegative() {
			side = domain.SideShort
		}
		initial := size.Mul(p.EntryPx)
		current := initial.Add(p.UnrealizedPnl)
		mark := p.EntryPx
		if !p.PositionValue.IsZero() {
			mark = p.PositionValue.Div(size)
		}

		out = append(out, domain.PositionSnapshot{
			Venue:           Venue,
			VenueAssetKey:   PerpKey(p.Coin),
			Kind:            domain.KindPerp,
			Asset:           strings.ToUpper(p.Coin),
			Side:            side,
			Size:            size.InexactFloat64(),
			AvgEntryPrice:   p.EntryPx.InexactFloat64(),
			CurrentPrice:    mark.Round(8).InexactFloat64(),
			InitialValueUSD: initial.Round(8).InexactFloat64(),
			CurrentValueUSD: current.Round(8).InexactFloat64(),
			PnLUSD:          p.UnrealizedPnl.InexactFloat64(),
			Metadata: map[string]any{
				"leverage_type":  p.Leverage.Type,
				"leverage":       p.Leverage.Value,
				"liquidation_px": p.LiquidationPx.String(),
				"margin_used":    p.MarginUsed.String(),
			},
		})
	}
	return out, nil
}

// ListedCoins returns the coins with an active perpetual.
func (s *SnapshotSource) ListedCoins(ctx context.Context) (map[string]bool, error) {
	meta, err := s.client.Meta(ctx)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: listed coins: %w: %w", domain.ErrVenueUnavailable, err)
	}
	listed := make(map[string]bool, len(meta.Universe))
	for _, a := range meta.Universe {
		if !a.IsDelisted && a.Name != "" {
			listed[strings.ToUpper(a.Name)] = true
		}
	}
	return listed, nil
}

// Mids returns mid prices keyed by upper-case coin. Unparseable entries are
// skipped.
func (s *SnapshotSource) Mids(ctx context.Context) (map[string]float64, error) {
	raw, err := s.client.AllMids(ctx)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: mids: %w: %w", domain.ErrVenueUnavailable, err)
	}
	mids := make(map[string]float64, len(raw))
	for coin, px := range raw {
		d, err := decimal.NewFromString(px)
		if err != nil {
			continue
		}
		mids[strings.ToUpper(coin)] = d.InexactFloat64()
	}
	return mids, nil
}

// Balances returns the account's spot token balances valued at mid price.
// Tokens without a mid are reported with zero value.
func (s *SnapshotSource) Balances(ctx context.Context, account string) ([]domain.AssetBalance, error) {
	spot, err := s.client.SpotClearinghouseState(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: balances %s: %w: %w", account, domain.ErrVenueUnavailable, err)
	}
	if len(spot.Balances) == 0 {
		return nil, nil
	}
	mids, err := s.Mids(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AssetBalance, 0, len(spot.Balances))
	for _, b := range spot.Balances {
		if b.Total.IsZero() {
			continue
		}
		sym := strings.ToUpper(b.Coin)
		px := decimal.NewFromFloat(mids[sym])
		if usdStablecoins[sym] {
			px = decimal.NewFromInt(1)
		}
		out = append(out, domain.AssetBalance{
			Symbol:   sym,
			Source:   domain.BalanceSpot,
			Amount:   b.Total.InexactFloat64(),
			ValueUSD: b.Total.Mul(px).Round(8).InexactFloat64(),
		})
	}
	return out, nil
}

var (
	_ domain.VenueSnapshotSource = (*SnapshotSource)(nil)
	_ domain.ListingSource       = (*SnapshotSource)(nil)
	_ domain.PriceSource         = (*SnapshotSource)(nil)
	_ domain.BalanceSource       = (*SnapshotSource)(nil)
)
