package polymarket

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// Venue is the venue name recorded on ledger rows.
const Venue = "polymarket"

// SnapshotSource implements domain.VenueSnapshotSource for prediction-market
// shares held by a proxy wallet.
type SnapshotSource struct {
	client *DataClient
	now    func() time.Time
}

// NewSnapshotSource creates a snapshot source over the data API client.
func NewSnapshotSource(client *DataClient) *SnapshotSource {
	return &SnapshotSource{client: client, now: time.Now}
}

// Venue returns "polymarket".
func (s *SnapshotSource) Venue() string { return Venue }

// Fetch returns one snapshot per (condition, outcome token) the account
// holds or recently held. Redeemable positions and positions past their end
// date are marked terminal.
func (s *SnapshotSource) Fetch(ctx context.Context, account string) ([]domain.PositionSnapshot, error) {
	positions, err := s.client.GetPositions(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("polymarket: fetch %s: %w: %w", account, domain.ErrVenueUnavailable, err)
	}

	now := s.now()
	out := make([]domain.PositionSnapshot, 0, len(positions))
	for i := range positions {
		p := &positions[i]
		if p.ConditionID == "" || p.Asset == "" {
			continue
		}
		expiry := p.Expiry()
		out = append(out, domain.PositionSnapshot{
			Venue:           Venue,
			VenueAssetKey:   p.Key(),
			Kind:            domain.KindPrediction,
			Side:            domain.SideLong,
			Size:            float64(p.Size),
			AvgEntryPrice:   float64(p.AvgPrice),
			CurrentPrice:    float64(p.CurPrice),
			InitialValueUSD: float64(p.InitialValue),
			CurrentValueUSD: float64(p.CurrentValue),
			PnLUSD:          float64(p.CashPnl),
			Title:           p.Title,
			Outcome:         p.Outcome,
			Expiry:          expiry,
			Terminal:        bool(p.Redeemable) || (expiry != nil && expiry.Before(now)),
			Metadata: map[string]any{
				"condition_id": p.ConditionID,
				"token_id":     p.Asset,
				"slug":         p.Slug,
				"event_slug":   p.EventSlug,
			},
		})
	}
	return out, nil
}

var _ domain.VenueSnapshotSource = (*SnapshotSource)(nil)
