package domain

import (
	"maps"
	"time"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// PositionKind classifies the economic form of a position.
type PositionKind string

const (
	KindPrediction PositionKind = "prediction"
	KindLP         PositionKind = "lp"
	KindLending    PositionKind = "lending"
	KindPerp       PositionKind = "perp"
	KindSpot       PositionKind = "spot"
)

// PositionSide is the direction of a position. Non-directional holdings
// (LP, lending, prediction shares) leave it empty.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Close reasons recorded in metadata when a row transitions to closed.
const (
	CloseReasonExternallyClosed = "EXTERNALLY_CLOSED"
	CloseReasonExpired          = "EXPIRED"
)

// PositionRecord is a logical position held by the treasury. Its identity is
// (StrategyID, VenueAssetKey); ID is the row id.
type PositionRecord struct {
	ID               string         `json:"id"`
	StrategyID       string         `json:"strategy_id"`
	Venue            string         `json:"venue"`
	VenueAssetKey    string         `json:"venue_asset_key"`
	Kind             PositionKind   `json:"kind"`
	Asset            string         `json:"asset,omitempty"` // underlying hedgeable symbol, if any
	Side             PositionSide   `json:"side,omitempty"`
	Status           PositionStatus `json:"status"`
	CostBasisUSD     float64        `json:"cost_basis_usd"`
	CurrentValueUSD  float64        `json:"current_value_usd"`
	EntryPrice       float64        `json:"entry_price"`
	CurrentPrice     float64        `json:"current_price"`
	SizeUnits        float64        `json:"size_units"`
	RealizedPnLUSD   float64        `json:"realized_pnl_usd"`
	UnrealizedPnLUSD float64        `json:"unrealized_pnl_usd"`
	OpenedAt         time.Time      `json:"opened_at"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// IsOpen reports whether the row is in the open state.
func (p PositionRecord) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// SameIdentity reports whether two records describe the same logical position.
func (p PositionRecord) SameIdentity(other PositionRecord) bool {
	return p.StrategyID == other.StrategyID &&
		p.Venue == other.Venue &&
		p.VenueAssetKey == other.VenueAssetKey
}

// Clone returns a copy of p that shares no mutable state with it.
func (p PositionRecord) Clone() PositionRecord {
	out := p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	out.Metadata = CloneMetadata(p.Metadata)
	return out
}

// CloneMetadata deep-copies the top level of a metadata map and any nested
// slices of maps used for audit trails.
func CloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case map[string]any:
			out[k] = CloneMetadata(tv)
		case []any:
			cp := make([]any, len(tv))
			for i, item := range tv {
				if im, ok := item.(map[string]any); ok {
					cp[i] = CloneMetadata(im)
				} else {
					cp[i] = item
				}
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// MergeMetadata folds src into dst key by key and returns the result. Keys are
// never removed; a key present in both takes the value from src. dst is not
// modified.
func MergeMetadata(dst, src map[string]any) map[string]any {
	out := CloneMetadata(dst)
	if out == nil {
		out = make(map[string]any, len(src))
	}
	maps.Copy(out, CloneMetadata(src))
	return out
}
