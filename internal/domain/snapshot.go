package domain

import "time"

// PositionSnapshot is a venue's authoritative report of one held asset key. It
// is the normalised form every venue adapter produces; it is never persisted.
type PositionSnapshot struct {
	Venue           string
	VenueAssetKey   string
	Kind            PositionKind
	Asset           string
	Side            PositionSide
	Size            float64
	AvgEntryPrice   float64
	CurrentPrice    float64
	InitialValueUSD float64
	CurrentValueUSD float64
	PnLUSD          float64
	Title           string
	Outcome         string
	Expiry          *time.Time
	// Terminal is set when the venue reports the position as resolved or
	// expired. A terminal snapshot with zero value closes the ledger row.
	Terminal bool
	Metadata map[string]any
}

// Active reports whether the snapshot describes a currently held position.
func (s PositionSnapshot) Active() bool {
	return s.Size > 0
}

// TerminalZero reports whether the venue says the position finished worthless.
func (s PositionSnapshot) TerminalZero() bool {
	return s.Terminal && s.CurrentValueUSD == 0
}

// ProvenanceMetadata returns the venue descriptive fields as metadata entries.
func (s PositionSnapshot) ProvenanceMetadata() map[string]any {
	md := MergeMetadata(nil, s.Metadata)
	if s.Title != "" {
		md["title"] = s.Title
	}
	if s.Outcome != "" {
		md["outcome"] = s.Outcome
	}
	if s.Expiry != nil {
		md["expiry"] = s.Expiry.UTC().Format(time.RFC3339)
	}
	md["venue_pnl_usd"] = s.PnLUSD
	return md
}
