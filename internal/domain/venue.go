package domain

import "context"

// VenueSnapshotSource returns the positions a venue currently reports as held
// for an account. Implementations normalise venue-specific payloads at the
// boundary and wrap failures with ErrVenueUnavailable.
type VenueSnapshotSource interface {
	Venue() string
	Fetch(ctx context.Context, account string) ([]PositionSnapshot, error)
}

// BalanceSource reports raw wallet or protocol balances valued in USD.
type BalanceSource interface {
	Balances(ctx context.Context, account string) ([]AssetBalance, error)
}

// ListingSource reports the set of coins the hedging venue lists a perpetual for.
type ListingSource interface {
	ListedCoins(ctx context.Context) (map[string]bool, error)
}

// PriceSource reports mid prices keyed by coin symbol.
type PriceSource interface {
	Mids(ctx context.Context) (map[string]float64, error)
}
