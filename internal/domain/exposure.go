package domain

// BalanceKind identifies the form a raw balance is held in.
type BalanceKind string

const (
	BalanceSpot       BalanceKind = "spot"
	BalanceLP         BalanceKind = "lp"
	BalanceCollateral BalanceKind = "collateral"
)

// AssetBalance is a raw, already USD-valued holding reported by a wallet or
// protocol reader.
type AssetBalance struct {
	Symbol   string
	Source   BalanceKind
	Amount   float64
	ValueUSD float64
}

// TreasuryExposure is the aggregate USD value held in one asset across spot,
// LP and collateral forms. It is recomputed every pass and never persisted.
type TreasuryExposure struct {
	Symbol        string  `json:"symbol"`
	ValueUSD      float64 `json:"value_usd"`
	SpotUSD       float64 `json:"spot_usd"`
	LPUSD         float64 `json:"lp_usd"`
	CollateralUSD float64 `json:"collateral_usd"`
	HLListed      bool    `json:"hl_listed"`
}
