package domain

// HedgeAction is the advisory action computed for one asset.
type HedgeAction string

const (
	HedgeInRange HedgeAction = "IN_RANGE"
	HedgeOpen    HedgeAction = "OPEN_HEDGE"
	HedgeClose   HedgeAction = "CLOSE_HEDGE"
)

// HedgePosition is an existing perpetual position on the hedging venue.
type HedgePosition struct {
	Coin        string
	Side        PositionSide
	NotionalUSD float64
}

// HedgeDecision is the output of the hedge decision engine for one asset.
// DeltaUSD is the notional to add (OPEN_HEDGE) or remove (CLOSE_HEDGE).
type HedgeDecision struct {
	Symbol       string      `json:"symbol"`
	Action       HedgeAction `json:"action"`
	DeltaUSD     float64     `json:"delta_usd"`
	ExposureUSD  float64     `json:"exposure_usd"`
	ShortUSD     float64     `json:"short_usd"`
	CurrentRatio float64     `json:"current_ratio"`
	TargetUSD    float64     `json:"target_usd"`
}

// StopLossDecision flags an open position whose loss breached the limit.
type StopLossDecision struct {
	PositionID      string  `json:"position_id"`
	Venue           string  `json:"venue"`
	VenueAssetKey   string  `json:"venue_asset_key"`
	CostBasisUSD    float64 `json:"cost_basis_usd"`
	CurrentValueUSD float64 `json:"current_value_usd"`
	LossPct         float64 `json:"loss_pct"`
}
