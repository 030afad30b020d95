package hyperliquid

import "github.com/shopspring/decimal"

// Numeric fields arrive as JSON strings ("-1.5"); decimal.Decimal decodes
// both quoted and bare numbers.

// ClearinghouseState is the clearinghouseState response.
type ClearinghouseState struct {
	AssetPositions []AssetPosition `json:"assetPositions"`
	MarginSummary  MarginSummary   `json:"marginSummary"`
	Withdrawable   decimal.Decimal `json:"withdrawable"`
}

// AssetPosition wraps one perpetual position.
type AssetPosition struct {
	Type     string       `json:"type"`
	Position PerpPosition `json:"position"`
}

// PerpPosition is a perpetual position. Szi is signed: negative is short.
type PerpPosition struct {
	Coin           string          `json:"coin"`
	Szi            decimal.Decimal `json:"szi"`
	EntryPx        decimal.Decimal `json:"entryPx"`
	PositionValue  decimal.Decimal `json:"positionValue"`
	UnrealizedPnl  decimal.Decimal `json:"unrealizedPnl"`
	ReturnOnEquity decimal.Decimal `json:"returnOnEquity"`
	LiquidationPx  decimal.Decimal `json:"liquidationPx"`
	MarginUsed     decimal.Decimal `json:"marginUsed"`
	Leverage       Leverage        `json:"leverage"`
}

// Leverage describes the margin mode of a position.
type Leverage struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

// MarginSummary aggregates account value.
type MarginSummary struct {
	AccountValue    decimal.Decimal `json:"accountValue"`
	TotalNtlPos     decimal.Decimal `json:"totalNtlPos"`
	TotalMarginUsed decimal.Decimal `json:"totalMarginUsed"`
}

// Meta is the perpetual universe.
type Meta struct {
	Universe []UniverseAsset `json:"universe"`
}

// UniverseAsset is one listed perpetual.
type UniverseAsset struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	IsDelisted  bool   `json:"isDelisted"`
}

// SpotState is the spotClearinghouseState response.
type SpotState struct {
	Balances []SpotBalance `json:"balances"`
}

// SpotBalance is one spot token balance.
type SpotBalance struct {
	Coin     string          `json:"coin"`
	Total    decimal.Decimal `json:"total"`
	Hold     decimal.Decimal `json:"hold"`
	EntryNtl decimal.Decimal `json:"entryNtl"`
}
