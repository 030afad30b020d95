package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// flexFloat unmarshals from a JSON number or a numeric string. Empty strings
// and null decode to zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// flexBool unmarshals from JSON bool or string ("true"/"false").
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIPosition is one entry of the data API /positions response.
type APIPosition struct {
	ProxyWallet  string    `json:"proxyWallet"`
	Asset        string    `json:"asset"`
	ConditionID  string    `json:"conditionId"`
	Size         flexFloat `json:"size"`
	AvgPrice     flexFloat `json:"avgPrice"`
	InitialValue flexFloat `json:"initialValue"`
	CurrentValue flexFloat `json:"currentValue"`
	CashPnl      flexFloat `json:"cashPnl"`
	PercentPnl   flexFloat `json:"percentPnl"`
	RealizedPnl  flexFloat `json:"realizedPnl"`
	CurPrice     flexFloat `json:"curPrice"`
	Redeemable   flexBool  `json:"redeemable"`
	Mergeable    flexBool  `json:"mergeable"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	EventSlug    string    `json:"eventSlug"`
	Outcome      string    `json:"outcome"`
	OutcomeIndex int       `json:"outcomeIndex"`
	EndDate      string    `json:"endDate"`
	NegativeRisk flexBool  `json:"negativeRisk"`
}

// Key returns the ledger key for the position: "<conditionId>:<asset>".
func (p *APIPosition) Key() string {
	return p.ConditionID + ":" + p.Asset
}

// Expiry parses EndDate, which the API sends either as a date or as an
// RFC 3339 timestamp. It returns nil when absent or unparseable.
func (p *APIPosition) Expiry() *time.Time {
	s := strings.TrimSpace(p.EndDate)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
