// Package feed adapts HTTP endpoints that already emit normalised position
// snapshots, such as LP or lending indexers, into snapshot sources.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// Snapshot is the wire form served by a feed. Numbers may be JSON numbers
// or numeric strings.
type Snapshot struct {
	Key             string          `json:"key"`
	Kind            string          `json:"kind"`
	Asset           string          `json:"asset"`
	Side            string          `json:"side"`
	Size            decimal.Decimal `json:"size"`
	AvgEntryPrice   decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	InitialValueUSD decimal.Decimal `json:"initial_value_usd"`
	CurrentValueUSD decimal.Decimal `json:"current_value_usd"`
	PnLUSD          decimal.Decimal `json:"pnl_usd"`
	Title           string          `json:"title"`
	Expiry          *time.Time      `json:"expiry"`
	Terminal        bool            `json:"terminal"`
	Metadata        map[string]any  `json:"metadata"`
}

// Response is the document served at the feed URL.
type Response struct {
	Positions []Snapshot `json:"positions"`
}

var validKinds = map[string]domain.PositionKind{
	"prediction": domain.KindPrediction,
	"lp":         domain.KindLP,
	"lending":    domain.KindLending,
	"perp":       domain.KindPerp,
	"spot":       domain.KindSpot,
}

// SnapshotSource implements domain.VenueSnapshotSource over GET <url>?account=.
type SnapshotSource struct {
	name       string
	url        string
	httpClient *http.Client
}

// NewSnapshotSource creates a feed source named venue reading from rawURL.
func NewSnapshotSource(venue, rawURL string) *SnapshotSource {
	return &SnapshotSource{
		name: venue,
		url:  rawURL,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// Venue returns the configured feed name.
func (s *SnapshotSource) Venue() string { return s.name }

// Fetch downloads and validates the feed. An entry with an unknown kind or
// no key makes the whole fetch fail: a partial feed would close the rows of
// the dropped entries.
func (s *SnapshotSource) Fetch(ctx context.Context, account string) ([]domain.PositionSnapshot, error) {
	resp, err := s.get(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("feed %s: fetch: %w: %w", s.name, domain.ErrVenueUnavailable, err)
	}

	out := make([]domain.PositionSnapshot, 0, len(resp.Positions))
	for i, p := range resp.Positions {
		kind, ok := validKinds[strings.ToLower(p.Kind)]
		if !ok || p.Key == "" {
			return nil, fmt.Errorf("feed %s: entry %d (%q): %w: invalid kind %q or empty key",
				s.name, i, p.Key, domain.ErrVenueUnavailable, p.Kind)
		}
		out = append(out, domain.PositionSnapshot{
			Venue:           s.name,
			VenueAssetKey:   p.Key,
			Kind:            kind,
			Asset:           strings.ToUpper(p.Asset),
			Side:            domain.PositionSide(strings.ToLower(p.Side)),
			Size:            p.Size.InexactFloat64(),
			AvgEntryPrice:   p.AvgEntryPrice.InexactFloat64(),
			CurrentPrice:    p.CurrentPrice.InexactFloat64(),
			InitialValueUSD: p.InitialValueUSD.InexactFloat64(),
			CurrentValueUSD: p.CurrentValueUSD.InexactFloat64(),
			PnLUSD:          p.PnLUSD.InexactFloat64(),
			Title:           p.Title,
			Expiry:          p.Expiry,
			Terminal:        p.Terminal,
			Metadata:        p.Metadata,
		})
	}
	return out, nil
}

func (s *SnapshotSource) get(ctx context.Context, account string) (Response, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return Response{}, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("account", account)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode == http.StatusTooManyRequests {
			return Response{}, fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
		}
		return Response{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

var _ domain.VenueSnapshotSource = (*SnapshotSource)(nil)
