package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

func TestObservePass(t *testing.T) {
	m := New()
	start := time.Now()
	m.ObservePass(domain.PassReport{
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Venues: []domain.VenueResult{
			{Venue: "polymarket", Summary: domain.PassSummary{Inserted: 2, Merged: 1}},
			{Venue: "hyperliquid", Summary: domain.PassSummary{Errored: 1}, Error: "venue unavailable"},
		},
		Summary:        domain.PassSummary{Inserted: 2, Merged: 1, Errored: 1},
		Exposures:      []domain.TreasuryExposure{{Symbol: "ETH", ValueUSD: 1000}},
		HedgeDecisions: []domain.HedgeDecision{{Symbol: "ETH", Action: domain.HedgeOpen, DeltaUSD: 200}},
	})

	body := scrape(t, m)
	assert.Contains(t, body, `treasury_passes_total{dry_run="false",outcome="partial"} 1`)
	assert.Contains(t, body, `treasury_ledger_mutations_total{dry_run="false",kind="insert",venue="polymarket"} 2`)
	assert.Contains(t, body, `treasury_venue_fetch_errors_total{venue="hyperliquid"} 1`)
	assert.Contains(t, body, `treasury_exposure_usd{symbol="ETH"} 1000`)
	assert.Contains(t, body, `treasury_hedge_delta_usd{symbol="ETH"} 200`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObservePass(domain.PassReport{})
	m.SetOpenPositions(3)
	m.ObserveHTTP("GET", "/api/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.SetOpenPositions(4)
	assert.Contains(t, scrape(t, m), "treasury_open_positions 4")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
