package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
	"github.com/alanyoungcy/treasurybot/internal/store/memory"
)

type staticBalances []domain.AssetBalance

func (b staticBalances) Balances(context.Context, string) ([]domain.AssetBalance, error) {
	return b, nil
}

type failingBalances struct{}

func (failingBalances) Balances(context.Context, string) ([]domain.AssetBalance, error) {
	return nil, errors.New("rpc down")
}

type staticListings struct {
	coins map[string]bool
	err   error
}

func (l staticListings) ListedCoins(context.Context) (map[string]bool, error) {
	return l.coins, l.err
}

type recordingArchiver struct {
	reports []domain.PassReport
}

func (a *recordingArchiver) ArchiveReport(_ context.Context, r domain.PassReport) (string, error) {
	a.reports = append(a.reports, r)
	return "reports/" + r.ID + ".json", nil
}

func (a *recordingArchiver) ArchiveClosed(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func (a *recordingArchiver) LatestReport(context.Context, string) (domain.PassReport, error) {
	return domain.PassReport{}, domain.ErrNotFound
}

type recordingAlerter struct {
	reports []domain.PassReport
}

func (a *recordingAlerter) AlertPass(_ context.Context, r domain.PassReport) error {
	a.reports = append(a.reports, r)
	return errors.New("webhook down")
}

type fixture struct {
	ledger   *memory.PositionLedger
	bus      *memory.SignalBus
	archiver *recordingArchiver
	audit    *recordingAudit
	alerts   *recordingAlerter
	svc      *TreasuryService
}

func newFixture(t *testing.T, venues []VenueAccount, listings domain.ListingSource, balances ...BalanceAccount) fixture {
	t.Helper()
	short := row("h", "perp:ETH", t0, 300, 300)
	short.Venue = "hyperliquid"
	short.Kind = domain.KindPerp
	short.Asset = "ETH"
	short.Side = domain.SideShort
	short.SizeUnits = 0.15
	short.CurrentPrice = 2000

	f := fixture{
		ledger:   memory.NewPositionLedger(row("a", "tok1", t0, 3, 1), short),
		bus:      memory.NewSignalBus(10),
		archiver: &recordingArchiver{},
		audit:    &recordingAudit{},
		alerts:   &recordingAlerter{},
	}
	rec := newTestReconciler(f.ledger, memory.NewLockManager(), f.audit)
	f.svc = NewTreasuryService(TreasuryDeps{
		Ledger:     f.ledger,
		Reconciler: rec,
		Venues:     venues,
		Balances:   balances,
		Listings:   listings,
		Bus:        f.bus,
		Archiver:   f.archiver,
		Alerts:     f.alerts,
	}, TreasuryConfig{
		StrategyID:  "s1",
		PassTimeout: 5 * time.Second,
		Hedge:       hedgeCfg(),
	}, discardLogger())
	return f
}

func TestRunPassIsolatesVenueFailure(t *testing.T) {
	ok := &stubSource{venue: "polymarket", snaps: []domain.PositionSnapshot{snap("tok1", 10, 3, 2)}}
	bad := &stubSource{venue: "feed", err: fmt.Errorf("feed: %w", domain.ErrVenueUnavailable)}
	f := newFixture(t, []VenueAccount{{Source: bad, Account: "0x1"}, {Source: ok, Account: "0x1"}},
		staticListings{coins: map[string]bool{"ETH": true}},
		BalanceAccount{Name: "wallet", Source: staticBalances{{Symbol: "ETH", Source: domain.BalanceSpot, ValueUSD: 1000}}},
	)

	report, err := f.svc.RunPass(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Venues, 2)
	assert.Equal(t, "feed", report.Venues[0].Venue)
	assert.NotEmpty(t, report.Venues[0].Error)
	assert.Equal(t, 1, report.Venues[1].Summary.Updated)
	assert.Equal(t, 1, report.Summary.Errored)
	assert.Equal(t, 1, report.Summary.Updated)

	got, err := f.ledger.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.CurrentValueUSD)

	require.Len(t, report.HedgeDecisions, 1)
	d := report.HedgeDecisions[0]
	assert.Equal(t, "ETH", d.Symbol)
	assert.Equal(t, domain.HedgeOpen, d.Action)
	assert.InDelta(t, 200, d.DeltaUSD, 1e-9)

	last, ok2 := f.svc.LastReport()
	require.True(t, ok2)
	assert.Equal(t, report.ID, last.ID)
	require.Len(t, f.archiver.reports, 1)
	require.Len(t, f.alerts.reports, 1, "alert failure does not fail the pass")
	assert.Equal(t, []string{"position_updated"}, f.audit.events)
}

func TestRunPassDryRunLeavesLedgerUntouched(t *testing.T) {
	src := &stubSource{venue: "polymarket", snaps: []domain.PositionSnapshot{snap("tok2", 5, 5, 6)}}
	f := newFixture(t, []VenueAccount{{Source: src, Account: "0x1"}}, nil)

	report, err := f.svc.RunPass(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Summary.Inserted)
	assert.Equal(t, 1, report.Summary.Closed)

	assert.Equal(t, 2, f.ledger.Len())
	got, err := f.ledger.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, got.IsOpen())
	assert.Empty(t, f.audit.events)
}

func TestRunPassPublishesReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &stubSource{venue: "polymarket", snaps: []domain.PositionSnapshot{snap("tok1", 10, 3, 1)}}
	f := newFixture(t, []VenueAccount{{Source: src, Account: "0x1"}}, nil)
	ch, err := f.bus.Subscribe(ctx, "treasury:*")
	require.NoError(t, err)

	report, err := f.svc.RunPass(ctx, false)
	require.NoError(t, err)

	select {
	case payload := <-ch:
		var got domain.PassReport
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, report.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("report not published")
	}

	msgs, err := f.bus.StreamRead(ctx, PassStream, "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestRunPassListingsFailureMeansNothingHedgeable(t *testing.T) {
	f := newFixture(t, nil, staticListings{err: errors.New("timeout")},
		BalanceAccount{Name: "wallet", Source: staticBalances{{Symbol: "ETH", Source: domain.BalanceSpot, ValueUSD: 1000}}},
		BalanceAccount{Name: "chain", Source: failingBalances{}},
	)

	report, err := f.svc.RunPass(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Exposures, 1)
	assert.False(t, report.Exposures[0].HLListed)
	assert.Empty(t, report.HedgeDecisions)
	assert.Len(t, report.Warnings, 2)
}

type gateSource struct {
	started chan struct{}
	release chan struct{}
}

func (g *gateSource) Venue() string { return "polymarket" }

func (g *gateSource) Fetch(context.Context, string) ([]domain.PositionSnapshot, error) {
	close(g.started)
	<-g.release
	return nil, nil
}

func TestRunPassRejectsConcurrentPass(t *testing.T) {
	gate := &gateSource{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, []VenueAccount{{Source: gate, Account: "0x1"}}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunPass(context.Background(), true)
		done <- err
	}()
	<-gate.started
	assert.True(t, f.svc.Running())

	_, err := f.svc.RunPass(context.Background(), true)
	assert.True(t, errors.Is(err, ErrPassInFlight))

	close(gate.release)
	require.NoError(t, <-done)
	assert.False(t, f.svc.Running())
}
