package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openRow(id, key string, opened time.Time, cost, value float64) domain.PositionRecord {
	return domain.PositionRecord{
		ID:               id,
		StrategyID:       "s1",
		Venue:            "polymarket",
		VenueAssetKey:    key,
		Kind:             domain.KindPrediction,
		Status:           domain.PositionStatusOpen,
		CostBasisUSD:     cost,
		CurrentValueUSD:  value,
		UnrealizedPnLUSD: value - cost,
		OpenedAt:         opened,
		Metadata:         map[string]any{"source": "seed"},
	}
}

func TestListOpenOrdering(t *testing.T) {
	l := NewPositionLedger(
		openRow("c", "k1", t0.Add(time.Hour), 1, 1),
		openRow("b", "k1", t0, 1, 1),
		openRow("a", "k2", t0, 1, 1),
	)
	closed := openRow("z", "k3", t0.Add(-time.Hour), 1, 1)
	closed.Status = domain.PositionStatusClosed
	require.NoError(t, l.Upsert(context.Background(), closed))

	rows, err := l.ListOpen(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{rows[0].ID, rows[1].ID, rows[2].ID})

	other, err := l.ListOpen(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	l := NewPositionLedger(openRow("a", "k1", t0, 1, 1))
	rows, err := l.ListOpen(context.Background(), "s1")
	require.NoError(t, err)
	rows[0].Metadata["source"] = "mutated"
	rows[0].CostBasisUSD = 99

	got, err := l.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "seed", got.Metadata["source"])
	assert.Equal(t, 1.0, got.CostBasisUSD)
}

func TestGetNotFound(t *testing.T) {
	_, err := NewPositionLedger().Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestUpsertPreservesOpenedAtAndMergesMetadata(t *testing.T) {
	ctx := context.Background()
	l := NewPositionLedger(openRow("a", "k1", t0, 1, 1))

	upd := openRow("a", "k1", t0.Add(48*time.Hour), 1, 2)
	upd.Metadata = map[string]any{"title": "Will it rain?"}
	require.NoError(t, l.Upsert(ctx, upd))

	got, err := l.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, t0, got.OpenedAt)
	assert.Equal(t, 2.0, got.CurrentValueUSD)
	assert.Equal(t, "seed", got.Metadata["source"])
	assert.Equal(t, "Will it rain?", got.Metadata["title"])
}

func TestUpsertIdentityChangeConflicts(t *testing.T) {
	ctx := context.Background()
	l := NewPositionLedger(openRow("a", "k1", t0, 1, 1))

	err := l.Upsert(ctx, openRow("a", "k2", t0, 1, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLedgerConflict))

	got, _ := l.Get(ctx, "a")
	assert.Equal(t, "k1", got.VenueAssetKey)
}

func TestUpsertLeavesClosedRowIntact(t *testing.T) {
	ctx := context.Background()
	l := NewPositionLedger(openRow("a", "k1", t0, 4, 1))
	l.SetClock(func() time.Time { return t0.Add(time.Hour) })
	require.NoError(t, l.Close(ctx, "a", 0, 0, domain.CloseReasonExternallyClosed))

	err := l.Upsert(ctx, openRow("a", "k1", t0, 4, 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLedgerConflict))

	got, err := l.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.IsOpen())
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, t0.Add(time.Hour), *got.ClosedAt)
	assert.Equal(t, -4.0, got.RealizedPnLUSD)
}

func TestMergeAtomic(t *testing.T) {
	ctx := context.Background()
	l := NewPositionLedger(
		openRow("a", "k1", t0, 3, 1),
		openRow("b", "k1", t0.Add(time.Minute), 4, 1),
		openRow("c", "k1", t0.Add(2*time.Minute), 3, 1),
		openRow("x", "k2", t0, 1, 1),
	)

	merged := openRow("a", "k1", t0, 10.79, 2.89)
	merged.UnrealizedPnLUSD = domain.SubUSD(2.89, 10.79)
	require.NoError(t, l.Merge(ctx, "a", []string{"b", "c"}, merged))

	rows, err := l.ListOpen(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.InDelta(t, -7.90, rows[0].UnrealizedPnLUSD, 1e-9)
	assert.Equal(t, 2, l.Len(), "a and x remain")
}

func TestMergeConflicts(t *testing.T) {
	ctx := context.Background()
	closed := openRow("d", "k1", t0, 1, 1)
	closed.Status = domain.PositionStatusClosed

	tests := []struct {
		name   string
		keep   string
		remove []string
	}{
		{"no removals", "a", nil},
		{"keep in removals", "a", []string{"a", "b"}},
		{"missing removal", "a", []string{"b", "nope"}},
		{"other identity", "a", []string{"x"}},
		{"keep not open", "d", []string{"b"}},
		{"removal not open", "a", []string{"b", "d"}},
		{"missing keep", "nope", []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewPositionLedger(
				openRow("a", "k1", t0, 3, 1),
				openRow("b", "k1", t0, 4, 1),
				openRow("x", "k2", t0, 1, 1),
				closed,
			)
			merged := openRow(tt.keep, "k1", t0, 7, 2)
			err := l.Merge(ctx, tt.keep, tt.remove, merged)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrLedgerConflict))
			assert.Equal(t, 4, l.Len(), "nothing removed")
			a, _ := l.Get(ctx, "a")
			assert.Equal(t, 3.0, a.CostBasisUSD, "keep row untouched")
			d, _ := l.Get(ctx, "d")
			assert.Equal(t, domain.PositionStatusClosed, d.Status, "closed row untouched")
		})
	}
}

func TestCloseFreezesRealizedPnL(t *testing.T) {
	ctx := context.Background()
	l := NewPositionLedger(openRow("a", "k1", t0, 10.79, 2.89))
	l.SetClock(func() time.Time { return t0.Add(time.Hour) })

	require.NoError(t, l.Close(ctx, "a", 0, 0, domain.CloseReasonExpired))
	got, err := l.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.InDelta(t, -10.79, got.RealizedPnLUSD, 1e-9)
	assert.Zero(t, got.UnrealizedPnLUSD)
	assert.Zero(t, got.CurrentValueUSD)
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, t0.Add(time.Hour), *got.ClosedAt)
	assert.Equal(t, domain.CloseReasonExpired, got.Metadata["close_reason"])

	// Closing again changes nothing.
	require.NoError(t, l.Close(ctx, "a", 5, 1, domain.CloseReasonExternallyClosed))
	again, _ := l.Get(ctx, "a")
	assert.Equal(t, got, again)

	assert.True(t, errors.Is(l.Close(ctx, "missing", 0, 0, ""), domain.ErrNotFound))
}

func TestListClosedFilterAndPaginate(t *testing.T) {
	ctx := context.Background()
	l := NewPositionLedger(
		openRow("a", "k1", t0, 1, 1),
		openRow("b", "k2", t0, 1, 1),
		openRow("c", "k3", t0, 1, 1),
	)
	for i, id := range []string{"a", "b", "c"} {
		at := t0.Add(time.Duration(i+1) * time.Hour)
		l.SetClock(func() time.Time { return at })
		require.NoError(t, l.Close(ctx, id, 0, 0, domain.CloseReasonExternallyClosed))
	}

	all, err := l.ListClosed(ctx, "s1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	until := t0.Add(2 * time.Hour)
	early, err := l.ListClosed(ctx, "s1", domain.ListOpts{Until: &until})
	require.NoError(t, err)
	assert.Len(t, early, 2)

	page, err := l.ListClosed(ctx, "s1", domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}
