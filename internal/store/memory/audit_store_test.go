package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

func TestAuditStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	require.NoError(t, s.Log(ctx, "position_inserted", map[string]any{"strategy_id": "s1", "id": "a"}))
	require.NoError(t, s.Log(ctx, "position_merged", map[string]any{"strategy_id": "s1", "id": "b", "removed_ids": []string{"a", "c"}}))
	require.NoError(t, s.Log(ctx, "position_closed", map[string]any{"strategy_id": "s2", "id": "a"}))

	all, err := s.List(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "position_closed", all[0].Event, "newest first")

	trail, err := s.List(ctx, domain.AuditFilter{StrategyID: "s1", PositionID: "a"})
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "position_merged", trail[0].Event)
	assert.Equal(t, "position_inserted", trail[1].Event)

	since := base.Add(2 * time.Minute)
	recent, err := s.List(ctx, domain.AuditFilter{ListOpts: domain.ListOpts{Since: &since, Limit: 1}})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "s2", recent[0].StrategyID)

	merged, err := s.List(ctx, domain.AuditFilter{Event: "position_merged", ListOpts: domain.ListOpts{Offset: 1}})
	require.NoError(t, err)
	assert.Empty(t, merged)
}
