package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	for range 2 {
		ok, err := rl.Allow(ctx, "reconcile:10.0.0.1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "reconcile:10.0.0.1", 2, time.Minute)
	assert.False(t, ok, "third call inside the window")

	ok, _ = rl.Allow(ctx, "reconcile:10.0.0.2", 2, time.Minute)
	assert.True(t, ok, "keys are independent")

	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow(ctx, "reconcile:10.0.0.1", 2, time.Minute)
	assert.True(t, ok, "window slid past earlier events")
}

func TestRateLimiterZeroLimitAllows(t *testing.T) {
	ok, err := NewRateLimiter().Allow(context.Background(), "k", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
