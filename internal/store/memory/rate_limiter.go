package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// RateLimiter implements domain.RateLimiter for a single process.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{events: make(map[string][]time.Time), now: time.Now}
}

func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)
	kept := rl.events[key][:0]
	for _, at := range rl.events[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= limit {
		rl.events[key] = kept
		return false, nil
	}
	rl.events[key] = append(kept, now)
	return true, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
