package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// LockManager implements domain.LockManager for a single process. It is
// used when Redis is disabled.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]time.Time
	token uint64
	owner map[string]uint64
	now   func() time.Time
}

// NewLockManager creates an empty in-process lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		held:  make(map[string]time.Time),
		owner: make(map[string]uint64),
		now:   time.Now,
	}
}

// Acquire takes the lock for key until unlock is called or ttl elapses. It
// returns domain.ErrLockHeld when another holder owns an unexpired lock.
func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	m.token++
	tok := m.token
	m.held[key] = now.Add(ttl)
	m.owner[key] = tok

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.owner[key] == tok {
				delete(m.held, key)
				delete(m.owner, key)
			}
		})
	}
	return unlock, nil
}
