package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// AuditStore is an in-process domain.AuditStore. Entries live until the
// process exits.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore creates an empty audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	strategyID, positionID := domain.AuditIdentity(detail)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:         int64(len(s.entries) + 1),
		Event:      event,
		StrategyID: strategyID,
		PositionID: positionID,
		Detail:     detail,
		CreatedAt:  s.now().UTC(),
	})
	return nil
}

// List returns entries matching f, newest first.
func (s *AuditStore) List(_ context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if e := s.entries[i]; auditMatches(e, f) {
			out = append(out, e)
		}
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func auditMatches(e domain.AuditEntry, f domain.AuditFilter) bool {
	switch {
	case f.StrategyID != "" && e.StrategyID != f.StrategyID:
		return false
	case f.Event != "" && e.Event != f.Event:
		return false
	case f.Since != nil && e.CreatedAt.Before(*f.Since):
		return false
	case f.Until != nil && e.CreatedAt.After(*f.Until):
		return false
	}
	if f.PositionID == "" || e.PositionID == f.PositionID {
		return true
	}
	return slices.Contains(domain.AuditRemovedIDs(e.Detail), f.PositionID)
}

var _ domain.AuditStore = (*AuditStore)(nil)
