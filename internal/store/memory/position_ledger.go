// Package memory implements domain stores in process memory. The ledger is
// used as the dry-run shadow of the persistent ledger and as a test fake.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// PositionLedger implements domain.PositionLedger over a mutex-guarded map.
// Records are deep-copied on the way in and out.
type PositionLedger struct {
	mu   sync.RWMutex
	rows map[string]domain.PositionRecord
	now  func() time.Time
}

// NewPositionLedger returns a ledger seeded with rows.
func NewPositionLedger(rows ...domain.PositionRecord) *PositionLedger {
	l := &PositionLedger{
		rows: make(map[string]domain.PositionRecord, len(rows)),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, r := range rows {
		l.rows[r.ID] = r.Clone()
	}
	return l
}

// SetClock replaces the time source used to stamp UpdatedAt and ClosedAt.
func (l *PositionLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// ListOpen returns open rows for strategyID ordered by OpenedAt, then ID.
func (l *PositionLedger) ListOpen(_ context.Context, strategyID string) ([]domain.PositionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.PositionRecord
	for _, r := range l.rows {
		if r.StrategyID == strategyID && r.IsOpen() {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.PositionRecord) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Get returns a single row by id.
func (l *PositionLedger) Get(_ context.Context, id string) (domain.PositionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.rows[id]
	if !ok {
		return domain.PositionRecord{}, fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	return r.Clone(), nil
}

// Upsert inserts rec or updates the row with the same ID in place.
func (l *PositionLedger) Upsert(_ context.Context, rec domain.PositionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("memory: upsert: empty id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	in := rec.Clone()
	in.UpdatedAt = now

	existing, ok := l.rows[rec.ID]
	if !ok {
		if in.OpenedAt.IsZero() {
			in.OpenedAt = now
		}
		l.rows[in.ID] = in
		return nil
	}
	if !existing.SameIdentity(in) {
		return fmt.Errorf("memory: upsert %s: %w: identity change", rec.ID, domain.ErrLedgerConflict)
	}
	if !existing.IsOpen() {
		return fmt.Errorf("memory: upsert %s: %w: row is closed", rec.ID, domain.ErrLedgerConflict)
	}
	in.OpenedAt = existing.OpenedAt
	in.Metadata = domain.MergeMetadata(existing.Metadata, in.Metadata)
	if in.IsOpen() {
		in.ClosedAt = nil
	}
	l.rows[in.ID] = in
	return nil
}

// Merge updates keepID with merged and deletes removeIDs. Either every
// change is applied or none is.
func (l *PositionLedger) Merge(_ context.Context, keepID string, removeIDs []string, merged domain.PositionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := domain.CheckMerge(keepID, removeIDs, l.rows, merged); err != nil {
		return fmt.Errorf("memory: merge %s: %w", keepID, err)
	}

	keep := l.rows[keepID]
	out := merged.Clone()
	out.ID = keepID
	out.Status = domain.PositionStatusOpen
	out.ClosedAt = nil
	out.OpenedAt = keep.OpenedAt
	out.UpdatedAt = l.now()
	out.Metadata = domain.MergeMetadata(keep.Metadata, out.Metadata)

	l.rows[keepID] = out
	for _, id := range removeIDs {
		delete(l.rows, id)
	}
	return nil
}

// Close transitions an open row to closed. Closing a closed row is a no-op.
func (l *PositionLedger) Close(_ context.Context, id string, finalValueUSD, finalPrice float64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.rows[id]
	if !ok {
		return fmt.Errorf("memory: close %s: %w", id, domain.ErrNotFound)
	}
	if !r.IsOpen() {
		return nil
	}
	l.rows[id] = domain.ClosePosition(r, finalValueUSD, finalPrice, reason, l.now())
	return nil
}

// ListClosed returns closed rows for strategyID, most recently closed first.
func (l *PositionLedger) ListClosed(_ context.Context, strategyID string, opts domain.ListOpts) ([]domain.PositionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.PositionRecord
	for _, r := range l.rows {
		if r.StrategyID != strategyID || r.IsOpen() || r.ClosedAt == nil {
			continue
		}
		if opts.Since != nil && r.ClosedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && r.ClosedAt.After(*opts.Until) {
			continue
		}
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b domain.PositionRecord) int {
		if c := b.ClosedAt.Compare(*a.ClosedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return paginate(out, opts), nil
}

// Len returns the number of rows held, open or closed.
func (l *PositionLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rows)
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
