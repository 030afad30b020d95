package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionLedger is the persisted store of logical positions. Every mutating
// method is individually atomic.
type PositionLedger interface {
	// ListOpen returns the strategy's open rows ordered by OpenedAt ascending.
	ListOpen(ctx context.Context, strategyID string) ([]PositionRecord, error)
	Get(ctx context.Context, id string) (PositionRecord, error)
	// Upsert inserts rec or updates the row with the same ID in place. It
	// returns ErrLedgerConflict when rec would change an existing row's
	// identity fields.
	Upsert(ctx context.Context, rec PositionRecord) error
	// Merge updates keepID with merged and deletes removeIDs in a single
	// transaction.
	Merge(ctx context.Context, keepID string, removeIDs []string, merged PositionRecord) error
	// Close transitions an open row to closed and freezes its realized PnL.
	// Closing an already-closed row is a no-op.
	Close(ctx context.Context, id string, finalValueUSD, finalPrice float64, reason string) error
	ListClosed(ctx context.Context, strategyID string, opts ListOpts) ([]PositionRecord, error)
}

// AuditEntry is one audit log row. StrategyID and PositionID are lifted out
// of Detail so the trail of a single position can be queried.
type AuditEntry struct {
	ID         int64          `json:"id"`
	Event      string         `json:"event"`
	StrategyID string         `json:"strategy_id,omitempty"`
	PositionID string         `json:"position_id,omitempty"`
	Detail     map[string]any `json:"detail"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditFilter narrows an audit query; empty fields match everything. A
// PositionID filter also matches merges that removed that row.
type AuditFilter struct {
	ListOpts
	StrategyID string
	PositionID string
	Event      string
}

// AuditStore persists an append-only audit log, newest entries first on List.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditIdentity extracts the strategy and position ids a detail map refers to.
func AuditIdentity(detail map[string]any) (strategyID, positionID string) {
	strategyID, _ = detail["strategy_id"].(string)
	positionID, _ = detail["id"].(string)
	return strategyID, positionID
}

// AuditRemovedIDs returns the row ids a merge entry removed.
func AuditRemovedIDs(detail map[string]any) []string {
	switch v := detail["removed_ids"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, id := range v {
			if s, ok := id.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
