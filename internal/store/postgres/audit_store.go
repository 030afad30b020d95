package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// AuditStore implements domain.AuditStore on the audit_log table.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry. The strategy and position ids are copied out of
// detail into their own columns.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail %s: %w", event, err)
	}
	strategyID, positionID := domain.AuditIdentity(detail)
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, strategy_id, position_id, detail) VALUES ($1, $2, $3, $4)`,
		event, strategyID, positionID, detailJSON,
	); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries matching f, newest first.
func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	query, args := auditQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var e domain.AuditEntry
		var detailJSON []byte
		if err := row.Scan(&e.ID, &e.Event, &e.StrategyID, &e.PositionID, &detailJSON, &e.CreatedAt); err != nil {
			return e, err
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return e, fmt.Errorf("unmarshal detail %d: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries: %w", err)
	}
	return entries, nil
}

// auditQuery builds the filtered SELECT for f.
func auditQuery(f domain.AuditFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.StrategyID != "" {
		where = append(where, "strategy_id = "+arg(f.StrategyID))
	}
	if f.PositionID != "" {
		p := arg(f.PositionID)
		where = append(where, fmt.Sprintf("(position_id = %s OR detail->'removed_ids' ? %s)", p, p))
	}
	if f.Event != "" {
		where = append(where, "event = "+arg(f.Event))
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+arg(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "created_at <= "+arg(*f.Until))
	}

	var b strings.Builder
	b.WriteString("SELECT id, event, strategy_id, position_id, detail, created_at FROM audit_log")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + arg(f.Limit))
	}
	if f.Offset > 0 {
		b.WriteString(" OFFSET " + arg(f.Offset))
	}
	return b.String(), args
}

var _ domain.AuditStore = (*AuditStore)(nil)
