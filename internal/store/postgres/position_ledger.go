package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// PositionLedger implements domain.PositionLedger using PostgreSQL.
type PositionLedger struct {
	pool *pgxpool.Pool
}

// NewPositionLedger creates a new PositionLedger backed by the given connection pool.
func NewPositionLedger(pool *pgxpool.Pool) *PositionLedger {
	return &PositionLedger{pool: pool}
}

const positionSelectCols = `id, strategy_id, venue, venue_asset_key, kind, asset, side,
	status, cost_basis_usd, current_value_usd, entry_price, current_price, size_units,
	realized_pnl_usd, unrealized_pnl_usd, opened_at, closed_at, updated_at, metadata`

func scanPosition(row pgx.Row) (domain.PositionRecord, error) {
	var p domain.PositionRecord
	var kind, side, status string
	var metadata []byte

	err := row.Scan(
		&p.ID, &p.StrategyID, &p.Venue, &p.VenueAssetKey, &kind, &p.Asset, &side,
		&status, &p.CostBasisUSD, &p.CurrentValueUSD, &p.EntryPrice, &p.CurrentPrice, &p.SizeUnits,
		&p.RealizedPnLUSD, &p.UnrealizedPnLUSD, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt, &metadata,
	)
	if err != nil {
		return domain.PositionRecord{}, err
	}
	p.Kind = domain.PositionKind(kind)
	p.Side = domain.PositionSide(side)
	p.Status = domain.PositionStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return domain.PositionRecord{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.PositionRecord, error) {
	defer rows.Close()
	var out []domain.PositionRecord
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func marshalMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(md)
}

// ListOpen returns the strategy's open rows ordered by opened_at, then id.
func (l *PositionLedger) ListOpen(ctx context.Context, strategyID string) ([]domain.PositionRecord, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE strategy_id = $1 AND status = 'open'
		 ORDER BY opened_at ASC, id ASC`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions %s: %w", strategyID, err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return out, nil
}

// Get retrieves a single row by id.
func (l *PositionLedger) Get(ctx context.Context, id string) (domain.PositionRecord, error) {
	p, err := scanPosition(l.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionRecord{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.PositionRecord{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// Upsert inserts rec or updates the row with the same id in place. The
// update only applies to an open row whose identity columns match;
// otherwise no row is affected and ErrLedgerConflict is returned. Closed
// rows are kept as they were closed. opened_at is never rewritten
// and metadata is merged with jsonb ||.
func (l *PositionLedger) Upsert(ctx context.Context, rec domain.PositionRecord) error {
	md, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata %s: %w", rec.ID, err)
	}
	closedAt := rec.ClosedAt
	if rec.IsOpen() {
		closedAt = nil
	}

	const query = `
		INSERT INTO positions (
			id, strategy_id, venue, venue_asset_key, kind, asset, side, status,
			cost_basis_usd, current_value_usd, entry_price, current_price, size_units,
			realized_pnl_usd, unrealized_pnl_usd, opened_at, closed_at, updated_at, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, COALESCE($16::timestamptz, NOW()), $17, NOW(), $18
		)
		ON CONFLICT (id) DO UPDATE SET
			kind               = EXCLUDED.kind,
			asset              = EXCLUDED.asset,
			side               = EXCLUDED.side,
			status             = EXCLUDED.status,
			cost_basis_usd     = EXCLUDED.cost_basis_usd,
			current_value_usd  = EXCLUDED.current_value_usd,
			entry_price        = EXCLUDED.entry_price,
			current_price      = EXCLUDED.current_price,
			size_units         = EXCLUDED.size_units,
			realized_pnl_usd   = EXCLUDED.realized_pnl_usd,
			unrealized_pnl_usd = EXCLUDED.unrealized_pnl_usd,
			closed_at          = EXCLUDED.closed_at,
			updated_at         = NOW(),
			metadata           = positions.metadata || EXCLUDED.metadata
		WHERE positions.strategy_id = EXCLUDED.strategy_id
		  AND positions.venue = EXCLUDED.venue
		  AND positions.venue_asset_key = EXCLUDED.venue_asset_key
		  AND positions.status <> 'closed'`

	var openedAt any
	if !rec.OpenedAt.IsZero() {
		openedAt = rec.OpenedAt
	}

	tag, err := l.pool.Exec(ctx, query,
		rec.ID, rec.StrategyID, rec.Venue, rec.VenueAssetKey, string(rec.Kind), rec.Asset, string(rec.Side), string(rec.Status),
		rec.CostBasisUSD, rec.CurrentValueUSD, rec.EntryPrice, rec.CurrentPrice, rec.SizeUnits,
		rec.RealizedPnLUSD, rec.UnrealizedPnLUSD, openedAt, closedAt, md,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: upsert position %s: %w: identity change or closed row", rec.ID, domain.ErrLedgerConflict)
	}
	return nil
}

// Merge updates keepID with merged and deletes removeIDs in one
// transaction. The involved rows are locked with SELECT ... FOR UPDATE and
// validated before anything is written; any conflict rolls back.
func (l *PositionLedger) Merge(ctx context.Context, keepID string, removeIDs []string, merged domain.PositionRecord) error {
	md, err := marshalMetadata(merged.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata %s: %w", keepID, err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin merge %s: %w", keepID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := append([]string{keepID}, removeIDs...)
	rows, err := tx.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return fmt.Errorf("postgres: lock merge rows %s: %w", keepID, err)
	}
	locked, err := scanPositions(rows)
	if err != nil {
		return fmt.Errorf("postgres: scan merge rows %s: %w", keepID, err)
	}
	byID := make(map[string]domain.PositionRecord, len(locked))
	for _, r := range locked {
		byID[r.ID] = r
	}
	if err := domain.CheckMerge(keepID, removeIDs, byID, merged); err != nil {
		return fmt.Errorf("postgres: merge %s: %w", keepID, err)
	}

	const update = `
		UPDATE positions SET
			kind               = $2,
			asset              = $3,
			side               = $4,
			cost_basis_usd     = $5,
			current_value_usd  = $6,
			entry_price        = $7,
			current_price      = $8,
			size_units         = $9,
			realized_pnl_usd   = $10,
			unrealized_pnl_usd = $11,
			updated_at         = NOW(),
			metadata           = metadata || $12::jsonb
		WHERE id = $1 AND status = 'open'`
	tag, err := tx.Exec(ctx, update,
		keepID, string(merged.Kind), merged.Asset, string(merged.Side),
		merged.CostBasisUSD, merged.CurrentValueUSD, merged.EntryPrice, merged.CurrentPrice, merged.SizeUnits,
		merged.RealizedPnLUSD, merged.UnrealizedPnLUSD, md,
	)
	if err != nil {
		return fmt.Errorf("postgres: update merge keep %s: %w", keepID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("postgres: merge %s: %w: keep row changed", keepID, domain.ErrLedgerConflict)
	}

	tag, err = tx.Exec(ctx, `DELETE FROM positions WHERE id = ANY($1)`, removeIDs)
	if err != nil {
		return fmt.Errorf("postgres: delete merged rows %s: %w", keepID, err)
	}
	if tag.RowsAffected() != int64(len(removeIDs)) {
		return fmt.Errorf("postgres: merge %s: %w: deleted %d of %d rows",
			keepID, domain.ErrLedgerConflict, tag.RowsAffected(), len(removeIDs))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit merge %s: %w", keepID, err)
	}
	return nil
}

// Close transitions an open row to closed, freezing realized PnL as
// final value minus cost basis. Closing a closed row is a no-op.
func (l *PositionLedger) Close(ctx context.Context, id string, finalValueUSD, finalPrice float64, reason string) error {
	const query = `
		UPDATE positions SET
			status             = 'closed',
			current_value_usd  = ROUND($2::numeric, 8)::double precision,
			current_price      = $3,
			realized_pnl_usd   = ROUND(($2::numeric - cost_basis_usd::numeric), 8)::double precision,
			unrealized_pnl_usd = 0,
			closed_at          = NOW(),
			updated_at         = NOW(),
			metadata           = metadata || jsonb_build_object('close_reason', $4::text)
		WHERE id = $1 AND status = 'open'`

	tag, err := l.pool.Exec(ctx, query, id, finalValueUSD, finalPrice, reason)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := l.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("postgres: close position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListClosed returns closed rows for strategyID, most recently closed first,
// with optional closed_at filtering and pagination.
func (l *PositionLedger) ListClosed(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.PositionRecord, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE strategy_id = $1 AND status = 'closed'`
	args := []any{strategyID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions %s: %w", strategyID, err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return out, nil
}

var _ domain.PositionLedger = (*PositionLedger)(nil)
