package service

import (
	"bytes"
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/config"
	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// PlanOptions tunes how snapshots are reconciled against ledger rows.
type PlanOptions struct {
	// CostBasisToleranceUSD is the absolute difference above which the venue's
	// initial value replaces a row's cost basis.
	CostBasisToleranceUSD float64
	// KeepPolicy selects the surviving row of a fragmented key group.
	KeepPolicy string
}

// DeterministicID derives the row id for a position first seen through
// reconciliation. The same identity always yields the same id.
func DeterministicID(strategyID, venue, key string) string {
	sum := sha256.Sum256([]byte(strategyID + "\x00" + venue + "\x00" + key))
	return hex.EncodeToString(sum[:16])
}

// PlanReconciliation computes the ledger mutations that bring rows in line
// with the venue snapshots. rows may contain rows from other venues; they are
// ignored. Keys are processed in sorted order.
func PlanReconciliation(strategyID, venue string, snapshots []domain.PositionSnapshot, rows []domain.PositionRecord, opts PlanOptions, now time.Time) []domain.Mutation {
	muts, _ := plan(strategyID, venue, snapshots, rows, opts, now)
	return muts
}

// plan returns the mutations plus the number of keys already in sync.
func plan(strategyID, venue string, snapshots []domain.PositionSnapshot, rows []domain.PositionRecord, opts PlanOptions, now time.Time) ([]domain.Mutation, int) {
	snaps := aggregateSnapshots(snapshots)

	groups := make(map[string][]domain.PositionRecord)
	for _, r := range rows {
		if r.StrategyID != strategyID || r.Venue != venue || !r.IsOpen() {
			continue
		}
		groups[r.VenueAssetKey] = append(groups[r.VenueAssetKey], r)
	}

	keys := make([]string, 0, len(snaps)+len(groups))
	for k := range snaps {
		keys = append(keys, k)
	}
	for k := range groups {
		if _, ok := snaps[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var (
		muts      []domain.Mutation
		unchanged int
	)
	for _, key := range keys {
		snap, seen := snaps[key]
		group := orderForKeep(groups[key], opts.KeepPolicy)
		active := seen && snap.Active() && !snap.TerminalZero()

		switch {
		case !active && len(group) == 0:
			// Venue reports a zero or worthless entry we never tracked.
		case !active:
			muts = append(muts, planClose(key, snap, seen, group, now)...)
		case len(group) == 0:
			muts = append(muts, planInsert(strategyID, venue, snap, now))
		case len(group) == 1:
			m, ok := planUpdate(group[0], snap, opts, now)
			if !ok {
				unchanged++
				continue
			}
			muts = append(muts, m)
		default:
			muts = append(muts, planMerge(group, snap, now))
		}
	}
	return muts, unchanged
}

// aggregateSnapshots folds duplicate entries for one key into a single
// snapshot by summing sizes and values.
func aggregateSnapshots(in []domain.PositionSnapshot) map[string]domain.PositionSnapshot {
	out := make(map[string]domain.PositionSnapshot, len(in))
	for _, s := range in {
		prev, ok := out[s.VenueAssetKey]
		if !ok {
			s.Metadata = domain.CloneMetadata(s.Metadata)
			out[s.VenueAssetKey] = s
			continue
		}
		agg := prev
		agg.Size = prev.Size + s.Size
		agg.InitialValueUSD = domain.SumUSD(prev.InitialValueUSD, s.InitialValueUSD)
		agg.CurrentValueUSD = domain.SumUSD(prev.CurrentValueUSD, s.CurrentValueUSD)
		agg.PnLUSD = domain.SumUSD(prev.PnLUSD, s.PnLUSD)
		agg.Terminal = prev.Terminal && s.Terminal
		if agg.Size > 0 {
			agg.AvgEntryPrice = agg.InitialValueUSD / agg.Size
			agg.CurrentPrice = agg.CurrentValueUSD / agg.Size
		}
		agg.Metadata = domain.MergeMetadata(prev.Metadata, s.Metadata)
		out[s.VenueAssetKey] = agg
	}
	return out
}

// orderForKeep sorts a key group so the row that survives a merge comes first.
func orderForKeep(group []domain.PositionRecord, policy string) []domain.PositionRecord {
	out := slices.Clone(group)
	oldest := func(a, b domain.PositionRecord) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
	if policy == config.KeepMostMetadata {
		slices.SortFunc(out, func(a, b domain.PositionRecord) int {
			if c := cmp.Compare(len(b.Metadata), len(a.Metadata)); c != 0 {
				return c
			}
			return oldest(a, b)
		})
		return out
	}
	slices.SortFunc(out, oldest)
	return out
}

func planClose(key string, snap domain.PositionSnapshot, seen bool, group []domain.PositionRecord, now time.Time) []domain.Mutation {
	reason := domain.CloseReasonExternallyClosed
	var finalValue, finalPrice float64
	if seen {
		finalValue = snap.CurrentValueUSD
		finalPrice = snap.CurrentPrice
		if snap.Terminal {
			reason = domain.CloseReasonExpired
		}
	}

	muts := make([]domain.Mutation, 0, len(group))
	for i, row := range group {
		value, price := finalValue, finalPrice
		if i > 0 {
			// The venue value belongs to the position once; fragments close at zero.
			value = 0
		}
		muts = append(muts, domain.Mutation{
			Kind:       domain.MutationClose,
			Key:        key,
			Record:     domain.ClosePosition(row, value, price, reason, now),
			FinalValue: value,
			FinalPrice: price,
			Reason:     reason,
		})
	}
	return muts
}

func planInsert(strategyID, venue string, snap domain.PositionSnapshot, now time.Time) domain.Mutation {
	md := snap.ProvenanceMetadata()
	md["source"] = "reconcile_insert"
	rec := domain.PositionRecord{
		ID:               DeterministicID(strategyID, venue, snap.VenueAssetKey),
		StrategyID:       strategyID,
		Venue:            venue,
		VenueAssetKey:    snap.VenueAssetKey,
		Kind:             snap.Kind,
		Asset:            snap.Asset,
		Side:             snap.Side,
		Status:           domain.PositionStatusOpen,
		CostBasisUSD:     domain.RoundUSD(snap.InitialValueUSD),
		CurrentValueUSD:  domain.RoundUSD(snap.CurrentValueUSD),
		EntryPrice:       snap.AvgEntryPrice,
		CurrentPrice:     snap.CurrentPrice,
		SizeUnits:        snap.Size,
		UnrealizedPnLUSD: domain.SubUSD(snap.CurrentValueUSD, snap.InitialValueUSD),
		OpenedAt:         now,
		UpdatedAt:        now,
		Metadata:         md,
	}
	return domain.Mutation{Kind: domain.MutationInsert, Key: snap.VenueAssetKey, Record: rec}
}

// planUpdate returns the update for a single tracked row, or false when the
// row already matches the snapshot.
func planUpdate(row domain.PositionRecord, snap domain.PositionSnapshot, opts PlanOptions, now time.Time) (domain.Mutation, bool) {
	next := row.Clone()
	next.Kind = snap.Kind
	next.Asset = snap.Asset
	next.Side = snap.Side
	next.CurrentValueUSD = domain.RoundUSD(snap.CurrentValueUSD)
	next.CurrentPrice = snap.CurrentPrice
	next.SizeUnits = snap.Size
	if domain.AbsDiffUSD(snap.InitialValueUSD, row.CostBasisUSD) > opts.CostBasisToleranceUSD {
		next.CostBasisUSD = domain.RoundUSD(snap.InitialValueUSD)
		next.EntryPrice = snap.AvgEntryPrice
	}
	next.UnrealizedPnLUSD = domain.SubUSD(next.CurrentValueUSD, next.CostBasisUSD)

	patch := snap.ProvenanceMetadata()
	next.Metadata = domain.MergeMetadata(row.Metadata, patch)

	if !valuesChanged(row, next) && !metadataChanged(row.Metadata, patch) {
		return domain.Mutation{}, false
	}
	next.UpdatedAt = now
	return domain.Mutation{Kind: domain.MutationUpdate, Key: row.VenueAssetKey, Record: next}, true
}

func planMerge(group []domain.PositionRecord, snap domain.PositionSnapshot, now time.Time) domain.Mutation {
	keep := group[0]
	removed := group[1:]

	removeIDs := make([]string, 0, len(removed))
	costs := make([]float64, 0, len(removed))
	realized := []float64{keep.RealizedPnLUSD}
	md := domain.CloneMetadata(keep.Metadata)
	// Fold fragment metadata in without letting it override the keep row.
	for i := len(removed) - 1; i >= 0; i-- {
		r := removed[i]
		removeIDs = append(removeIDs, r.ID)
		costs = append(costs, r.CostBasisUSD)
		realized = append(realized, r.RealizedPnLUSD)
		md = domain.MergeMetadata(r.Metadata, md)
	}
	slices.Reverse(removeIDs)
	slices.Reverse(costs)
	md = domain.MergeMetadata(md, snap.ProvenanceMetadata())

	history, _ := md["merge_history"].([]any)
	history = append(slices.Clone(history), map[string]any{
		"merged_at":              now.UTC().Format(time.RFC3339),
		"removed_ids":            anySlice(removeIDs),
		"removed_cost_basis_usd": domain.SumUSD(costs...),
		"kept_cost_basis_usd":    keep.CostBasisUSD,
	})
	md["merge_history"] = history

	merged := keep.Clone()
	merged.Kind = snap.Kind
	merged.Asset = snap.Asset
	merged.Side = snap.Side
	merged.Status = domain.PositionStatusOpen
	merged.CostBasisUSD = domain.RoundUSD(snap.InitialValueUSD)
	merged.CurrentValueUSD = domain.RoundUSD(snap.CurrentValueUSD)
	merged.EntryPrice = snap.AvgEntryPrice
	merged.CurrentPrice = snap.CurrentPrice
	merged.SizeUnits = snap.Size
	merged.RealizedPnLUSD = domain.SumUSD(realized...)
	merged.UnrealizedPnLUSD = domain.SubUSD(merged.CurrentValueUSD, merged.CostBasisUSD)
	merged.UpdatedAt = now
	merged.Metadata = md

	return domain.Mutation{
		Kind:      domain.MutationMerge,
		Key:       keep.VenueAssetKey,
		Record:    merged,
		RemoveIDs: removeIDs,
	}
}

func valuesChanged(a, b domain.PositionRecord) bool {
	return a.Kind != b.Kind ||
		a.Asset != b.Asset ||
		a.Side != b.Side ||
		a.CostBasisUSD != b.CostBasisUSD ||
		a.CurrentValueUSD != b.CurrentValueUSD ||
		a.EntryPrice != b.EntryPrice ||
		a.CurrentPrice != b.CurrentPrice ||
		a.SizeUnits != b.SizeUnits ||
		a.UnrealizedPnLUSD != b.UnrealizedPnLUSD
}

// metadataChanged reports whether applying patch would change any value in
// current. Values are compared in their JSON form so numbers that round-trip
// through storage as float64 compare equal.
func metadataChanged(current, patch map[string]any) bool {
	for k, v := range patch {
		old, ok := current[k]
		if !ok {
			return true
		}
		a, errA := json.Marshal(old)
		b, errB := json.Marshal(v)
		if errA != nil || errB != nil || !bytes.Equal(a, b) {
			return true
		}
	}
	return false
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ReconcilerConfig holds the parameters of a Reconciler.
type ReconcilerConfig struct {
	StrategyID string
	LockTTL    time.Duration
	Plan       PlanOptions
}

// Reconciler applies planned mutations to a PositionLedger one key group at a
// time. It holds no state between calls.
type Reconciler struct {
	ledger domain.PositionLedger
	locks  domain.LockManager
	audit  domain.AuditStore
	cfg    ReconcilerConfig
	dryRun bool
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates a Reconciler. locks and audit may be nil.
func NewReconciler(ledger domain.PositionLedger, locks domain.LockManager, audit domain.AuditStore, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Reconciler{
		ledger: ledger,
		locks:  locks,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "reconciler")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Shadow returns a dry-run copy of r that writes to ledger instead, without
// taking locks or writing audit entries.
func (r *Reconciler) Shadow(ledger domain.PositionLedger) *Reconciler {
	cp := *r
	cp.ledger = ledger
	cp.locks = nil
	cp.audit = nil
	cp.dryRun = true
	return &cp
}

// Reconcile brings the ledger rows of one venue in line with snapshots.
func (r *Reconciler) Reconcile(ctx context.Context, venue string, snapshots []domain.PositionSnapshot) domain.VenueResult {
	res := domain.VenueResult{Venue: venue}
	log := r.logger.With(slog.String("venue", venue), slog.Bool("dry_run", r.dryRun))

	rows, err := r.ledger.ListOpen(ctx, r.cfg.StrategyID)
	if err != nil {
		log.Error("reconciler: list open rows", slog.String("error", err.Error()))
		res.Error = err.Error()
		res.Summary.Errored++
		return res
	}

	muts, unchanged := plan(r.cfg.StrategyID, venue, snapshots, rows, r.cfg.Plan, r.now())
	res.Summary.Unchanged = unchanged

	for start := 0; start < len(muts); {
		end := start + 1
		for end < len(muts) && muts[end].Key == muts[start].Key {
			end++
		}
		group := muts[start:end]
		start = end

		if ctx.Err() != nil {
			res.Summary.Skipped += len(group)
			continue
		}
		applied, sum := r.applyGroup(ctx, log, venue, group)
		res.Summary.Add(sum)
		res.Mutations = append(res.Mutations, applied...)
	}

	log.Info("reconciler: venue reconciled",
		slog.Int("inserted", res.Summary.Inserted),
		slog.Int("updated", res.Summary.Updated),
		slog.Int("merged", res.Summary.Merged),
		slog.Int("closed", res.Summary.Closed),
		slog.Int("unchanged", res.Summary.Unchanged),
		slog.Int("skipped", res.Summary.Skipped),
		slog.Int("errored", res.Summary.Errored),
	)
	return res
}

// applyGroup applies the mutations of one key under that key's lock. The
// first failure abandons the rest of the group until the next pass.
func (r *Reconciler) applyGroup(ctx context.Context, log *slog.Logger, venue string, group []domain.Mutation) ([]domain.Mutation, domain.PassSummary) {
	var sum domain.PassSummary
	key := group[0].Key

	if r.locks != nil {
		lockKey := fmt.Sprintf("recon:%s:%s:%s", r.cfg.StrategyID, venue, key)
		unlock, err := r.locks.Acquire(ctx, lockKey, r.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				log.Warn("reconciler: key locked, skipping", slog.String("key", key))
				sum.Skipped += len(group)
				return nil, sum
			}
			log.Error("reconciler: acquire lock", slog.String("key", key), slog.String("error", err.Error()))
			sum.Errored++
			return nil, sum
		}
		defer unlock()
	}

	var applied []domain.Mutation
	for _, m := range group {
		if err := ctx.Err(); err != nil {
			sum.Skipped++
			continue
		}
		if r.dryRun {
			log.Info("reconciler: dry-run mutation",
				slog.String("kind", string(m.Kind)),
				slog.String("key", m.Key),
				slog.String("id", m.Record.ID),
			)
		}
		if m.Kind == domain.MutationInsert {
			if err := r.assignInsertID(ctx, &m); err != nil {
				log.Error("reconciler: resolve insert id",
					slog.String("key", m.Key),
					slog.String("error", err.Error()),
				)
				sum.Errored++
				break
			}
		}
		if err := r.apply(ctx, m); err != nil {
			log.Error("reconciler: apply mutation",
				slog.String("kind", string(m.Kind)),
				slog.String("key", m.Key),
				slog.String("id", m.Record.ID),
				slog.String("error", err.Error()),
			)
			sum.Errored++
			break
		}
		sum.Count(m.Kind)
		applied = append(applied, m)
		r.writeAudit(ctx, log, venue, m)
	}
	return applied, sum
}

// maxReopenChain bounds the walk over closed rows sharing one key.
const maxReopenChain = 256

// assignInsertID keeps closed rows intact when a key reappears. If the
// planned id already belongs to a closed row, the next id is derived from
// that row's id and close time, and the walk repeats until it reaches a
// free or open id. Replays therefore land on the same row.
func (r *Reconciler) assignInsertID(ctx context.Context, m *domain.Mutation) error {
	id, prev := m.Record.ID, ""
	for range maxReopenChain {
		existing, err := r.ledger.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && existing.IsOpen()) {
			if id != m.Record.ID {
				m.Record.Metadata = maps.Clone(m.Record.Metadata)
				if m.Record.Metadata == nil {
					m.Record.Metadata = make(map[string]any)
				}
				m.Record.Metadata["reopened_from"] = prev
				m.Record.ID = id
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("reconciler: get %s: %w", id, err)
		}
		prev = existing.ID
		closedAt := existing.UpdatedAt
		if existing.ClosedAt != nil {
			closedAt = *existing.ClosedAt
		}
		id = DeterministicID(r.cfg.StrategyID, existing.Venue,
			existing.VenueAssetKey+"\x00"+existing.ID+"\x00"+closedAt.UTC().Format(time.RFC3339Nano))
	}
	return fmt.Errorf("reconciler: key %s: %w: more than %d closed rows", m.Key, domain.ErrLedgerConflict, maxReopenChain)
}

func (r *Reconciler) apply(ctx context.Context, m domain.Mutation) error {
	switch m.Kind {
	case domain.MutationInsert, domain.MutationUpdate:
		return r.ledger.Upsert(ctx, m.Record)
	case domain.MutationMerge:
		return r.ledger.Merge(ctx, m.Record.ID, m.RemoveIDs, m.Record)
	case domain.MutationClose:
		return r.ledger.Close(ctx, m.Record.ID, m.FinalValue, m.FinalPrice, m.Reason)
	default:
		return fmt.Errorf("reconciler: unknown mutation kind %q", m.Kind)
	}
}

var auditEvents = map[domain.MutationKind]string{
	domain.MutationInsert: "position_inserted",
	domain.MutationUpdate: "position_updated",
	domain.MutationMerge:  "position_merged",
	domain.MutationClose:  "position_closed",
}

func (r *Reconciler) writeAudit(ctx context.Context, log *slog.Logger, venue string, m domain.Mutation) {
	if r.audit == nil {
		return
	}
	detail := map[string]any{
		"strategy_id":       r.cfg.StrategyID,
		"venue":             venue,
		"key":               m.Key,
		"id":                m.Record.ID,
		"cost_basis_usd":    m.Record.CostBasisUSD,
		"current_value_usd": m.Record.CurrentValueUSD,
	}
	switch m.Kind {
	case domain.MutationMerge:
		detail["removed_ids"] = m.RemoveIDs
	case domain.MutationClose:
		detail["reason"] = m.Reason
		detail["final_value_usd"] = m.FinalValue
		detail["realized_pnl_usd"] = m.Record.RealizedPnLUSD
	}
	if err := r.audit.Log(ctx, auditEvents[m.Kind], detail); err != nil {
		log.WarnContext(ctx, "reconciler: failed to write audit log",
			slog.String("event", auditEvents[m.Kind]),
			slog.String("error", err.Error()),
		)
	}
}
