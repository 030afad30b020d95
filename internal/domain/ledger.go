package domain

import (
	"fmt"
	"slices"
	"time"
)

// CheckMerge validates a merge request against the current rows. rows must
// contain every row named by keepID and removeIDs that exists in the ledger.
// Any violation is reported as ErrLedgerConflict and nothing may be applied.
func CheckMerge(keepID string, removeIDs []string, rows map[string]PositionRecord, merged PositionRecord) error {
	if len(removeIDs) == 0 {
		return fmt.Errorf("%w: merge into %s without rows to remove", ErrLedgerConflict, keepID)
	}
	if slices.Contains(removeIDs, keepID) {
		return fmt.Errorf("%w: keep row %s listed for removal", ErrLedgerConflict, keepID)
	}
	keep, ok := rows[keepID]
	if !ok {
		return fmt.Errorf("%w: keep row %s missing", ErrLedgerConflict, keepID)
	}
	if !keep.IsOpen() {
		return fmt.Errorf("%w: keep row %s is %s", ErrLedgerConflict, keepID, keep.Status)
	}
	if merged.ID != "" && merged.ID != keepID {
		return fmt.Errorf("%w: merged record id %s does not match keep row %s", ErrLedgerConflict, merged.ID, keepID)
	}
	if !keep.SameIdentity(merged) {
		return fmt.Errorf("%w: merged record changes identity of %s", ErrLedgerConflict, keepID)
	}
	seen := make(map[string]bool, len(removeIDs))
	for _, id := range removeIDs {
		if seen[id] {
			return fmt.Errorf("%w: row %s listed twice", ErrLedgerConflict, id)
		}
		seen[id] = true
		r, ok := rows[id]
		if !ok {
			return fmt.Errorf("%w: row %s missing", ErrLedgerConflict, id)
		}
		if !r.SameIdentity(keep) {
			return fmt.Errorf("%w: row %s belongs to %s/%s", ErrLedgerConflict, id, r.Venue, r.VenueAssetKey)
		}
		if !r.IsOpen() {
			return fmt.Errorf("%w: row %s is %s", ErrLedgerConflict, id, r.Status)
		}
	}
	return nil
}

// ClosePosition returns rec transitioned to closed at finalValueUSD. Realized
// PnL is frozen against the row's cost basis.
func ClosePosition(rec PositionRecord, finalValueUSD, finalPrice float64, reason string, now time.Time) PositionRecord {
	out := rec.Clone()
	out.Status = PositionStatusClosed
	out.CurrentValueUSD = RoundUSD(finalValueUSD)
	out.CurrentPrice = finalPrice
	out.RealizedPnLUSD = SubUSD(finalValueUSD, rec.CostBasisUSD)
	out.UnrealizedPnLUSD = 0
	closedAt := now
	out.ClosedAt = &closedAt
	out.UpdatedAt = now
	out.Metadata = MergeMetadata(out.Metadata, map[string]any{"close_reason": reason})
	return out
}
