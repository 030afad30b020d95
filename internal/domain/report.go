package domain

import (
	"context"
	"time"
)

// MutationKind names a planned ledger change.
type MutationKind string

const (
	MutationInsert MutationKind = "insert"
	MutationUpdate MutationKind = "update"
	MutationMerge  MutationKind = "merge"
	MutationClose  MutationKind = "close"
)

// Mutation is one ledger change planned by the reconciler. Record holds the
// full row to write (insert/update/merge) or the row being closed.
type Mutation struct {
	Kind       MutationKind   `json:"kind"`
	Key        string         `json:"key"`
	Record     PositionRecord `json:"record"`
	RemoveIDs  []string       `json:"remove_ids,omitempty"`
	FinalValue float64        `json:"final_value_usd,omitempty"`
	FinalPrice float64        `json:"final_price,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// PassSummary counts the outcome of reconciliation work.
type PassSummary struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Merged    int `json:"merged"`
	Closed    int `json:"closed"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}

// Add accumulates other into s.
func (s *PassSummary) Add(other PassSummary) {
	s.Inserted += other.Inserted
	s.Updated += other.Updated
	s.Merged += other.Merged
	s.Closed += other.Closed
	s.Unchanged += other.Unchanged
	s.Skipped += other.Skipped
	s.Errored += other.Errored
}

// Count records one applied mutation of the given kind.
func (s *PassSummary) Count(kind MutationKind) {
	switch kind {
	case MutationInsert:
		s.Inserted++
	case MutationUpdate:
		s.Updated++
	case MutationMerge:
		s.Merged++
	case MutationClose:
		s.Closed++
	}
}

// VenueResult is the outcome of reconciling one venue.
type VenueResult struct {
	Venue     string      `json:"venue"`
	Summary   PassSummary `json:"summary"`
	Mutations []Mutation  `json:"mutations,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// PassReport is produced by every reconciliation pass, including passes in
// which some venues failed.
type PassReport struct {
	ID             string             `json:"id"`
	StrategyID     string             `json:"strategy_id"`
	DryRun         bool               `json:"dry_run"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
	Venues         []VenueResult      `json:"venues"`
	Summary        PassSummary        `json:"summary"`
	Exposures      []TreasuryExposure `json:"exposures"`
	HedgeDecisions []HedgeDecision    `json:"hedge_decisions"`
	StopLosses     []StopLossDecision `json:"stop_losses"`
	Warnings       []string           `json:"warnings,omitempty"`
}

// PassAlerter delivers the actionable parts of a finished pass to operators.
type PassAlerter interface {
	AlertPass(ctx context.Context, report PassReport) error
}
