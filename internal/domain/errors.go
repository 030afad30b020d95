package domain

import "errors"

var (
	ErrNotFound                 = errors.New("not found")
	ErrRateLimited              = errors.New("rate limited")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrLockHeld                 = errors.New("lock already held")
	ErrVenueUnavailable         = errors.New("venue unavailable")
	ErrLedgerConflict           = errors.New("ledger conflict")
	ErrAggregationInconsistency = errors.New("aggregation inconsistency")
	ErrDecisionConfigInvalid    = errors.New("decision config invalid")
)
