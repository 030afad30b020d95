package domain

import (
	"context"
	"time"
)

// LockManager serialises passes and per-key reconciliation across
// processes. unlock is safe to call more than once; a lock also lapses after
// ttl so a crashed holder cannot wedge the ledger.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of a durable stream. IDs increase with append
// order and are opaque otherwise.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries pass reports: Publish for live subscribers, streams for
// the bounded history read back by the API. Subscribe accepts glob patterns
// such as "treasury:*".
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	// StreamRead returns up to count entries after lastID; "0" reads from
	// the start.
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter admits at most limit events per key within a sliding window.
// A denied call is not counted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
