package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/treasurybot/internal/domain"
	"github.com/alanyoungcy/treasurybot/internal/metrics"
)

// BreakerSettings configures a GuardedSource.
type BreakerSettings struct {
	FetchTimeout        time.Duration
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// GuardedSource wraps a venue source with a per-fetch timeout and a circuit
// breaker. Every failure, including an open breaker, is returned wrapped in
// domain.ErrVenueUnavailable.
type GuardedSource struct {
	src     domain.VenueSnapshotSource
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewGuardedSource creates a guarded wrapper around src.
func NewGuardedSource(src domain.VenueSnapshotSource, cfg BreakerSettings, m *metrics.Metrics, logger *slog.Logger) *GuardedSource {
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 3
	}
	log := logger.With(slog.String("component", "guarded_source"), slog.String("venue", src.Venue()))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        src.Venue(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("guarded_source: breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			m.SetBreakerState(name, float64(to))
		},
	})

	return &GuardedSource{src: src, cb: cb, timeout: cfg.FetchTimeout}
}

// Venue returns the wrapped source's venue name.
func (g *GuardedSource) Venue() string { return g.src.Venue() }

// Fetch calls the wrapped source through the breaker with a timeout.
func (g *GuardedSource) Fetch(ctx context.Context, account string) ([]domain.PositionSnapshot, error) {
	res, err := g.cb.Execute(func() (any, error) {
		fetchCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return g.src.Fetch(fetchCtx, account)
	})
	if err != nil {
		if errors.Is(err, domain.ErrVenueUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w: %w", g.src.Venue(), domain.ErrVenueUnavailable, err)
	}
	snaps, _ := res.([]domain.PositionSnapshot)
	return snaps, nil
}

var _ domain.VenueSnapshotSource = (*GuardedSource)(nil)
