package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// ArchiveJob exports closed positions older than the retention window to
// cold storage. Ledger rows are kept.
type ArchiveJob struct {
	archiver      domain.Archiver
	strategyID    string
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiveJob creates an ArchiveJob.
func NewArchiveJob(archiver domain.Archiver, strategyID string, retentionDays int, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:      archiver,
		strategyID:    strategyID,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archive_job")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a single archive run for rows closed before now minus the
// retention window.
func (a *ArchiveJob) Run(ctx context.Context) error {
	cutoff := a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("archive_job: starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.archiver.ArchiveClosed(ctx, a.strategyID, cutoff)
	if err != nil {
		return fmt.Errorf("archive_job: closed positions before %v: %w", cutoff, err)
	}

	a.logger.Info("archive_job: archive run complete", slog.Int64("positions_archived", n))
	return nil
}
