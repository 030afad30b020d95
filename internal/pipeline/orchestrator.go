// Package pipeline schedules the recurring work of the daemon: reconciliation
// passes and closed-position archival.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// PassRunner runs one reconciliation pass.
type PassRunner interface {
	StrategyID() string
	RunPass(ctx context.Context, dryRun bool) (domain.PassReport, error)
}

// OrchestratorConfig holds the schedules of the daemon.
type OrchestratorConfig struct {
	PassSchedule    string
	ArchiveSchedule string // empty disables archival
	DryRun          bool
	// PassLockTTL bounds how long the cross-process pass lock is held.
	PassLockTTL time.Duration
	RunOnStart  bool
}

// Orchestrator drives scheduled passes and archive runs with robfig/cron.
// Overlapping runs of the same job are skipped, and the pass lock keeps two
// processes from reconciling the same strategy at once.
type Orchestrator struct {
	passes  PassRunner
	archive *ArchiveJob
	locks   domain.LockManager
	cfg     OrchestratorConfig
	logger  *slog.Logger
	cron    *cron.Cron
}

// NewOrchestrator creates an Orchestrator and registers its jobs. archive and
// locks may be nil.
func NewOrchestrator(passes PassRunner, archive *ArchiveJob, locks domain.LockManager, cfg OrchestratorConfig, logger *slog.Logger) (*Orchestrator, error) {
	logger = logger.With(slog.String("component", "orchestrator"))
	cl := cronLogger{logger: logger}
	o := &Orchestrator{
		passes:  passes,
		archive: archive,
		locks:   locks,
		cfg:     cfg,
		logger:  logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	if o.cfg.PassLockTTL <= 0 {
		o.cfg.PassLockTTL = 5 * time.Minute
	}

	if _, err := o.cron.AddFunc(cfg.PassSchedule, func() { o.RunPass(context.Background()) }); err != nil {
		return nil, fmt.Errorf("orchestrator: pass schedule %q: %w", cfg.PassSchedule, err)
	}
	if archive != nil && cfg.ArchiveSchedule != "" {
		_, err := o.cron.AddFunc(cfg.ArchiveSchedule, func() {
			if err := archive.Run(context.Background()); err != nil {
				o.logger.Error("orchestrator: archive run failed", slog.String("error", err.Error()))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: archive schedule %q: %w", cfg.ArchiveSchedule, err)
		}
	}
	return o, nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator: starting",
		slog.String("pass_schedule", o.cfg.PassSchedule),
		slog.String("archive_schedule", o.cfg.ArchiveSchedule),
		slog.Bool("dry_run", o.cfg.DryRun),
	)
	if o.cfg.RunOnStart {
		o.RunPass(ctx)
	}

	o.cron.Start()
	<-ctx.Done()
	<-o.cron.Stop().Done()

	o.logger.Info("orchestrator: stopped")
	return nil
}

// RunPass runs one pass under the strategy's pass lock. A pass held by
// another process is skipped.
func (o *Orchestrator) RunPass(ctx context.Context) {
	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, "pass:"+o.passes.StrategyID(), o.cfg.PassLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				o.logger.Info("orchestrator: pass lock held elsewhere, skipping")
				return
			}
			o.logger.Error("orchestrator: acquire pass lock", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	report, err := o.passes.RunPass(ctx, o.cfg.DryRun)
	if err != nil {
		o.logger.Error("orchestrator: pass failed", slog.String("error", err.Error()))
		return
	}
	o.logger.Info("orchestrator: pass complete",
		slog.String("pass_id", report.ID),
		slog.Int("errored", report.Summary.Errored),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
