package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/treasurybot/internal/pipeline"
	"github.com/alanyoungcy/treasurybot/internal/server"
	"github.com/alanyoungcy/treasurybot/internal/server/handler"
	"github.com/alanyoungcy/treasurybot/internal/server/ws"
)

// ReconcileMode runs a single pass, prints its report to stdout and returns.
// A pass with venue errors still exits cleanly; the report carries them.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	report, err := deps.Treasury.RunPass(ctx, a.cfg.Reconcile.DryRun)
	if err != nil {
		return fmt.Errorf("reconcile mode: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("reconcile mode: write report: %w", err)
	}
	return nil
}

// DaemonMode runs scheduled passes and archival alongside the HTTP server.
func (a *App) DaemonMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting daemon mode")

	g, ctx := errgroup.WithContext(ctx)

	var archive *pipeline.ArchiveJob
	if deps.Archiver != nil {
		archive = pipeline.NewArchiveJob(deps.Archiver, a.cfg.Reconcile.StrategyID, a.cfg.S3.ArchiveAfterDays, a.base)
	}
	orch, err := pipeline.NewOrchestrator(deps.Treasury, archive, deps.LockManager, pipeline.OrchestratorConfig{
		PassSchedule:    a.cfg.Reconcile.Schedule,
		ArchiveSchedule: a.cfg.S3.ArchiveSchedule,
		DryRun:          a.cfg.Reconcile.DryRun,
		PassLockTTL:     a.cfg.Reconcile.PassTimeout.Duration + time.Minute,
		RunOnStart:      true,
	}, a.base)
	if err != nil {
		return fmt.Errorf("daemon mode: %w", err)
	}
	g.Go(func() error {
		return orch.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// ServerMode serves the API only; passes run on demand via POST /api/reconcile.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()
	logger := a.base.With(slog.String("component", "server"))

	hub := ws.NewHub(deps.SignalBus, a.base, ws.Config{
		Mode:       a.cfg.Mode,
		StrategyID: a.cfg.Reconcile.StrategyID,
		StartedAt:  startedAt,
		Passes:     deps.Treasury,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		APIKey:         a.cfg.Server.APIKey,
		ReadOnlyAPIKey: a.cfg.Server.ReadOnlyAPIKey,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		TriggerLimit:   a.cfg.Server.TriggerLimit,
		TriggerWindow:  a.cfg.Server.TriggerWindow.Duration,
		WriteTimeout:   a.cfg.Reconcile.PassTimeout.Duration + 30*time.Second,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks),
		Status:    handler.NewStatusHandler(a.cfg.Mode, deps.Treasury, startedAt),
		Positions: handler.NewPositionHandler(deps.Ledger, a.cfg.Reconcile.StrategyID, logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.cfg.Reconcile.StrategyID, logger),
		Reconcile: handler.NewReconcileHandler(deps.Treasury, deps.Archiver, deps.SignalBus, a.cfg.Reconcile.DryRun, logger),
		Metrics:   deps.Metrics.Handler(),
		Observe:   deps.Metrics.ObserveHTTP,
		Limiter:   deps.RateLimiter,
	}, hub, logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
