// Package app assembles the treasury bot: Wire builds the ledger, locks,
// archive, venue adapters and services, and the mode functions decide which
// of them run.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/treasurybot/internal/config"
)

// Operating modes.
const (
	ModeReconcile = "reconcile" // one pass, then exit
	ModeDaemon    = "daemon"    // scheduled passes and archival, plus the API
	ModeServer    = "server"    // API only; passes run on demand
)

// App owns the configuration and the cleanup hooks registered while wiring.
type App struct {
	cfg     *config.Config
	base    *slog.Logger
	logger  *slog.Logger
	closers []func()
}

// New creates an App. Nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		base:   logger,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until it returns
// or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("strategy_id", a.cfg.Reconcile.StrategyID),
		slog.Bool("dry_run", a.cfg.Reconcile.DryRun),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.base)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case ModeReconcile:
		return a.ReconcileMode(ctx, deps)
	case ModeDaemon:
		return a.DaemonMode(ctx, deps)
	case ModeServer:
		return a.ServerMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close runs the cleanup hooks newest first. Later calls do nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
