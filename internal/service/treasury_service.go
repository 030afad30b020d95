package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/treasurybot/internal/config"
	"github.com/alanyoungcy/treasurybot/internal/domain"
	"github.com/alanyoungcy/treasurybot/internal/metrics"
	"github.com/alanyoungcy/treasurybot/internal/store/memory"
)

// Bus channels and streams the pass report is published on.
const (
	PassChannel = "treasury:pass"
	PassStream  = "treasury:passes"
)

// ErrPassInFlight is returned by RunPass while another pass is running in
// this process.
var ErrPassInFlight = errors.New("service: reconciliation pass already in flight")

// VenueAccount pairs a snapshot source with the account it is queried for.
type VenueAccount struct {
	Source  domain.VenueSnapshotSource
	Account string
}

// BalanceAccount pairs a balance reader with the account it is queried for.
type BalanceAccount struct {
	Name    string
	Source  domain.BalanceSource
	Account string
}

// TreasuryDeps groups the collaborators of a TreasuryService. Everything
// after Venues is optional.
type TreasuryDeps struct {
	Ledger     domain.PositionLedger
	Reconciler *Reconciler
	Venues     []VenueAccount
	Balances   []BalanceAccount
	Listings   domain.ListingSource
	Bus        domain.SignalBus
	Archiver   domain.Archiver
	Alerts     domain.PassAlerter
	Metrics    *metrics.Metrics
}

// TreasuryConfig holds the pass-level parameters.
type TreasuryConfig struct {
	StrategyID  string
	PassTimeout time.Duration
	Hedge       config.HedgeConfig
	StopLoss    config.StopLossConfig
}

// TreasuryService runs reconciliation passes: it fetches every venue,
// reconciles the ledger, aggregates exposure and computes hedge and
// stop-loss decisions.
type TreasuryService struct {
	deps   TreasuryDeps
	cfg    TreasuryConfig
	logger *slog.Logger
	now    func() time.Time

	running atomic.Bool
	mu      sync.RWMutex
	last    *domain.PassReport
}

// NewTreasuryService creates a TreasuryService.
func NewTreasuryService(deps TreasuryDeps, cfg TreasuryConfig, logger *slog.Logger) *TreasuryService {
	return &TreasuryService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "treasury_service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StrategyID returns the strategy this service reconciles.
func (s *TreasuryService) StrategyID() string { return s.cfg.StrategyID }

// Running reports whether a pass is in flight.
func (s *TreasuryService) Running() bool { return s.running.Load() }

// LastReport returns the most recent report produced by this process.
func (s *TreasuryService) LastReport() (domain.PassReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return domain.PassReport{}, false
	}
	return *s.last, true
}

type fetchResult struct {
	snapshots []domain.PositionSnapshot
	err       error
}

// RunPass executes one reconciliation pass. A report is returned even when
// venues fail; the error is non-nil only when the pass could not run at all.
// In dry-run the live ledger and audit log are never written.
func (s *TreasuryService) RunPass(ctx context.Context, dryRun bool) (domain.PassReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return domain.PassReport{}, ErrPassInFlight
	}
	defer s.running.Store(false)

	if s.cfg.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PassTimeout)
		defer cancel()
	}

	report := domain.PassReport{
		ID:         newReportID(),
		StrategyID: s.cfg.StrategyID,
		DryRun:     dryRun,
		StartedAt:  s.now(),
	}
	log := s.logger.With(slog.String("pass_id", report.ID), slog.Bool("dry_run", dryRun))
	log.Info("treasury_service: pass started", slog.Int("venues", len(s.deps.Venues)))

	fetched := s.fetchAll(ctx)

	ledger, reconciler, err := s.ledgerView(ctx, dryRun)
	if err != nil {
		return report, err
	}

	for i, v := range s.deps.Venues {
		venue := v.Source.Venue()
		if fr := fetched[i]; fr.err != nil {
			log.Warn("treasury_service: venue skipped",
				slog.String("venue", venue),
				slog.String("error", fr.err.Error()),
			)
			report.Venues = append(report.Venues, domain.VenueResult{
				Venue:   venue,
				Summary: domain.PassSummary{Errored: 1},
				Error:   fr.err.Error(),
			})
			continue
		}
		res := reconciler.Reconcile(ctx, venue, fetched[i].snapshots)
		report.Venues = append(report.Venues, res)
	}
	for _, v := range report.Venues {
		report.Summary.Add(v.Summary)
	}

	rows, err := ledger.ListOpen(ctx, s.cfg.StrategyID)
	if err != nil {
		return report, fmt.Errorf("treasury_service: list open rows: %w", err)
	}

	balances := s.readBalances(ctx, log, &report)
	listed := s.readListings(ctx, log, &report)

	exposures, aggErrs := AggregateExposure(rows, balances, listed)
	for _, e := range aggErrs {
		log.Warn("treasury_service: exposure aggregation", slog.String("error", e.Error()))
		report.Warnings = append(report.Warnings, e.Error())
	}
	report.Exposures = exposures
	report.HedgeDecisions = DecideHedges(exposures, HedgesFromLedger(rows), s.cfg.Hedge)
	report.StopLosses = EvaluateStopLoss(rows, s.cfg.StopLoss)
	report.FinishedAt = s.now()

	for _, d := range report.HedgeDecisions {
		log.Info("treasury_service: hedge decision",
			slog.String("symbol", d.Symbol),
			slog.String("action", string(d.Action)),
			slog.Float64("delta_usd", d.DeltaUSD),
			slog.Float64("exposure_usd", d.ExposureUSD),
			slog.Float64("short_usd", d.ShortUSD),
		)
	}
	for _, sl := range report.StopLosses {
		log.Warn("treasury_service: stop-loss breached",
			slog.String("position_id", sl.PositionID),
			slog.String("key", sl.VenueAssetKey),
			slog.Float64("loss_pct", sl.LossPct),
		)
	}

	s.deps.Metrics.ObservePass(report)
	if !dryRun {
		s.deps.Metrics.SetOpenPositions(len(rows))
	}
	s.publish(ctx, log, report)
	s.archive(ctx, log, report)
	s.alert(ctx, log, report)

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	log.Info("treasury_service: pass finished",
		slog.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		slog.Int("errored", report.Summary.Errored),
		slog.Int("exposures", len(report.Exposures)),
		slog.Int("decisions", len(report.HedgeDecisions)),
	)
	return report, nil
}

// fetchAll queries every venue concurrently. Results are indexed like
// deps.Venues; one venue failing does not affect the others.
func (s *TreasuryService) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(s.deps.Venues))
	var g errgroup.Group
	for i, v := range s.deps.Venues {
		g.Go(func() error {
			snaps, err := v.Source.Fetch(ctx, v.Account)
			results[i] = fetchResult{snapshots: snaps, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ledgerView returns the ledger and reconciler a pass mutates. In dry-run
// both operate on an in-memory copy of the strategy's open rows.
func (s *TreasuryService) ledgerView(ctx context.Context, dryRun bool) (domain.PositionLedger, *Reconciler, error) {
	if !dryRun {
		return s.deps.Ledger, s.deps.Reconciler, nil
	}
	rows, err := s.deps.Ledger.ListOpen(ctx, s.cfg.StrategyID)
	if err != nil {
		return nil, nil, fmt.Errorf("treasury_service: seed dry-run ledger: %w", err)
	}
	shadow := memory.NewPositionLedger(rows...)
	return shadow, s.deps.Reconciler.Shadow(shadow), nil
}

func (s *TreasuryService) readBalances(ctx context.Context, log *slog.Logger, report *domain.PassReport) []domain.AssetBalance {
	var out []domain.AssetBalance
	for _, b := range s.deps.Balances {
		bals, err := b.Source.Balances(ctx, b.Account)
		if err != nil {
			log.Warn("treasury_service: balance read failed",
				slog.String("source", b.Name),
				slog.String("error", err.Error()),
			)
			report.Warnings = append(report.Warnings, fmt.Sprintf("balances %s: %v", b.Name, err))
			continue
		}
		out = append(out, bals...)
	}
	return out
}

func (s *TreasuryService) readListings(ctx context.Context, log *slog.Logger, report *domain.PassReport) map[string]bool {
	if s.deps.Listings == nil {
		return map[string]bool{}
	}
	listed, err := s.deps.Listings.ListedCoins(ctx)
	if err != nil {
		log.Warn("treasury_service: listings unavailable, nothing is hedgeable", slog.String("error", err.Error()))
		report.Warnings = append(report.Warnings, fmt.Sprintf("listings: %v", err))
		return map[string]bool{}
	}
	return listed
}

func (s *TreasuryService) publish(ctx context.Context, log *slog.Logger, report domain.PassReport) {
	if s.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		log.Error("treasury_service: marshal report", slog.String("error", err.Error()))
		return
	}
	if err := s.deps.Bus.Publish(ctx, PassChannel, payload); err != nil {
		log.WarnContext(ctx, "treasury_service: failed to publish report", slog.String("error", err.Error()))
	}
	if err := s.deps.Bus.StreamAppend(ctx, PassStream, payload); err != nil {
		log.WarnContext(ctx, "treasury_service: failed to append report stream", slog.String("error", err.Error()))
	}
}

func (s *TreasuryService) archive(ctx context.Context, log *slog.Logger, report domain.PassReport) {
	if s.deps.Archiver == nil {
		return
	}
	path, err := s.deps.Archiver.ArchiveReport(ctx, report)
	if err != nil {
		log.WarnContext(ctx, "treasury_service: failed to archive report", slog.String("error", err.Error()))
		return
	}
	log.Debug("treasury_service: report archived", slog.String("path", path))
}

func (s *TreasuryService) alert(ctx context.Context, log *slog.Logger, report domain.PassReport) {
	if s.deps.Alerts == nil {
		return
	}
	if err := s.deps.Alerts.AlertPass(ctx, report); err != nil {
		log.WarnContext(ctx, "treasury_service: failed to send alerts", slog.String("error", err.Error()))
	}
}

// newReportID returns a time-ordered id so archived reports sort by start.
func newReportID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
