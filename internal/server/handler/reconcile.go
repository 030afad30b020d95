package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/treasurybot/internal/domain"
	"github.com/alanyoungcy/treasurybot/internal/service"
)

// ReconcileHandler triggers passes and serves their reports.
type ReconcileHandler struct {
	passes        PassRunner
	archiver      domain.Archiver
	history       domain.SignalBus
	defaultDryRun bool
	logger        *slog.Logger
}

// NewReconcileHandler creates a ReconcileHandler. archiver and history may be
// nil; history is the bus whose pass stream backs GET /api/reports.
func NewReconcileHandler(passes PassRunner, archiver domain.Archiver, history domain.SignalBus, defaultDryRun bool, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		passes:        passes,
		archiver:      archiver,
		history:       history,
		defaultDryRun: defaultDryRun,
		logger:        logger,
	}
}

// TriggerReconcile runs one pass and returns its report. The pass runs in
// dry-run unless dry_run=false is given or the configured default says
// otherwise.
// POST /api/reconcile?dry_run=true|false
func (h *ReconcileHandler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	dryRun := h.defaultDryRun
	if v := r.URL.Query().Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dry_run must be a boolean")
			return
		}
		dryRun = b
	}

	h.logger.InfoContext(r.Context(), "handler: reconcile requested", slog.Bool("dry_run", dryRun))
	report, err := h.passes.RunPass(r.Context(), dryRun)
	if err != nil {
		if errors.Is(err, service.ErrPassInFlight) {
			writeError(w, http.StatusConflict, "a reconciliation pass is already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: reconcile failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "reconciliation pass failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// LatestReport returns the last report of this process, falling back to the
// archive.
// GET /api/reports/latest
func (h *ReconcileHandler) LatestReport(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.passes.LastReport(); ok {
		writeJSON(w, http.StatusOK, report)
		return
	}
	if h.archiver == nil {
		writeError(w, http.StatusNotFound, "no report yet")
		return
	}

	report, err := h.archiver.LatestReport(r.Context(), h.passes.StrategyID())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no report yet")
	case err != nil:
		h.logger.ErrorContext(r.Context(), "handler: load archived report failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load report")
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// reportEntry is one report from the pass stream with its cursor.
type reportEntry struct {
	Cursor string            `json:"cursor"`
	Report domain.PassReport `json:"report"`
}

// ListReports pages through recent pass reports oldest first. Pass the last
// cursor seen as after= to continue.
// GET /api/reports?after=0&limit=50
func (h *ReconcileHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"reports": []reportEntry{}})
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}

	msgs, err := h.history.StreamRead(r.Context(), service.PassStream, after, opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read report stream failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read reports")
		return
	}

	out := make([]reportEntry, 0, len(msgs))
	for _, m := range msgs {
		var report domain.PassReport
		if err := json.Unmarshal(m.Payload, &report); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skipping undecodable report",
				slog.String("cursor", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, reportEntry{Cursor: m.ID, Report: report})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}
