package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// AuditHandler serves the ledger mutation trail.
type AuditHandler struct {
	audit      domain.AuditStore
	strategyID string
	logger     *slog.Logger
}

// NewAuditHandler creates an AuditHandler scoped to one strategy.
func NewAuditHandler(audit domain.AuditStore, strategyID string, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, strategyID: strategyID, logger: logger}
}

// ListAudit returns audit entries newest first. position_id also matches
// merges that folded the row into another.
// GET /api/audit?position_id=&event=&since=&until=&limit=50&offset=0
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := domain.AuditFilter{
		ListOpts:   opts,
		StrategyID: h.strategyID,
		PositionID: q.Get("position_id"),
		Event:      q.Get("event"),
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
