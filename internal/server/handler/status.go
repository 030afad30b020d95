package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the process mode and the state of the last pass.
type StatusHandler struct {
	mode      string
	passes    PassRunner
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, passes PassRunner, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, passes: passes, startedAt: startedAt}
}

// GetStatus responds with the current mode, strategy and last pass summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"strategy_id":    h.passes.StrategyID(),
		"pass_running":   h.passes.Running(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if last, ok := h.passes.LastReport(); ok {
		resp["last_pass"] = map[string]any{
			"id":          last.ID,
			"dry_run":     last.DryRun,
			"finished_at": last.FinishedAt.Format(time.RFC3339),
			"summary":     last.Summary,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
