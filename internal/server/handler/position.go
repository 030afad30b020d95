package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// PositionLister is the ledger view the position handler requires.
type PositionLister interface {
	ListOpen(ctx context.Context, strategyID string) ([]domain.PositionRecord, error)
	ListClosed(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.PositionRecord, error)
}

// PositionHandler serves ledger rows for one strategy.
type PositionHandler struct {
	ledger     PositionLister
	strategyID string
	logger     *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given ledger and logger.
func NewPositionHandler(ledger PositionLister, strategyID string, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		ledger:     ledger,
		strategyID: strategyID,
		logger:     logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Status    string                  `json:"status"`
	Positions []domain.PositionRecord `json:"positions"`
}

// ListPositions returns open or closed ledger rows.
// GET /api/positions?status=open|closed&limit=50&offset=0
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(domain.PositionStatusOpen)
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var rows []domain.PositionRecord
	switch domain.PositionStatus(status) {
	case domain.PositionStatusOpen:
		rows, err = h.ledger.ListOpen(r.Context(), h.strategyID)
		rows = page(rows, opts)
	case domain.PositionStatusClosed:
		rows, err = h.ledger.ListClosed(r.Context(), h.strategyID, opts)
	default:
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if rows == nil {
		rows = []domain.PositionRecord{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Status: status, Positions: rows})
}

func page(rows []domain.PositionRecord, opts domain.ListOpts) []domain.PositionRecord {
	if opts.Offset >= len(rows) {
		return nil
	}
	rows = rows[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows
}
