package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// PassRunner is the reconciliation service as seen by the HTTP handlers.
type PassRunner interface {
	StrategyID() string
	RunPass(ctx context.Context, dryRun bool) (domain.PassReport, error)
	LastReport() (domain.PassReport, bool)
	Running() bool
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit, offset, since and until from the query string.
// Bad numbers fall back to the defaults; bad timestamps are an error since
// silently widening a time window returns the wrong rows.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: defaultLimit}

	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, maxLimit)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		opts.Offset = n
	}

	var err error
	if opts.Since, err = parseTime(q.Get("since")); err != nil {
		return opts, fmt.Errorf("since: %w", err)
	}
	if opts.Until, err = parseTime(q.Get("until")); err != nil {
		return opts, fmt.Errorf("until: %w", err)
	}
	return opts, nil
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("want RFC3339, got %q", v)
	}
	return &t, nil
}
