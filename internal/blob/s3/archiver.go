package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeJSONL = "application/x-ndjson"

	// closedPageSize is the number of closed rows fetched per ledger query
	// while streaming an export.
	closedPageSize = 500

	// latestLookbackDays bounds how far back LatestReport searches.
	latestLookbackDays = 7
)

// ClosedLister is the ledger query the archiver needs.
type ClosedLister interface {
	ListClosed(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.PositionRecord, error)
}

// Archiver implements domain.Archiver on top of a BlobWriter. Reports are
// stored one JSON object per pass; closed positions are exported as JSONL.
// Archiving never deletes ledger rows.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	ledger ClosedLister
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. reader and audit may be nil; without a
// reader LatestReport always returns domain.ErrNotFound.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, ledger ClosedLister, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, ledger: ledger, audit: audit}
}

// ReportPath builds the object key for a pass report:
//
//	reports/<strategy>/2026/03/01/<id>.json
func ReportPath(strategyID string, startedAt time.Time, id string) string {
	return reportPrefix(strategyID, startedAt) + id + ".json"
}

func reportPrefix(strategyID string, day time.Time) string {
	return fmt.Sprintf("reports/%s/%s/", strategyID, day.UTC().Format("2006/01/02"))
}

// ClosedPath builds the object key for a closed-position export:
//
//	archive/positions/<strategy>/2026-03-01.jsonl
func ClosedPath(strategyID string, before time.Time) string {
	return fmt.Sprintf("archive/positions/%s/%s.jsonl", strategyID, before.UTC().Format("2006-01-02"))
}

// ArchiveReport uploads report as JSON and returns its object key.
func (a *Archiver) ArchiveReport(ctx context.Context, report domain.PassReport) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report %s: %w", report.ID, err)
	}
	path := ReportPath(report.StrategyID, report.StartedAt, report.ID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), contentTypeJSON); err != nil {
		return "", fmt.Errorf("s3blob: archive report %s: %w", report.ID, err)
	}
	return path, nil
}

// ArchiveClosed streams every row closed at or before the cutoff to a JSONL
// object and returns the number of rows written. Nothing is uploaded when no
// row qualifies.
func (a *Archiver) ArchiveClosed(ctx context.Context, strategyID string, before time.Time) (int64, error) {
	first, err := a.ledger.ListClosed(ctx, strategyID, domain.ListOpts{Until: &before, Limit: closedPageSize})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed query: %w", err)
	}
	if len(first) == 0 {
		return 0, nil
	}

	pr, pw := io.Pipe()
	var count int64
	go func() {
		pw.CloseWithError(a.writeClosed(ctx, pw, strategyID, before, first, &count))
	}()

	path := ClosedPath(strategyID, before)
	if err := a.writer.PutMultipart(ctx, path, pr, 0); err != nil {
		_ = pr.CloseWithError(err)
		return 0, fmt.Errorf("s3blob: archive closed upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.closed_positions", map[string]any{
			"path":        path,
			"count":       count,
			"strategy_id": strategyID,
			"before":      before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive closed audit log: %w", err)
		}
	}
	return count, nil
}

func (a *Archiver) writeClosed(ctx context.Context, w io.Writer, strategyID string, before time.Time, page []domain.PositionRecord, count *int64) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	offset := 0
	for len(page) > 0 {
		for i := range page {
			if err := enc.Encode(page[i]); err != nil {
				return fmt.Errorf("jsonl encode %s: %w", page[i].ID, err)
			}
			*count++
		}
		if len(page) < closedPageSize {
			return nil
		}
		offset += len(page)
		var err error
		page, err = a.ledger.ListClosed(ctx, strategyID, domain.ListOpts{
			Until:  &before,
			Limit:  closedPageSize,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("list closed offset %d: %w", offset, err)
		}
	}
	return nil
}

// LatestReport searches the most recent days' report prefixes and decodes
// the newest object. Report ids sort by time, so the lexically greatest key
// of a day is its latest report.
func (a *Archiver) LatestReport(ctx context.Context, strategyID string) (domain.PassReport, error) {
	if a.reader == nil {
		return domain.PassReport{}, fmt.Errorf("s3blob: latest report: %w", domain.ErrNotFound)
	}
	day := time.Now().UTC()
	for range latestLookbackDays {
		infos, err := a.reader.List(ctx, reportPrefix(strategyID, day))
		if err != nil {
			return domain.PassReport{}, fmt.Errorf("s3blob: latest report: %w", err)
		}
		if len(infos) > 0 {
			latest := slices.MaxFunc(infos, func(x, y domain.BlobInfo) int {
				return strings.Compare(x.Path, y.Path)
			})
			return a.readReport(ctx, latest.Path)
		}
		day = day.AddDate(0, 0, -1)
	}
	return domain.PassReport{}, fmt.Errorf("s3blob: latest report %s: %w", strategyID, domain.ErrNotFound)
}

func (a *Archiver) readReport(ctx context.Context, path string) (domain.PassReport, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return domain.PassReport{}, err
	}
	defer body.Close()

	var report domain.PassReport
	if err := json.NewDecoder(body).Decode(&report); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.PassReport{}, fmt.Errorf("s3blob: report %s is empty", path)
		}
		return domain.PassReport{}, fmt.Errorf("s3blob: decode report %s: %w", path, err)
	}
	return report, nil
}

var _ domain.Archiver = (*Archiver)(nil)
