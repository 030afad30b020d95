package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads objects back from storage. Get returns ErrNotFound for a
// missing object; List returns objects whose path starts with prefix in
// lexical order.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver exports pass reports and closed ledger rows to cold storage.
// Nothing is deleted from the ledger.
type Archiver interface {
	ArchiveReport(ctx context.Context, report PassReport) (string, error)
	ArchiveClosed(ctx context.Context, strategyID string, before time.Time) (int64, error)
	// LatestReport returns the most recently archived report for the
	// strategy, or ErrNotFound.
	LatestReport(ctx context.Context, strategyID string) (PassReport, error)
}
