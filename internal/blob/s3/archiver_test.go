package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
	"github.com/alanyoungcy/treasurybot/internal/store/memory"
)

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, contentTypeJSONL)
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

type recordingAudit struct {
	events []string
}

func (r *recordingAudit) Log(_ context.Context, event string, _ map[string]any) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) List(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestReportPath(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("x", -3*3600))
	assert.Equal(t, "reports/treasury/2026/03/02/abc.json", ReportPath("treasury", at, "abc"))
	assert.Equal(t, "archive/positions/treasury/2026-03-01.jsonl",
		ClosedPath("treasury", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestArchiveReportAndLatest(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, memory.NewPositionLedger(), nil)

	now := time.Now().UTC()
	for _, id := range []string{"0001", "0003", "0002"} {
		_, err := a.ArchiveReport(ctx, domain.PassReport{ID: id, StrategyID: "treasury", StartedAt: now})
		require.NoError(t, err)
	}
	path, err := a.ArchiveReport(ctx, domain.PassReport{ID: "9999", StrategyID: "other", StartedAt: now})
	require.NoError(t, err)
	assert.Equal(t, contentTypeJSON, blobs.types[path])

	latest, err := a.LatestReport(ctx, "treasury")
	require.NoError(t, err)
	assert.Equal(t, "0003", latest.ID)

	_, err = a.LatestReport(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestArchiveClosedStreamsEveryPage(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	ledger := memory.NewPositionLedger()
	ledger.SetClock(func() time.Time { return base })
	total := closedPageSize + 7
	for i := range total {
		id := fmt.Sprintf("p%04d", i)
		require.NoError(t, ledger.Upsert(ctx, domain.PositionRecord{
			ID: id, StrategyID: "treasury", Venue: "polymarket", VenueAssetKey: id,
			Status: domain.PositionStatusOpen, CostBasisUSD: 1,
		}))
		require.NoError(t, ledger.Close(ctx, id, 0, 0, domain.CloseReasonExpired))
	}
	require.NoError(t, ledger.Upsert(ctx, domain.PositionRecord{
		ID: "open", StrategyID: "treasury", Venue: "polymarket", VenueAssetKey: "open",
		Status: domain.PositionStatusOpen,
	}))

	blobs := newMemBlobs()
	audit := &recordingAudit{}
	a := NewArchiver(blobs, blobs, ledger, audit)

	n, err := a.ArchiveClosed(ctx, "treasury", base.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, total, n)

	data := blobs.objects[ClosedPath("treasury", base.Add(time.Hour))]
	sc := bufio.NewScanner(bytes.NewReader(data))
	lines := 0
	for sc.Scan() {
		var rec domain.PositionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, domain.PositionStatusClosed, rec.Status)
		lines++
	}
	assert.Equal(t, total, lines)
	assert.Equal(t, []string{"archive.closed_positions"}, audit.events)

	// Rows are exported, never removed.
	assert.Equal(t, total+1, ledger.Len())
}

func TestArchiveClosedNothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, nil, memory.NewPositionLedger(), nil)
	n, err := a.ArchiveClosed(context.Background(), "treasury", time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}
