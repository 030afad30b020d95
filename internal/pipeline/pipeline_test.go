package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
	"github.com/alanyoungcy/treasurybot/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingRunner struct {
	calls  atomic.Int32
	dryRun []bool
}

func (c *countingRunner) StrategyID() string { return "s1" }

func (c *countingRunner) RunPass(_ context.Context, dryRun bool) (domain.PassReport, error) {
	c.calls.Add(1)
	c.dryRun = append(c.dryRun, dryRun)
	return domain.PassReport{ID: "r"}, nil
}

type cutoffArchiver struct {
	strategy string
	before   time.Time
	err      error
}

func (a *cutoffArchiver) ArchiveReport(context.Context, domain.PassReport) (string, error) {
	return "", nil
}

func (a *cutoffArchiver) ArchiveClosed(_ context.Context, strategyID string, before time.Time) (int64, error) {
	a.strategy, a.before = strategyID, before
	return 3, a.err
}

func (a *cutoffArchiver) LatestReport(context.Context, string) (domain.PassReport, error) {
	return domain.PassReport{}, domain.ErrNotFound
}

func TestArchiveJobCutoff(t *testing.T) {
	now := time.Date(2026, 3, 31, 4, 0, 0, 0, time.UTC)
	arch := &cutoffArchiver{}
	job := NewArchiveJob(arch, "s1", 30, discardLogger())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "s1", arch.strategy)
	assert.Equal(t, time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC), arch.before)

	arch.err = errors.New("bucket gone")
	assert.Error(t, job.Run(context.Background()))
}

func TestOrchestratorRejectsBadSchedule(t *testing.T) {
	_, err := NewOrchestrator(&countingRunner{}, nil, nil, OrchestratorConfig{PassSchedule: "not a schedule"}, discardLogger())
	assert.Error(t, err)

	arch := NewArchiveJob(&cutoffArchiver{}, "s1", 30, discardLogger())
	_, err = NewOrchestrator(&countingRunner{}, arch, nil, OrchestratorConfig{
		PassSchedule:    "@every 5m",
		ArchiveSchedule: "61 * * * *",
	}, discardLogger())
	assert.Error(t, err)
}

func TestRunPassHonoursPassLock(t *testing.T) {
	ctx := context.Background()
	runner := &countingRunner{}
	locks := memory.NewLockManager()
	o, err := NewOrchestrator(runner, nil, locks, OrchestratorConfig{PassSchedule: "@every 5m", DryRun: true}, discardLogger())
	require.NoError(t, err)

	o.RunPass(ctx)
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, []bool{true}, runner.dryRun)

	unlock, err := locks.Acquire(ctx, "pass:s1", time.Minute)
	require.NoError(t, err)
	o.RunPass(ctx)
	assert.Equal(t, int32(1), runner.calls.Load())
	unlock()

	o.RunPass(ctx)
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestOrchestratorRunOnStartAndStop(t *testing.T) {
	runner := &countingRunner{}
	o, err := NewOrchestrator(runner, nil, nil, OrchestratorConfig{PassSchedule: "@every 1h", RunOnStart: true}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
