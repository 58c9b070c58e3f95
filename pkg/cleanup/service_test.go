package cleanup

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/session"
	"github.com/switchyard-ai/switchyard/pkg/workflow"
)

func newTestService(t *testing.T) (*Service, *workflow.Store, *session.Store) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	dir := t.TempDir()

	executions, err := workflow.NewStore(filepath.Join(dir, "executions"), false, logger)
	require.NoError(t, err)

	sessions, err := session.Open(context.Background(), filepath.Join(dir, "sessions.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	cfg := config.DefaultRetentionConfig()
	cfg.SweepInterval = 20 * time.Millisecond

	svc := NewService(cfg, executions, sessions, logger)
	require.NotNil(t, svc)
	return svc, executions, sessions
}

func saveExecution(t *testing.T, store *workflow.Store, id string, status workflow.Status, endedAgo time.Duration) {
	t.Helper()
	e := &workflow.Execution{
		ID:         id,
		WorkflowID: "review",
		Status:     status,
		StartedAt:  time.Now().Add(-endedAgo - time.Minute),
	}
	if status.Terminal() {
		ended := time.Now().Add(-endedAgo)
		e.EndedAt = &ended
	}
	require.NoError(t, store.Save(e))
}

func TestSweepPrunesOldExecutions(t *testing.T) {
	svc, executions, _ := newTestService(t)

	saveExecution(t, executions, "old-done", workflow.StatusCompleted, 8*24*time.Hour)
	saveExecution(t, executions, "old-failed", workflow.StatusFailed, 8*24*time.Hour)
	saveExecution(t, executions, "fresh-done", workflow.StatusCompleted, time.Hour)
	saveExecution(t, executions, "old-running", workflow.StatusRunning, 8*24*time.Hour)
	executions.AppendLog("old-done", workflow.LogEntry{Level: "info", Message: "review started"})

	svc.sweep(context.Background())

	_, err := executions.Load("old-done")
	assert.ErrorIs(t, err, workflow.ErrExecutionNotFound)
	_, err = executions.Load("old-failed")
	assert.ErrorIs(t, err, workflow.ErrExecutionNotFound)
	_, err = executions.ReadLog("old-done", 0)
	assert.ErrorIs(t, err, workflow.ErrExecutionNotFound)

	_, err = executions.Load("fresh-done")
	assert.NoError(t, err, "recent executions survive the sweep")
	_, err = executions.Load("old-running")
	assert.NoError(t, err, "running executions are never pruned")
}

func TestSweepPrunesOldSessionTurns(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()

	require.NoError(t, sessions.Append(ctx, session.Turn{
		SessionKey: "s1",
		Role:       session.RoleUser,
		Content:    "ancient question",
		CreatedAt:  time.Now().Add(-31 * 24 * time.Hour),
	}))
	require.NoError(t, sessions.Append(ctx, session.Turn{
		SessionKey: "s1",
		Role:       session.RoleUser,
		Content:    "recent question",
	}))

	svc.sweep(ctx)

	turns, err := sessions.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "recent question", turns[0].Content)
}

func TestSweepIsIdempotent(t *testing.T) {
	svc, executions, _ := newTestService(t)

	saveExecution(t, executions, "old-done", workflow.StatusCompleted, 8*24*time.Hour)

	svc.sweep(context.Background())
	svc.sweep(context.Background())

	_, err := executions.Load("old-done")
	assert.ErrorIs(t, err, workflow.ErrExecutionNotFound)
}

func TestStartSweepsOnInterval(t *testing.T) {
	svc, executions, _ := newTestService(t)

	saveExecution(t, executions, "old-done", workflow.StatusCompleted, 8*24*time.Hour)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		_, err := executions.Load("old-done")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "expected the sweep loop to prune the old execution")
}

func TestNewServiceDisabled(t *testing.T) {
	cfg := config.DefaultRetentionConfig()
	cfg.Enabled = config.BoolPtr(false)

	svc := NewService(cfg, nil, nil, slog.New(slog.DiscardHandler))
	assert.Nil(t, svc)

	// Nil services are safe to drive.
	svc.Start(context.Background())
	svc.Stop()
}
