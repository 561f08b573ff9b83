package tasks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restflow/restflow/internal/kv"
	"github.com/restflow/restflow/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := kv.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestCreateGetUpdateDeleteTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	task := models.AgentTask{ID: "task-1", Name: "nightly digest", AgentID: "agent-1", Schedule: "0 0 * * *", Status: models.AgentTaskActive}
	require.NoError(t, store.CreateTask(ctx, task))

	got, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, task.Name, got.Name)

	got.Status = models.AgentTaskPaused
	require.NoError(t, store.UpdateTask(ctx, got))

	got2, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, models.AgentTaskPaused, got2.Status)

	require.NoError(t, store.DeleteTask(ctx, "task-1"))
	_, err = store.GetTask(ctx, "task-1")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestListRunnableTasks_FiltersByStatusAndDueTime(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	require.NoError(t, store.CreateTask(ctx, models.AgentTask{ID: "due", Status: models.AgentTaskActive, NextRunAt: &past}))
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{ID: "not-due", Status: models.AgentTaskActive, NextRunAt: &future}))
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{ID: "paused", Status: models.AgentTaskPaused, NextRunAt: &past}))
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{ID: "no-next-run", Status: models.AgentTaskActive}))

	due, err := store.ListRunnableTasks(ctx, now)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, t := range due {
		ids[t.ID] = true
	}
	require.True(t, ids["due"])
	require.True(t, ids["no-next-run"])
	require.False(t, ids["not-due"])
	require.False(t, ids["paused"])
}

func TestExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	exec := Execution{ID: "exec-1", TaskID: "task-1", Status: ExecutionStatusRunning, ScheduledAt: time.Now()}
	require.NoError(t, store.CreateExecution(ctx, exec))

	exec.Status = ExecutionStatusSucceeded
	exec.Output = "done"
	require.NoError(t, store.UpdateExecution(ctx, exec))

	got, err := store.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusSucceeded, got.Status)
	require.Equal(t, "done", got.Output)

	_, err = store.GetExecution(ctx, "missing")
	require.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestListExecutions_ScopesToTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateExecution(ctx, Execution{ID: "e1", TaskID: "task-a", Status: ExecutionStatusSucceeded, ScheduledAt: time.Now()}))
	require.NoError(t, store.CreateExecution(ctx, Execution{ID: "e2", TaskID: "task-a", Status: ExecutionStatusFailed, ScheduledAt: time.Now()}))
	require.NoError(t, store.CreateExecution(ctx, Execution{ID: "e3", TaskID: "task-b", Status: ExecutionStatusSucceeded, ScheduledAt: time.Now()}))

	execs, err := store.ListExecutions(ctx, "task-a")
	require.NoError(t, err)
	require.Len(t, execs, 2)

	execsB, err := store.ListExecutions(ctx, "task-b")
	require.NoError(t, err)
	require.Len(t, execsB, 1)
}
