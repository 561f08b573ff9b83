package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restflow/restflow/pkg/models"
)

func TestScheduler_RespectsConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const total = 5
	const maxConcurrent = 2

	for i := 0; i < total; i++ {
		id := string(rune('a' + i))
		require.NoError(t, store.CreateTask(ctx, models.AgentTask{
			ID: id, Status: models.AgentTaskActive, Schedule: "@once",
		}))
	}

	var (
		mu           sync.Mutex
		maxInFlight  int
		curInFlight  int
		completed    int32
		observedRuns []string
	)
	executor := &CallbackExecutor{Fn: func(ctx context.Context, task models.AgentTask) (string, error) {
		mu.Lock()
		curInFlight++
		if curInFlight > maxInFlight {
			maxInFlight = curInFlight
		}
		observedRuns = append(observedRuns, task.ID)
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		curInFlight--
		mu.Unlock()
		atomic.AddInt32(&completed, 1)
		return "ok", nil
	}}

	sched := NewScheduler(store, executor, nil, SchedulerConfig{
		PollInterval:       5 * time.Millisecond,
		MaxConcurrentTasks: maxConcurrent,
		TaskTimeout:        time.Second,
	})
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&completed) == total
	}, 3*time.Second, 5*time.Millisecond)

	sched.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, maxInFlight, maxConcurrent, "running set must never exceed max_concurrent_tasks")
	require.Len(t, observedRuns, total, "every task must complete exactly once")

	seen := make(map[string]int)
	for _, id := range observedRuns {
		seen[id]++
	}
	for id, n := range seen {
		require.Equal(t, 1, n, "task %s ran more than once", id)
	}
}

func TestScheduler_OneShotScheduleCompletesTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{ID: "once", Status: models.AgentTaskActive, Schedule: "@once"}))

	executor := &NoOpExecutor{Response: "done"}
	sched := NewScheduler(store, executor, nil, SchedulerConfig{PollInterval: 5 * time.Millisecond, MaxConcurrentTasks: 1, TaskTimeout: time.Second})
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		task, err := store.GetTask(ctx, "once")
		return err == nil && task.Status == models.AgentTaskCompleted
	}, time.Second, 5*time.Millisecond)

	sched.Stop()
}

func TestScheduler_TaskTimeoutRecordsTimedOutExecution(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{ID: "slow", Status: models.AgentTaskActive, Schedule: "@once"}))

	executor := &NoOpExecutor{Delay: time.Second}
	sched := NewScheduler(store, executor, nil, SchedulerConfig{PollInterval: 5 * time.Millisecond, MaxConcurrentTasks: 1, TaskTimeout: 20 * time.Millisecond})
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		task, err := store.GetTask(ctx, "slow")
		return err == nil && task.FailureCount == 1
	}, time.Second, 5*time.Millisecond)

	sched.Stop()

	execs, err := store.ListExecutions(ctx, "slow")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, ExecutionStatusTimedOut, execs[0].Status)
}

func TestScheduler_RunTaskNow_RefusesPausedTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{ID: "paused", Status: models.AgentTaskPaused}))

	sched := NewScheduler(store, &NoOpExecutor{}, nil, DefaultSchedulerConfig())
	err := sched.RunTaskNow(ctx, "paused")
	require.ErrorIs(t, err, ErrTaskNotRunnable)
}

func TestScheduler_RunTaskNow_HonorsConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{ID: "busy", Status: models.AgentTaskActive}))
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{ID: "overflow", Status: models.AgentTaskActive}))

	release := make(chan struct{})
	executor := &CallbackExecutor{Fn: func(ctx context.Context, task models.AgentTask) (string, error) {
		<-release
		return "ok", nil
	}}
	sched := NewScheduler(store, executor, nil, SchedulerConfig{MaxConcurrentTasks: 1, TaskTimeout: time.Second, PollInterval: time.Hour})

	require.NoError(t, sched.RunTaskNow(ctx, "busy"))
	require.Eventually(t, func() bool {
		task, err := store.GetTask(ctx, "busy")
		return err == nil && task.Status == models.AgentTaskRunning
	}, time.Second, 5*time.Millisecond)

	err := sched.RunTaskNow(ctx, "overflow")
	require.ErrorIs(t, err, ErrAtCapacity)

	close(release)
	sched.Stop()
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *recordingNotifier) Notify(ctx context.Context, task models.AgentTask, exec Execution, success bool) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return nil
}

func TestScheduler_NotifiesOnlyWhenTelegramEnabled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{
		ID: "silent", Status: models.AgentTaskActive, Schedule: "@once",
		Notification: models.NotificationConfig{TelegramEnabled: false},
	}))

	notifier := &recordingNotifier{}
	sched := NewScheduler(store, &NoOpExecutor{Response: "ok"}, notifier, SchedulerConfig{PollInterval: 5 * time.Millisecond, MaxConcurrentTasks: 1, TaskTimeout: time.Second})
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		task, err := store.GetTask(ctx, "silent")
		return err == nil && task.Status == models.AgentTaskCompleted
	}, time.Second, 5*time.Millisecond)
	sched.Stop()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Equal(t, 0, notifier.calls, "telegram_enabled=false must suppress notification")
}

func TestScheduler_NotifiesOnSuccessWhenNotifyOnFailureOnlyIsFalse(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{
		ID: "loud", Status: models.AgentTaskActive, Schedule: "@once",
		Notification: models.NotificationConfig{TelegramEnabled: true, NotifyOnFailureOnly: false},
	}))

	notifier := &recordingNotifier{}
	sched := NewScheduler(store, &NoOpExecutor{Response: "ok"}, notifier, SchedulerConfig{PollInterval: 5 * time.Millisecond, MaxConcurrentTasks: 1, TaskTimeout: time.Second})
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		task, err := store.GetTask(ctx, "loud")
		return err == nil && task.Status == models.AgentTaskCompleted
	}, time.Second, 5*time.Millisecond)
	sched.Stop()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Equal(t, 1, notifier.calls)
}

func TestScheduler_SuppressesSuccessNotificationWhenNotifyOnFailureOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateTask(ctx, models.AgentTask{
		ID: "failure-only", Status: models.AgentTaskActive, Schedule: "@once",
		Notification: models.NotificationConfig{TelegramEnabled: true, NotifyOnFailureOnly: true},
	}))

	notifier := &recordingNotifier{}
	sched := NewScheduler(store, &NoOpExecutor{Response: "ok"}, notifier, SchedulerConfig{PollInterval: 5 * time.Millisecond, MaxConcurrentTasks: 1, TaskTimeout: time.Second})
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		task, err := store.GetTask(ctx, "failure-only")
		return err == nil && task.Status == models.AgentTaskCompleted
	}, time.Second, 5*time.Millisecond)
	sched.Stop()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Equal(t, 0, notifier.calls, "a success must not notify when notify_on_failure_only is set")
}
