package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/restflow/restflow/pkg/models"
)

// cronParser supports both standard (5-field) and extended (6-field with
// seconds) cron expressions, matching the teacher's scheduling layer.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ErrTaskNotRunnable is returned by RunTaskNow when the task is paused,
// completed, or failed.
var ErrTaskNotRunnable = errors.New("tasks: task is not in a runnable state")

// ErrAtCapacity is returned by RunTaskNow when max_concurrent_tasks is
// already saturated.
var ErrAtCapacity = errors.New("tasks: scheduler is at max concurrency")

// Notifier announces a task execution's outcome to an external channel
// (Telegram, etc). Those transports are out of this component's scope; the
// scheduler only decides whether and when to call Notifier.
type Notifier interface {
	Notify(ctx context.Context, task models.AgentTask, exec Execution, success bool) error
}

// NoopNotifier discards every notification.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, models.AgentTask, Execution, bool) error { return nil }

// SchedulerConfig configures polling cadence and dispatch limits.
type SchedulerConfig struct {
	// PollInterval is how often the scheduler checks for due tasks.
	PollInterval time.Duration
	// MaxConcurrentTasks bounds the number of simultaneously running task
	// executions.
	MaxConcurrentTasks int
	// TaskTimeout bounds a single execution's wall-clock duration.
	TaskTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

// DefaultSchedulerConfig mirrors the teacher's config-with-defaults idiom.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:       10 * time.Second,
		MaxConcurrentTasks: 5,
		TaskTimeout:        5 * time.Minute,
	}
}

// Scheduler is the Task Scheduler: a single poll loop that loads runnable
// tasks, dispatches up to the concurrency cap, and records outcomes. The
// running set (taskID -> struct{}) is marked *before* a dispatch goroutine
// is spawned, so a second poll tick firing mid-dispatch can never double
// schedule the same task — this is the one invariant the whole design
// exists to guarantee.
type Scheduler struct {
	store    *Store
	executor Executor
	notifier Notifier
	cfg      SchedulerConfig
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup

	checkNowCh chan struct{}
	stopCh     chan struct{}
	stoppedCh  chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewScheduler builds a Scheduler. notifier may be nil (defaults to
// NoopNotifier).
func NewScheduler(store *Store, exec Executor, notifier Notifier, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "task-scheduler")
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Scheduler{
		store:      store,
		executor:   exec,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		running:    make(map[string]struct{}),
		checkNowCh: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// Start launches the poll loop in a background goroutine. Safe to call
// once; subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx)
	})
}

// Stop requests a graceful exit: the poll loop stops scheduling new work
// and this call blocks until every in-flight dispatch has finished.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.stoppedCh
	s.wg.Wait()
}

// CheckNow requests an immediate poll without waiting for the next tick.
func (s *Scheduler) CheckNow() {
	select {
	case s.checkNowCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		case <-s.checkNowCh:
			s.poll(ctx)
		}
	}
}

// poll implements the scheduler's core step: load runnable tasks, compute
// available slots, and dispatch up to that many, marking each task id in
// the running set before its dispatch goroutine starts.
func (s *Scheduler) poll(ctx context.Context) {
	now := s.cfg.Now()
	due, err := s.store.ListRunnableTasks(ctx, now)
	if err != nil {
		s.logger.Error("tasks: failed to list runnable tasks", "error", err)
		return
	}

	s.mu.Lock()
	slots := s.cfg.MaxConcurrentTasks - len(s.running)
	var toRun []models.AgentTask
	for _, t := range due {
		if slots <= 0 {
			break
		}
		if _, busy := s.running[t.ID]; busy {
			continue
		}
		s.running[t.ID] = struct{}{}
		toRun = append(toRun, t)
		slots--
	}
	s.mu.Unlock()

	for _, t := range toRun {
		s.dispatch(ctx, t)
	}
}

// ActiveCount returns the number of task executions currently in flight,
// i.e. the size of the running set. Exposed for the Heartbeat component's
// LoadStats adapter.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// PendingCount returns the number of Active tasks that are due now but not
// currently dispatched, i.e. the work a poll tick would pick up next.
// Exposed for the Heartbeat component's LoadStats adapter.
func (s *Scheduler) PendingCount(ctx context.Context) (int, error) {
	due, err := s.store.ListRunnableTasks(ctx, s.cfg.Now())
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := 0
	for _, t := range due {
		if _, busy := s.running[t.ID]; !busy {
			pending++
		}
	}
	return pending, nil
}

// RunTaskNow bypasses the schedule check for a single task, still honoring
// the concurrency cap and refusing paused/completed/failed tasks.
func (s *Scheduler) RunTaskNow(ctx context.Context, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.AgentTaskActive && task.Status != models.AgentTaskRunning {
		return fmt.Errorf("%w: status=%s", ErrTaskNotRunnable, task.Status)
	}

	s.mu.Lock()
	if _, busy := s.running[task.ID]; busy {
		s.mu.Unlock()
		return fmt.Errorf("tasks: %q is already running", task.ID)
	}
	if len(s.running) >= s.cfg.MaxConcurrentTasks {
		s.mu.Unlock()
		return ErrAtCapacity
	}
	s.running[task.ID] = struct{}{}
	s.mu.Unlock()

	s.dispatch(ctx, task)
	return nil
}

// dispatch spawns the execution goroutine for a task already marked in the
// running set, and guarantees it is removed from that set when the
// execution finishes by any path.
func (s *Scheduler) dispatch(parent context.Context, task models.AgentTask) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, task.ID)
			s.mu.Unlock()
		}()
		s.execute(parent, task)
	}()
}

// execute transitions storage status to Running, races the executor
// against TaskTimeout, records the outcome, advances next_run_at, and
// fires a notification when the task's NotificationConfig calls for it.
func (s *Scheduler) execute(parent context.Context, task models.AgentTask) {
	now := s.cfg.Now()
	exec := Execution{ID: uuid.NewString(), TaskID: task.ID, Status: ExecutionStatusRunning, ScheduledAt: now, StartedAt: &now}
	if err := s.store.CreateExecution(context.Background(), exec); err != nil {
		s.logger.Error("tasks: failed to record execution start", "task_id", task.ID, "error", err)
		return
	}

	task.Status = models.AgentTaskRunning
	if err := s.store.UpdateTask(context.Background(), task); err != nil {
		s.logger.Error("tasks: failed to mark task running", "task_id", task.ID, "error", err)
	}

	ctx, cancel := context.WithTimeout(parent, s.cfg.TaskTimeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		output, err := s.executor.Execute(ctx, task)
		resultCh <- outcome{output: output, err: err}
	}()

	var out outcome
	select {
	case out = <-resultCh:
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}

	finished := s.cfg.Now()
	exec.FinishedAt = &finished
	exec.Duration = finished.Sub(now)
	exec.Output = out.output

	switch {
	case errors.Is(out.err, context.DeadlineExceeded):
		exec.Status = ExecutionStatusTimedOut
		exec.Error = "execution exceeded task timeout"
	case out.err != nil:
		exec.Status = ExecutionStatusFailed
		exec.Error = out.err.Error()
	default:
		exec.Status = ExecutionStatusSucceeded
	}
	success := exec.Status == ExecutionStatusSucceeded

	if err := s.store.UpdateExecution(context.Background(), exec); err != nil {
		s.logger.Error("tasks: failed to record execution outcome", "execution_id", exec.ID, "error", err)
	}

	if success {
		task.SuccessCount++
		task.LastError = ""
	} else {
		task.FailureCount++
		task.LastError = exec.Error
	}

	s.advanceSchedule(&task, finished)
	if err := s.store.UpdateTask(context.Background(), task); err != nil {
		s.logger.Error("tasks: failed to update task after execution", "task_id", task.ID, "error", err)
	}

	if task.Notification.TelegramEnabled && (success || !task.Notification.NotifyOnFailureOnly) {
		if err := s.notifier.Notify(context.Background(), task, exec, success); err != nil {
			s.logger.Warn("tasks: notification failed", "task_id", task.ID, "execution_id", exec.ID, "error", err)
		}
	}
}

// advanceSchedule computes the task's next run, or disables it when the
// schedule is exhausted (a one-shot trigger) or invalid.
func (s *Scheduler) advanceSchedule(task *models.AgentTask, after time.Time) {
	if strings.HasPrefix(task.Schedule, "@at ") || strings.HasPrefix(task.Schedule, "@once") {
		task.Status = models.AgentTaskCompleted
		task.NextRunAt = nil
		return
	}

	sched, err := cronParser.Parse(task.Schedule)
	if err != nil {
		s.logger.Error("tasks: invalid schedule, disabling task", "task_id", task.ID, "schedule", task.Schedule, "error", err)
		task.Status = models.AgentTaskFailed
		task.LastError = fmt.Sprintf("invalid schedule: %v", err)
		return
	}

	next := sched.Next(after)
	task.NextRunAt = &next
	task.Status = models.AgentTaskActive
}
