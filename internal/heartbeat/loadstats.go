package heartbeat

import (
	"context"
	"log/slog"
)

// taskScheduler is the subset of internal/tasks.Scheduler a SchedulerStats
// adapter needs. Declared locally instead of importing internal/tasks
// directly so this package stays free of a dependency edge back into the
// scheduler's package; callers pass their real *tasks.Scheduler, which
// already satisfies this interface.
type taskScheduler interface {
	ActiveCount() int
	PendingCount(ctx context.Context) (int, error)
}

// SchedulerStats adapts a *tasks.Scheduler into LoadStats, so a Pulse
// carries the scheduler's real in-flight and due-but-undispatched task
// counts instead of the zero-value staticLoadStats fallback.
type SchedulerStats struct {
	scheduler taskScheduler
	ctx       context.Context
	logger    *slog.Logger
}

// NewSchedulerStats builds a SchedulerStats over scheduler. ctx bounds the
// PendingCount store query issued on every tick; it should normally be the
// same long-lived context the scheduler itself runs under.
func NewSchedulerStats(ctx context.Context, scheduler taskScheduler, logger *slog.Logger) *SchedulerStats {
	if logger == nil {
		logger = slog.Default().With("component", "heartbeat-stats")
	}
	return &SchedulerStats{scheduler: scheduler, ctx: ctx, logger: logger}
}

// ActiveTasks reports the scheduler's current running-set size.
func (s *SchedulerStats) ActiveTasks() int {
	return s.scheduler.ActiveCount()
}

// PendingTasks reports tasks due now but not yet dispatched. A store query
// failure is logged and reported as zero rather than propagated, since a
// Pulse must never block or fail on a transient load-stat read.
func (s *SchedulerStats) PendingTasks() int {
	n, err := s.scheduler.PendingCount(s.ctx)
	if err != nil {
		s.logger.Warn("heartbeat: failed to read pending task count", "error", err)
		return 0
	}
	return n
}
