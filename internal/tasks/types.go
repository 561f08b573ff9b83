// Package tasks implements the Task Scheduler: a single-process poller
// that dispatches AgentTask executions with bounded concurrency, an
// in-memory running set to prevent double-dispatch, and outcome
// notifications. Grounded on the teacher's internal/tasks cron-driven
// scheduler (robfig/cron/v3 for schedule parsing, the poll-tick/dispatch
// idiom) but rebuilt around RestFlow's AgentTask model and a single
// in-process running set instead of the teacher's SELECT-FOR-UPDATE
// distributed-locking design, since this runtime never spans more than
// one process.
package tasks

import "time"

// ExecutionStatus is the lifecycle state of a single Execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Execution is a single run of an AgentTask.
type Execution struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	Status      ExecutionStatus `json:"status"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Duration    time.Duration   `json:"duration,omitempty"`
}

// IsTerminal reports whether status is a terminal state.
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusSucceeded, ExecutionStatusFailed, ExecutionStatusTimedOut, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}
