package models

// WorkflowStatus is the lifecycle state of an AgentWorkflow.
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusRunning    WorkflowStatus = "running"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusPhaseFailed WorkflowStatus = "phase_failed"
)

// WorkflowRetryConfig governs per-phase retry/backoff/timeout policy.
type WorkflowRetryConfig struct {
	MaxAttempts        int      `json:"max_attempts"` // >= 1
	InitialBackoffMs   int64    `json:"initial_backoff_ms"`
	MaxBackoffMs       int64    `json:"max_backoff_ms"`
	BackoffMultiplier  float64  `json:"backoff_multiplier"`
	NonRetryableErrors []string `json:"non_retryable_errors,omitempty"`
}

// DefaultWorkflowRetryConfig mirrors the teacher's config-with-defaults idiom.
func DefaultWorkflowRetryConfig() WorkflowRetryConfig {
	return WorkflowRetryConfig{
		MaxAttempts:       1,
		InitialBackoffMs:  500,
		MaxBackoffMs:      30000,
		BackoffMultiplier: 2.0,
	}
}

// WorkflowPhase is a single named step in an AgentWorkflow.
//
// Invariant: every index in DependsOn must be strictly less than this
// phase's own index within Phases.
type WorkflowPhase struct {
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	SkillID       string              `json:"skill_id,omitempty"`
	InputTemplate string              `json:"input_template,omitempty"`
	RetryConfig   WorkflowRetryConfig `json:"retry_config"`
	DependsOn     []int               `json:"depends_on,omitempty"`
	TimeoutSecs   *int64              `json:"timeout_secs,omitempty"`
}

// PhaseFailure describes the phase index and error that halted a workflow.
type PhaseFailure struct {
	PhaseIdx int    `json:"phase_idx"`
	Error    string `json:"error"`
}

// AgentWorkflow is a durable multi-phase execution plan bound to a task.
type AgentWorkflow struct {
	ID           string           `json:"id"`
	TaskID       string           `json:"task_id"`
	Phases       []WorkflowPhase  `json:"phases"`
	CurrentPhase int              `json:"current_phase"`
	PhaseOutputs map[int]string   `json:"phase_outputs"`
	Status       WorkflowStatus   `json:"status"`
	Failure      *PhaseFailure    `json:"failure,omitempty"`
}

// WorkflowCheckpoint is the on-disk resume record for a single phase attempt.
type WorkflowCheckpoint struct {
	WorkflowID   string         `json:"workflow_id"`
	PhaseIdx     int            `json:"phase_idx"`
	Attempt      int            `json:"attempt"`
	State        map[string]any `json:"state,omitempty"`
	PhaseOutputs map[int]string `json:"phase_outputs"`
	CreatedAtMs  int64          `json:"created_at_ms"`
	Status       string         `json:"status,omitempty"` // "ok" | "failed"
	Error        string         `json:"error,omitempty"`
}
