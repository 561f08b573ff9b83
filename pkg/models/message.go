// Package models defines the core data types shared by RestFlow's
// executor, context manager, workflow engine, and memory store.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single conversation turn.
//
// Invariant: every tool-result message must reference a ToolCallID produced
// by a preceding assistant message in the same history, and every assistant
// tool-call id must be matched by exactly one tool-result id before the
// next assistant turn is sent to the LLM (see executor.SanitizeToolCallHistory).
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// ToolCall is an LLM's request to invoke a named tool.
//
// Ids must be unique within a single assistant turn; reuse across turns is
// permitted.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ErrorCategory classifies a failed tool invocation for retry/propagation
// decisions (spec §7 Error Handling Design).
type ErrorCategory string

const (
	ErrorCategoryAuth    ErrorCategory = "auth"
	ErrorCategoryConfig  ErrorCategory = "config"
	ErrorCategoryNetwork ErrorCategory = "network"
	ErrorCategoryOther   ErrorCategory = "other"
)

// ToolOutput is the result of a single tool execution.
type ToolOutput struct {
	Success       bool            `json:"success"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorCategory ErrorCategory   `json:"error_category,omitempty"`
	Retryable     bool            `json:"retryable,omitempty"`
	RetryAfterMs  int64           `json:"retry_after_ms,omitempty"`
}

// PendingApprovalResult is the shape a tool's ToolOutput.Result takes when
// the tool signals a deferred approval instead of completing synchronously.
type PendingApprovalResult struct {
	PendingApproval bool   `json:"pending_approval"`
	ApprovalID      string `json:"approval_id"`
}

// RunStatus is the terminal-or-running state of an AgentState.
type RunStatus string

const (
	RunStatusRunning          RunStatus = "running"
	RunStatusCompleted        RunStatus = "completed"
	RunStatusFailed           RunStatus = "failed"
	RunStatusMaxIterations    RunStatus = "max_iterations"
	RunStatusInterrupted      RunStatus = "interrupted"
	RunStatusResourceExhausted RunStatus = "resource_exhausted"
)

// AgentState is the execution-scoped record owned by a single executor run.
// It is mutated only by the owning loop and is persisted at checkpoint
// boundaries.
type AgentState struct {
	ExecutionID   string         `json:"execution_id"`
	Messages      []Message      `json:"messages"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"max_iterations"`
	Status        RunStatus      `json:"status"`
	Error         string         `json:"error,omitempty"`
	InterruptReason string       `json:"interrupt_reason,omitempty"`
	FinalAnswer   string         `json:"final_answer,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// IsTerminal reports whether the run has left the Running state.
func (s *AgentState) IsTerminal() bool {
	return s.Status != RunStatusRunning
}

// StuckDetectionConfig configures repeated-tool-call loop detection.
type StuckDetectionConfig struct {
	Enabled   bool   `json:"enabled"`
	Threshold int    `json:"threshold"` // repeat count that triggers the action
	Action    string `json:"action"`    // "nudge" or "stop"
}

// ResourceLimits bounds wall-clock time and spend for a single run.
type ResourceLimits struct {
	MaxWallTime time.Duration `json:"max_wall_time,omitempty"`
	MaxCostUSD  float64       `json:"max_cost_usd,omitempty"`
}

// AgentConfig carries the per-run knobs for a single executor invocation.
type AgentConfig struct {
	Goal                string                `json:"goal"`
	MaxIterations       int                   `json:"max_iterations"`
	MaxOutputTokens     int                   `json:"max_output_tokens,omitempty"`
	Temperature         *float64              `json:"temperature,omitempty"`
	ContextWindow       int                   `json:"context_window"`
	ToolTimeout         time.Duration         `json:"tool_timeout"`
	MaxToolResultLength int                   `json:"max_tool_result_length"`
	MaxToolConcurrency  int                   `json:"max_tool_concurrency"`
	YoloMode            bool                  `json:"yolo_mode"`
	StuckDetection      *StuckDetectionConfig `json:"stuck_detection,omitempty"`
	ResourceLimits      *ResourceLimits       `json:"resource_limits,omitempty"`
}
