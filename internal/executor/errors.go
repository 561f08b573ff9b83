// Package executor drives a single agent run through the ReAct loop
// described by spec §4.1: apply pending steer/approval inputs, gate on
// resources, manage context, call the LLM, fan tool calls out in parallel,
// fold results back, detect stuck loops, and checkpoint at iteration end.
package executor

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for executor operations, mirroring the teacher's
// internal/agent/errors.go idiom.
var (
	ErrMaxIterations    = errors.New("executor: max iterations exceeded")
	ErrToolNotFound     = errors.New("executor: tool not found")
	ErrToolTimeout      = errors.New("executor: tool execution timed out")
	ErrNoLLMProvider    = errors.New("executor: no LLM provider configured")
	ErrResourceExhausted = errors.New("executor: resource limit exceeded")
)

// ToolErrorType categorizes a failed tool invocation for retry decisions,
// mapping onto spec's error taxonomy (auth/config/network/other).
type ToolErrorType string

const (
	ToolErrorAuth    ToolErrorType = "auth"
	ToolErrorConfig  ToolErrorType = "config"
	ToolErrorNetwork ToolErrorType = "network"
	ToolErrorTimeout ToolErrorType = "timeout"
	ToolErrorOther   ToolErrorType = "other"
)

// IsRetryable reports whether this error type suggests a single retry may
// succeed. Auth and config errors are never retryable: spec §4.1 step 9
// requires that non-retryable categories get rewritten guidance instead of
// a retry.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorNetwork, ToolErrorTimeout:
		return true
	default:
		return false
	}
}

// NonRetryableGuidance returns the prefix spec §4.1 step 9 requires be
// prepended to a non-retryable tool error so the model is steered toward a
// different approach instead of repeating the same failing call.
func NonRetryableGuidance(t ToolErrorType) string {
	switch t {
	case ToolErrorAuth:
		return "This action failed due to an authentication/authorization problem that a retry will not fix. Consider a different tool or ask the user for credentials. "
	case ToolErrorConfig:
		return "This action failed due to a configuration problem that a retry will not fix. Consider a different approach. "
	default:
		return ""
	}
}

// ToolError is a structured, classified error from a single tool
// invocation.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Attempts   int
}

func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() error { return e.Cause }

// ClassifyToolError infers a ToolErrorType from an error's content, the
// same heuristic approach as the teacher's classifyToolError.
func ClassifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorOther
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "authentication"):
		return ToolErrorAuth
	case strings.Contains(msg, "config") || strings.Contains(msg, "invalid parameter") || strings.Contains(msg, "not configured"):
		return ToolErrorConfig
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "dns"):
		return ToolErrorNetwork
	default:
		return ToolErrorOther
	}
}
