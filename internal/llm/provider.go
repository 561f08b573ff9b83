// Package llm defines RestFlow's wire-adapter contract (spec §6) and
// concrete clients for Anthropic and OpenAI. Grounded on the teacher's
// internal/agent/provider_types.go interface shape and its
// internal/agent/providers package, generalized to spec's exact
// capability contract: complete / complete_stream / model /
// supports_streaming.
package llm

import (
	"context"
	"encoding/json"
)

// FinishReason classifies why a completion ended, per spec §4.1 step 7.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishError     FinishReason = "error"
)

// Message is the wire-level shape of a single conversation turn, kept
// separate from pkg/models.Message so provider adapters only depend on
// what they need to serialize.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is the wire-level shape of an LLM's tool invocation request.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec advertises one callable tool to the LLM.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionRequest is the provider-agnostic request shape.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature *float64
}

// Usage reports token and cost accounting for a single completion, used by
// the context manager's estimator calibration and by observability
// metrics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
}

// CompletionResponse is the non-streaming completion result.
type CompletionResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// StreamChunk is one increment of a streaming completion: either a text
// delta, a tool-call fragment keyed by ToolCallID (accumulated by the
// caller per spec §4.1 step 6), or a terminal chunk carrying FinishReason
// and Usage.
type StreamChunk struct {
	TextDelta      string
	ToolCallID     string
	ToolCallName   string
	ArgumentsDelta string
	Done           bool
	FinishReason   FinishReason
	Usage          Usage
	Err            error
}

// Provider is the capability contract spec §6 calls out: complete,
// complete_stream, model, supports_streaming. Every concrete LLM client
// (Anthropic, OpenAI, ...) implements this interface; the executor depends
// only on it, never on a specific vendor SDK.
type Provider interface {
	Name() string
	Model() string
	SupportsStreaming() bool
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// AccumulateToolCalls folds a stream of StreamChunks into completed
// ToolCalls, grouping argument fragments by ToolCallID in first-seen
// order, as spec §4.1 step 6 requires for streaming tool-call dispatch.
func AccumulateToolCalls(chunks []StreamChunk) []ToolCall {
	order := make([]string, 0)
	byID := make(map[string]*ToolCall)
	argsByID := make(map[string]*[]byte)

	for _, c := range chunks {
		if c.ToolCallID == "" {
			continue
		}
		if _, ok := byID[c.ToolCallID]; !ok {
			byID[c.ToolCallID] = &ToolCall{ID: c.ToolCallID, Name: c.ToolCallName}
			buf := make([]byte, 0)
			argsByID[c.ToolCallID] = &buf
			order = append(order, c.ToolCallID)
		}
		if c.ToolCallName != "" {
			byID[c.ToolCallID].Name = c.ToolCallName
		}
		*argsByID[c.ToolCallID] = append(*argsByID[c.ToolCallID], []byte(c.ArgumentsDelta)...)
	}

	out := make([]ToolCall, 0, len(order))
	for _, id := range order {
		tc := byID[id]
		tc.Arguments = json.RawMessage(*argsByID[id])
		out = append(out, *tc)
	}
	return out
}
