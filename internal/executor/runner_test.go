package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restflow/restflow/internal/llm"
	"github.com/restflow/restflow/pkg/models"
)

// scriptedProvider returns one CompletionResponse per call, in order, and
// never streams.
type scriptedProvider struct {
	model     string
	responses []llm.CompletionResponse
	calls     int
}

func (p *scriptedProvider) Name() string             { return "scripted" }
func (p *scriptedProvider) Model() string             { return p.model }
func (p *scriptedProvider) SupportsStreaming() bool   { return false }
func (p *scriptedProvider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	panic("not supported")
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if p.calls >= len(p.responses) {
		return llm.CompletionResponse{FinishReason: llm.FinishStop, Content: "done"}, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

// echoTool always succeeds, echoing its arguments back as the result.
type echoTool struct{ name string }

func (t echoTool) Name() string                      { return t.name }
func (t echoTool) Description() string                { return "echoes its arguments" }
func (t echoTool) ParametersSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (t echoTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
	return models.ToolOutput{Success: true, Result: args}, nil
}

func newTestRunner(t *testing.T, provider llm.Provider, registry *Registry) *Runner {
	t.Helper()
	return NewRunner(RunnerConfig{
		Provider: provider,
		Registry: registry,
		Now:      func() time.Time { return time.Unix(0, 0) },
	})
}

func TestRun_CompletesWithoutToolCalls(t *testing.T) {
	provider := &scriptedProvider{model: "test-model", responses: []llm.CompletionResponse{
		{Content: "the answer is 42", FinishReason: llm.FinishStop},
	}}
	r := newTestRunner(t, provider, NewRegistry())

	result := r.Run(context.Background(), nil, models.AgentConfig{Goal: "what is the answer", MaxIterations: 5, ContextWindow: 100000}, "you are a helpful agent")

	require.True(t, result.Success)
	require.Equal(t, models.RunStatusCompleted, result.State.Status)
	require.Equal(t, "the answer is 42", result.State.FinalAnswer)
	require.Equal(t, models.RoleSystem, result.State.Messages[0].Role)
}

func TestRun_ExecutesToolCallThenCompletes(t *testing.T) {
	toolArgs := json.RawMessage(`{"query":"weather"}`)
	provider := &scriptedProvider{model: "test-model", responses: []llm.CompletionResponse{
		{
			ToolCalls:    []llm.ToolCall{{ID: "call_1", Name: "search", Arguments: toolArgs}},
			FinishReason: llm.FinishToolCalls,
		},
		{Content: "it is sunny", FinishReason: llm.FinishStop},
	}}
	registry := NewRegistry()
	registry.Register(echoTool{name: "search"})
	r := newTestRunner(t, provider, registry)

	result := r.Run(context.Background(), nil, models.AgentConfig{Goal: "weather?", MaxIterations: 5, ContextWindow: 100000}, "sys")

	require.True(t, result.Success)
	require.Equal(t, "it is sunny", result.State.FinalAnswer)

	var sawToolResult bool
	for _, m := range result.State.Messages {
		if m.Role == models.RoleTool && m.ToolCallID == "call_1" {
			sawToolResult = true
			require.JSONEq(t, string(toolArgs), m.Content)
		}
	}
	require.True(t, sawToolResult, "expected a tool-result message for call_1")
}

func TestRun_MaxIterationsReachedWithoutCompletion(t *testing.T) {
	toolArgs := json.RawMessage(`{}`)
	resp := llm.CompletionResponse{
		ToolCalls:    []llm.ToolCall{{ID: "call_x", Name: "noop", Arguments: toolArgs}},
		FinishReason: llm.FinishToolCalls,
	}
	provider := &scriptedProvider{model: "test-model", responses: []llm.CompletionResponse{resp, resp, resp}}
	registry := NewRegistry()
	registry.Register(echoTool{name: "noop"})
	r := newTestRunner(t, provider, registry)

	result := r.Run(context.Background(), nil, models.AgentConfig{Goal: "loop forever", MaxIterations: 3, ContextWindow: 100000}, "sys")

	require.False(t, result.Success)
	require.Equal(t, models.RunStatusMaxIterations, result.State.Status)
	require.Equal(t, 3, result.State.Iteration)
}

func TestRun_StuckDetectionStopsRun(t *testing.T) {
	toolArgs := json.RawMessage(`{"a":1}`)
	resp := llm.CompletionResponse{
		ToolCalls:    []llm.ToolCall{{ID: "call_repeat", Name: "grep", Arguments: toolArgs}},
		FinishReason: llm.FinishToolCalls,
	}
	responses := make([]llm.CompletionResponse, 10)
	for i := range responses {
		responses[i] = resp
	}
	provider := &scriptedProvider{model: "test-model", responses: responses}
	registry := NewRegistry()
	registry.Register(echoTool{name: "grep"})
	r := newTestRunner(t, provider, registry)

	cfg := models.AgentConfig{
		Goal: "search repeatedly", MaxIterations: 10, ContextWindow: 100000,
		StuckDetection: &models.StuckDetectionConfig{Enabled: true, Threshold: 5, Action: "stop"},
	}
	result := r.Run(context.Background(), nil, cfg, "sys")

	require.False(t, result.Success)
	require.Equal(t, models.RunStatusFailed, result.State.Status)
	require.Contains(t, result.State.Error, "Agent stuck: repeated 'grep' 5 times")
}

func TestRun_InterruptStopsBeforeNextIteration(t *testing.T) {
	resp := llm.CompletionResponse{
		ToolCalls:    []llm.ToolCall{{ID: "call_1", Name: "noop", Arguments: json.RawMessage(`{}`)}},
		FinishReason: llm.FinishToolCalls,
	}
	provider := &scriptedProvider{model: "test-model", responses: []llm.CompletionResponse{resp, resp, resp}}
	registry := NewRegistry()
	registry.Register(echoTool{name: "noop"})
	r := newTestRunner(t, provider, registry)

	steer := NewSteerQueue()
	steer.Send(models.SteerMessage{Command: models.SteerCommand{Kind: models.SteerCommandInterrupt, Reason: "user asked to stop"}})

	result := r.Run(context.Background(), steer, models.AgentConfig{Goal: "go", MaxIterations: 10, ContextWindow: 100000}, "sys")

	require.Equal(t, models.RunStatusInterrupted, result.State.Status)
	require.Equal(t, "user asked to stop", result.State.InterruptReason)
	require.Equal(t, 0, result.State.Iteration)
}

func TestSanitizeToolCallHistory_RemovesOrphans(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "a", Name: "t1"}, {ID: "b", Name: "t2"}}},
		{Role: models.RoleTool, ToolCallID: "a", Content: "result a"},
		// "b" has no matching result: it is dropped.
		{Role: models.RoleTool, ToolCallID: "orphan", Content: "no matching call"},
	}

	out := SanitizeToolCallHistory(messages)

	require.Len(t, out, 3)
	require.Equal(t, models.RoleAssistant, out[1].Role)
	require.Len(t, out[1].ToolCalls, 1)
	require.Equal(t, "a", out[1].ToolCalls[0].ID)
	require.Equal(t, models.RoleTool, out[2].Role)
	require.Equal(t, "a", out[2].ToolCallID)
}
