package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/restflow/restflow/pkg/models"
)

// Tool is the contract every executable capability implements, matching
// spec §6's Tool contract: name/description/parameters_schema/execute plus
// the pending_approval/approval_id sentinel path. Grounded on the
// teacher's internal/agent/provider_types.go Tool interface, generalized
// from a single Content/IsError result to RestFlow's richer ToolOutput.
type Tool interface {
	Name() string
	Description() string
	ParametersSchema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (models.ToolOutput, error)
}

// Registry is a concurrency-safe name→Tool map with schema export, the Go
// substitute for the teacher's internal/agent/tool_registry.go (stripped of
// its policy/job-queue coupling, which has no analog in spec scope).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in an unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// Schemas exports every registered tool's name/description/schema triple,
// the shape an LLM wire adapter needs to advertise tool-calling support.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Schemas returns the exported schema for every registered tool.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Schema{Name: t.Name(), Description: t.Description(), Parameters: t.ParametersSchema()})
	}
	return out
}

// Invoke safely executes a named tool, recovering from panics and wrapping
// the result as a ToolError on any failure so callers never see a raw panic
// escape a tool boundary.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (out models.ToolOutput, err error) {
	t, ok := r.Get(name)
	if !ok {
		return models.ToolOutput{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	defer func() {
		if p := recover(); p != nil {
			err = &ToolError{Type: ToolErrorOther, ToolName: name, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()

	out, err = t.Execute(ctx, args)
	if err != nil {
		cls := ClassifyToolError(err)
		err = &ToolError{Type: cls, ToolName: name, Cause: err}
	}
	return out, err
}
