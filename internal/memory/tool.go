package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/restflow/restflow/pkg/models"
)

// SearchTool exposes Store.Search as an executor.Tool (structurally, via
// duck typing — this package intentionally does not import internal/executor
// to avoid a dependency edge back from a storage package to the control
// loop). Grounded on spec §4.2's memory_search operation and on the
// teacher's pattern of wrapping a store method as a single-purpose tool.
type SearchTool struct {
	store   *Store
	agentID string
}

// NewSearchTool builds a SearchTool scoped to agentID, the agent whose
// memory chunks it is allowed to search.
func NewSearchTool(store *Store, agentID string) *SearchTool {
	return &SearchTool{store: store, agentID: agentID}
}

func (t *SearchTool) Name() string { return "memory_search" }

func (t *SearchTool) Description() string {
	return "Search this agent's stored memory chunks by keyword, phrase, or regex."
}

func (t *SearchTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search text"},
			"mode": {"type": "string", "enum": ["keyword", "phrase", "regex"], "default": "keyword"},
			"limit": {"type": "integer", "default": 10}
		},
		"required": ["query"]
	}`)
}

type searchToolArgs struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
	Limit int    `json:"limit"`
}

// Execute runs the search and serializes the matched chunks' content and
// ids as the tool result.
func (t *SearchTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
	var a searchToolArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return models.ToolOutput{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	if a.Limit <= 0 {
		a.Limit = 10
	}
	mode := models.SearchMode(a.Mode)
	if mode == "" {
		mode = models.SearchModeKeyword
	}

	result, err := t.store.Search(models.MemorySearchQuery{
		AgentID: t.agentID,
		Query:   a.Query,
		Mode:    mode,
		Limit:   a.Limit,
	})
	if err != nil {
		return models.ToolOutput{Success: false, Error: err.Error(), Retryable: true}, nil
	}

	payload, err := json.Marshal(result.Chunks)
	if err != nil {
		return models.ToolOutput{Success: false, Error: err.Error()}, nil
	}
	return models.ToolOutput{Success: true, Result: payload}, nil
}
