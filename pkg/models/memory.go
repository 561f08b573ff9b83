package models

import "time"

// MemorySourceType tags where a MemoryChunk's content originated.
type MemorySourceType string

const (
	MemorySourceTaskExecution   MemorySourceType = "task_execution"
	MemorySourceConversation    MemorySourceType = "conversation"
	MemorySourceManualNote      MemorySourceType = "manual_note"
	MemorySourceAgentGenerated  MemorySourceType = "agent_generated"
)

// MemorySource describes provenance for a MemoryChunk. Exactly one of the
// type-specific fields is populated, matching the tagged-union shape in
// spec.md's data model.
type MemorySource struct {
	Type     MemorySourceType `json:"type"`
	TaskID   string           `json:"task_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	ToolName string           `json:"tool_name,omitempty"`
}

// MemoryChunk is a single unit of stored agent memory.
//
// Invariant: ContentHash is the deterministic SHA-256 hex digest of Content.
// Two chunks with the same hash are duplicates; MemoryStore.PutChunkIfNotExists
// returns the existing id rather than creating a second chunk.
type MemoryChunk struct {
	ID             string       `json:"id"`
	AgentID        string       `json:"agent_id"`
	SessionID      string       `json:"session_id,omitempty"`
	Content        string       `json:"content"`
	ContentHash    string       `json:"content_hash"`
	Source         MemorySource `json:"source"`
	CreatedAtMs    int64        `json:"created_at_ms"`
	Tags           []string     `json:"tags,omitempty"`
	TokenCount     *int         `json:"token_count,omitempty"`
	Embedding      []float32    `json:"embedding,omitempty"`
	EmbeddingModel string       `json:"embedding_model,omitempty"`
	EmbeddingDim   int          `json:"embedding_dim,omitempty"`
}

// MemorySession groups related chunks under a named, tagged container.
type MemorySession struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ChunkCount  int       `json:"chunk_count"`
	TotalTokens int       `json:"total_tokens"`
	CreatedAtMs int64     `json:"created_at_ms"`
	UpdatedAtMs int64     `json:"updated_at_ms"`
	Tags        []string  `json:"tags,omitempty"`
}

// SearchMode selects how MemorySearchQuery.Query is interpreted.
type SearchMode string

const (
	SearchModeKeyword SearchMode = "keyword"
	SearchModePhrase  SearchMode = "phrase"
	SearchModeRegex   SearchMode = "regex"
)

// MemorySearchQuery is the parameter shape for MemoryStore.Search.
type MemorySearchQuery struct {
	AgentID    string
	Query      string
	Mode       SearchMode
	SessionID  string
	Tags       []string
	SourceType MemorySourceType
	FromTimeMs *int64
	ToTimeMs   *int64
	Limit      int
	Offset     int
}

// MemorySearchResult is the return shape for MemoryStore.Search.
type MemorySearchResult struct {
	Chunks     []MemoryChunk
	TotalCount int
	HasMore    bool
}

// SemanticMatch is a single hit from MemoryStore.SemanticSearch.
type SemanticMatch struct {
	Chunk      MemoryChunk
	Distance   float64
	Similarity float64
}

// NowMs returns the current time in Unix milliseconds. Kept as a single
// choke point so callers never call time.Now() ad hoc inside this package.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
