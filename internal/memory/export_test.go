package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/restflow/restflow/pkg/models"
)

func TestExportAgentMarkdown_OrdersSessionsByUpdatedAtDescending(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateSession(models.MemorySession{ID: "old-sess", AgentID: "agent-1", Name: "Old"}))
	require.NoError(t, store.CreateSession(models.MemorySession{ID: "new-sess", AgentID: "agent-1", Name: "New"}))

	_, _, err := store.PutChunkIfNotExists(models.MemoryChunk{AgentID: "agent-1", SessionID: "old-sess", Content: "old chunk one", CreatedAtMs: 1000})
	require.NoError(t, err)
	_, _, err = store.PutChunkIfNotExists(models.MemoryChunk{AgentID: "agent-1", SessionID: "old-sess", Content: "old chunk two", CreatedAtMs: 2000})
	require.NoError(t, err)
	_, _, err = store.PutChunkIfNotExists(models.MemoryChunk{AgentID: "agent-1", SessionID: "new-sess", Content: "new chunk", CreatedAtMs: 3000})
	require.NoError(t, err)

	// Re-create new-sess last so its updated_at is newest.
	require.NoError(t, store.CreateSession(models.MemorySession{ID: "new-sess", AgentID: "agent-1", Name: "New"}))

	doc, err := store.ExportAgentMarkdown("agent-1")
	require.NoError(t, err)

	newIdx := indexOf(doc, "## Session: New")
	oldIdx := indexOf(doc, "## Session: Old")
	require.Greater(t, newIdx, -1)
	require.Greater(t, oldIdx, -1)
	require.Less(t, newIdx, oldIdx, "the more recently updated session must appear first")

	oldChunkOneIdx := indexOf(doc, "old chunk one")
	oldChunkTwoIdx := indexOf(doc, "old chunk two")
	require.Less(t, oldChunkOneIdx, oldChunkTwoIdx, "chunks within a session render chronological ascending")
}

func TestExportAgentMarkdown_RendersUnsortedChunksLast(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.PutChunkIfNotExists(models.MemoryChunk{AgentID: "agent-1", Content: "loose chunk"})
	require.NoError(t, err)

	doc, err := store.ExportAgentMarkdown("agent-1")
	require.NoError(t, err)
	require.Contains(t, doc, "## Unsorted")
	require.Contains(t, doc, "loose chunk")
}

func TestExportSessionMarkdown_IncludesMetadataComment(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(models.MemorySession{ID: "sess-1", AgentID: "agent-1", Name: "demo"}))
	tokenCount := 7
	_, _, err := store.PutChunkIfNotExists(models.MemoryChunk{
		AgentID: "agent-1", SessionID: "sess-1", Content: "hello", TokenCount: &tokenCount, Tags: []string{"greeting"},
	})
	require.NoError(t, err)

	doc, err := store.ExportSessionMarkdown("sess-1")
	require.NoError(t, err)
	require.Contains(t, doc, "hello")
	require.Contains(t, doc, "tokens: 7")
	require.Contains(t, doc, "Tags: greeting")
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
