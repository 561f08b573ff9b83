package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/restflow/restflow/pkg/models"
)

func seedSearchChunks(t *testing.T, store *Store) {
	t.Helper()
	chunks := []models.MemoryChunk{
		{AgentID: "agent-1", Content: "the quick brown fox jumps", Tags: []string{"animal"}},
		{AgentID: "agent-1", Content: "a slow red turtle crawls", Tags: []string{"animal", "slow"}},
		{AgentID: "agent-1", Content: "deployment failed with timeout error", Source: models.MemorySource{Type: models.MemorySourceTaskExecution}},
		{AgentID: "agent-2", Content: "the quick brown fox jumps again"},
	}
	for _, c := range chunks {
		_, _, err := store.PutChunkIfNotExists(c)
		require.NoError(t, err)
	}
}

func TestSearch_KeywordRequiresAllTokens(t *testing.T) {
	store := newTestStore(t)
	seedSearchChunks(t, store)

	result, err := store.Search(models.MemorySearchQuery{AgentID: "agent-1", Query: "quick fox", Mode: models.SearchModeKeyword})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	require.Contains(t, result.Chunks[0].Content, "quick brown fox")
}

func TestSearch_ScopesToAgent(t *testing.T) {
	store := newTestStore(t)
	seedSearchChunks(t, store)

	result, err := store.Search(models.MemorySearchQuery{AgentID: "agent-2", Query: "quick", Mode: models.SearchModeKeyword})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
}

func TestSearch_PhraseIsCaseInsensitiveSubstring(t *testing.T) {
	store := newTestStore(t)
	seedSearchChunks(t, store)

	result, err := store.Search(models.MemorySearchQuery{AgentID: "agent-1", Query: "RED TURTLE", Mode: models.SearchModePhrase})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
}

func TestSearch_Regex(t *testing.T) {
	store := newTestStore(t)
	seedSearchChunks(t, store)

	result, err := store.Search(models.MemorySearchQuery{AgentID: "agent-1", Query: "^deployment.*error$", Mode: models.SearchModeRegex})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
}

func TestSearch_FiltersByTagAndSourceType(t *testing.T) {
	store := newTestStore(t)
	seedSearchChunks(t, store)

	result, err := store.Search(models.MemorySearchQuery{AgentID: "agent-1", Tags: []string{"slow"}})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)

	result, err = store.Search(models.MemorySearchQuery{AgentID: "agent-1", SourceType: models.MemorySourceTaskExecution})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
}

func TestSearch_PaginatesWithHasMore(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, _, err := store.PutChunkIfNotExists(models.MemoryChunk{AgentID: "agent-3", Content: "paginated entry " + string(rune('a'+i))})
		require.NoError(t, err)
	}

	result, err := store.Search(models.MemorySearchQuery{AgentID: "agent-3", Limit: 3, Offset: 0})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 3)
	require.True(t, result.HasMore)
}
