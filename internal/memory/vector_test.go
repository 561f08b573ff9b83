package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/restflow/restflow/pkg/models"
)

func TestSemanticSearch_OrdersByDistance(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.PutChunkIfNotExists(models.MemoryChunk{AgentID: "agent-1", Content: "near", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	_, _, err = store.PutChunkIfNotExists(models.MemoryChunk{AgentID: "agent-1", Content: "far", Embedding: []float32{0, 1, 0}})
	require.NoError(t, err)

	matches, err := store.SemanticSearch("agent-1", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "near", matches[0].Chunk.Content)
	require.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestSemanticSearch_SkipsChunksWithoutEmbeddings(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.PutChunkIfNotExists(models.MemoryChunk{AgentID: "agent-1", Content: "no vector"})
	require.NoError(t, err)

	matches, err := store.SemanticSearch("agent-1", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestHybridSearch_FusesBothRankLists(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.PutChunkIfNotExists(models.MemoryChunk{
		AgentID: "agent-1", Content: "quick brown fox", Embedding: []float32{1, 0, 0},
	})
	require.NoError(t, err)
	_, _, err = store.PutChunkIfNotExists(models.MemoryChunk{
		AgentID: "agent-1", Content: "completely unrelated sentence", Embedding: []float32{0, 1, 0},
	})
	require.NoError(t, err)

	matches, err := store.HybridSearch("agent-1", []float32{1, 0, 0}, "quick fox", 0.5, 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	require.Equal(t, "quick brown fox", matches[0].Chunk.Content, "the chunk matching both rank lists should fuse to the top")
}
