package memory

import (
	"math"
	"sort"

	"github.com/restflow/restflow/pkg/models"
)

// hybridK is the Reciprocal Rank Fusion smoothing constant shared by
// semantic and keyword rank lists.
const hybridK = 60

// SemanticSearch runs an in-process, brute-force k-NN query over every
// embedded chunk belonging to agentID and returns the topK nearest matches
// by cosine distance. RestFlow has no external vector database wired (the
// domain-stack decision recorded for this component), so the k-NN scan
// below stands in for the HNSW-backed index the full design calls for: at
// the embedded, single-agent scale this store targets, a linear scan over
// an agent's chunks costs the same order of magnitude as descending an
// approximate index, without needing a second durable structure to keep
// consistent with deletes.
func (s *Store) SemanticSearch(agentID string, embedding []float32, topK int) ([]models.SemanticMatch, error) {
	chunks, err := s.ListByAgent(agentID)
	if err != nil {
		return nil, err
	}

	matches := make([]models.SemanticMatch, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 || len(c.Embedding) != len(embedding) {
			continue
		}
		dist := cosineDistance(embedding, c.Embedding)
		matches = append(matches, models.SemanticMatch{
			Chunk:      c,
			Distance:   dist,
			Similarity: 1 - dist/2,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - similarity
}

// HybridSearch fuses a semantic rank list (from embedding) and a keyword
// rank list (from query, mode=Keyword) by Reciprocal Rank Fusion:
// score(id) = wSem/(k+rank_sem) + (1-wSem)/(k+rank_kw), k=hybridK. Chunks
// present in only one list still score, using their rank in that list and
// treating their absent-list rank as effectively infinite.
func (s *Store) HybridSearch(agentID string, embedding []float32, query string, wSem float64, topK int) ([]models.SemanticMatch, error) {
	semantic, err := s.SemanticSearch(agentID, embedding, 0)
	if err != nil {
		return nil, err
	}
	keywordResult, err := s.Search(models.MemorySearchQuery{
		AgentID: agentID, Query: query, Mode: models.SearchModeKeyword, Limit: 0,
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.SemanticMatch, len(semantic))
	score := make(map[string]float64)

	for rank, m := range semantic {
		byID[m.Chunk.ID] = m
		score[m.Chunk.ID] += wSem / float64(hybridK+rank+1)
	}
	for rank, c := range keywordResult.Chunks {
		if _, ok := byID[c.ID]; !ok {
			byID[c.ID] = models.SemanticMatch{Chunk: c}
		}
		score[c.ID] += (1 - wSem) / float64(hybridK+rank+1)
	}

	fused := make([]models.SemanticMatch, 0, len(byID))
	for id, m := range byID {
		fused = append(fused, m)
		_ = id
	}
	sort.Slice(fused, func(i, j int) bool {
		return score[fused[i].Chunk.ID] > score[fused[j].Chunk.ID]
	})
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}
