package memory

import (
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/restflow/restflow/pkg/models"
)

// indexedChunk is the document shape handed to bleve: only the fields
// Keyword-mode search ever filters or ranks on need to be indexed.
type indexedChunk struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// textIndex wraps a bleve.Index used to accelerate Keyword-mode search.
// bleve is the pack's full-text search library; it is consulted first for
// mode=Keyword queries and its hits are intersected with the other filter
// predicates before pagination, per the Memory Store's search contract.
type textIndex struct {
	index bleve.Index
}

func newTextIndex(path string) (*textIndex, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else if _, statErr := os.Stat(path); statErr == nil {
		idx, err = bleve.Open(path)
	} else {
		idx, err = bleve.New(path, mapping)
	}
	if err != nil {
		return nil, err
	}
	return &textIndex{index: idx}, nil
}

func (t *textIndex) Close() error {
	return t.index.Close()
}

// Index adds or replaces chunk's searchable document.
func (t *textIndex) Index(chunk models.MemoryChunk) error {
	return t.index.Index(chunk.ID, indexedChunk{
		AgentID:   chunk.AgentID,
		SessionID: chunk.SessionID,
		Content:   chunk.Content,
	})
}

// Delete removes a chunk's document from the index.
func (t *textIndex) Delete(chunkID string) error {
	return t.index.Delete(chunkID)
}

// SearchKeyword runs a conjunctive (all terms required) match query over
// content, scoped to agentID, and returns matching chunk ids ordered by
// bleve's relevance score descending.
func (t *textIndex) SearchKeyword(agentID, query string, limit int) ([]string, error) {
	contentQuery := bleve.NewMatchQuery(query)
	contentQuery.SetField("content")
	contentQuery.SetOperator(query.MatchQueryOperatorAnd)

	agentQuery := bleve.NewTermQuery(agentID)
	agentQuery.SetField("agent_id")

	conjunction := bleve.NewConjunctionQuery(contentQuery, agentQuery)
	req := bleve.NewSearchRequestOptions(conjunction, limit, 0, false)

	result, err := t.index.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}
