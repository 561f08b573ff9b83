package memory

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/restflow/restflow/internal/kv"
	"github.com/restflow/restflow/pkg/models"
)

// Search implements MemoryStore.Search: tokenized Keyword matching,
// case-insensitive Phrase substring matching, or compiled Regex matching,
// each narrowed first by agent_id, then by session_id/tags/source_type/time
// range, before the Mode-specific text predicate is applied. Results are
// sorted newest-first and paginated by Limit/Offset.
func (s *Store) Search(q models.MemorySearchQuery) (models.MemorySearchResult, error) {
	candidates, err := s.candidateChunks(q)
	if err != nil {
		return models.MemorySearchResult{}, err
	}

	matcher, err := newTextMatcher(q.Mode, q.Query)
	if err != nil {
		return models.MemorySearchResult{}, err
	}

	matched := make([]models.MemoryChunk, 0, len(candidates))
	for _, c := range candidates {
		if !passesFilters(c, q) {
			continue
		}
		if matcher != nil && !matcher(c.Content) {
			continue
		}
		matched = append(matched, c)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAtMs > matched[j].CreatedAtMs })

	total := len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = total
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := matched[offset:end]

	return models.MemorySearchResult{
		Chunks:     page,
		TotalCount: total,
		HasMore:    end < total,
	}, nil
}

// candidateChunks loads the chunks eligible for q.Mode-specific filtering:
// when mode is Keyword and a full-text index is present, the index is
// consulted first and its hits become the candidate set (restricted to
// the agent, consistent with how the index was populated); otherwise every
// chunk for q.AgentID is the candidate set.
func (s *Store) candidateChunks(q models.MemorySearchQuery) ([]models.MemoryChunk, error) {
	if q.Mode == models.SearchModeKeyword && q.Query != "" && s.text != nil {
		ids, err := s.text.SearchKeyword(q.AgentID, q.Query, maxKeywordCandidates)
		if err != nil {
			return nil, err
		}
		var chunks []models.MemoryChunk
		err = s.kv.View(func(tx *bolt.Tx) error {
			var loadErr error
			chunks, loadErr = loadChunks(tx, ids)
			return loadErr
		})
		return chunks, err
	}
	return s.ListByAgent(q.AgentID)
}

const maxKeywordCandidates = 500

func passesFilters(c models.MemoryChunk, q models.MemorySearchQuery) bool {
	if q.SessionID != "" && c.SessionID != q.SessionID {
		return false
	}
	if q.SourceType != "" && c.Source.Type != q.SourceType {
		return false
	}
	if q.FromTimeMs != nil && c.CreatedAtMs < *q.FromTimeMs {
		return false
	}
	if q.ToTimeMs != nil && c.CreatedAtMs > *q.ToTimeMs {
		return false
	}
	for _, tag := range q.Tags {
		if !containsTag(c.Tags, tag) {
			return false
		}
	}
	return true
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// newTextMatcher builds the Mode-specific content predicate. A blank query
// matches everything (nil matcher), letting Search double as a pure filter
// listing when Query is empty.
func newTextMatcher(mode models.SearchMode, query string) (func(content string) bool, error) {
	if query == "" {
		return nil, nil
	}
	switch mode {
	case models.SearchModePhrase:
		needle := strings.ToLower(query)
		return func(content string) bool {
			return strings.Contains(strings.ToLower(content), needle)
		}, nil
	case models.SearchModeRegex:
		re, err := regexp.Compile(query)
		if err != nil {
			return nil, errors.New("memory: invalid regex query: " + err.Error())
		}
		return re.MatchString, nil
	case models.SearchModeKeyword, "":
		tokens := strings.Fields(strings.ToLower(query))
		return func(content string) bool {
			lower := strings.ToLower(content)
			for _, tok := range tokens {
				if !strings.Contains(lower, tok) {
					return false
				}
			}
			return true
		}, nil
	default:
		return nil, errors.New("memory: unknown search mode: " + string(mode))
	}
}

// DeleteChunk removes a chunk from every index, including the full-text
// index, in a single transaction.
func (s *Store) DeleteChunk(id string) error {
	chunk, err := s.GetChunk(id)
	if err != nil {
		return err
	}
	err = s.kv.Update(func(tx *bolt.Tx) error {
		if err := kv.Delete(tx, bucketChunks, id); err != nil {
			return err
		}
		if err := kv.Delete(tx, bucketByHash, chunk.ContentHash); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketByAgent)).Delete([]byte(chunk.AgentID + ":" + id)); err != nil {
			return err
		}
		if chunk.SessionID != "" {
			if err := tx.Bucket([]byte(bucketBySession)).Delete([]byte(chunk.SessionID + ":" + id)); err != nil {
				return err
			}
		}
		for _, tag := range chunk.Tags {
			if err := tx.Bucket([]byte(bucketByTag)).Delete([]byte(tag + ":" + id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.text != nil {
		return s.text.Delete(id)
	}
	return nil
}
