// Package memory implements the Memory Store: a typed persistence layer
// over the embedded key-value database (internal/kv) with secondary
// indices for agent/session/tag/hash lookups, full-text and in-process
// vector search, deduplication, and Markdown export. Grounded on
// internal/kv's bucket-per-concern, transaction-per-operation idiom (itself
// grounded on the teacher's storage layer) and on bleve for the Keyword
// search mode, the pack's full-text search library.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/restflow/restflow/internal/kv"
	"github.com/restflow/restflow/pkg/models"
)

const (
	bucketChunks       = "memory_chunks"
	bucketSessions     = "memory_sessions"
	bucketByAgent      = "memory_by_agent"
	bucketBySession    = "memory_by_session"
	bucketByHash       = "memory_by_hash"
	bucketByTag        = "memory_by_tag"
	bucketAgentSession = "memory_agent_sessions"
)

var allBuckets = []string{
	bucketChunks, bucketSessions, bucketByAgent, bucketBySession,
	bucketByHash, bucketByTag, bucketAgentSession,
}

// ErrChunkNotFound is returned when a chunk id has no record.
var ErrChunkNotFound = errors.New("memory: chunk not found")

// ErrSessionNotFound is returned when a session id has no record.
var ErrSessionNotFound = errors.New("memory: session not found")

// Store is the Memory Store: chunk/session CRUD, dedup, search, and
// export, all backed by a single kv.Store.
type Store struct {
	kv   *kv.Store
	text *textIndex
}

// Open ensures every backing bucket exists and, when textIndexPath is
// non-empty, opens (or creates) the on-disk full-text index used by
// Keyword-mode search. An empty textIndexPath runs with an in-memory index
// that does not survive a restart.
func Open(store *kv.Store, textIndexPath string) (*Store, error) {
	if err := store.EnsureBuckets(allBuckets...); err != nil {
		return nil, err
	}
	idx, err := newTextIndex(textIndexPath)
	if err != nil {
		return nil, err
	}
	return &Store{kv: store, text: idx}, nil
}

// Close releases the full-text index handle. The underlying kv.Store is
// owned by the caller and is not closed here.
func (s *Store) Close() error {
	if s.text == nil {
		return nil
	}
	return s.text.Close()
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// PutChunkIfNotExists implements put_chunk_if_not_exists: the chunk's
// content hash is looked up in by_hash inside the same write transaction
// that would insert it, so concurrent writers of identical content all
// observe the same stored id and only one of them actually writes.
// existed is true when a prior chunk with the same content was found.
func (s *Store) PutChunkIfNotExists(chunk models.MemoryChunk) (id string, existed bool, err error) {
	hash := contentHash(chunk.Content)
	chunk.ContentHash = hash

	err = s.kv.Update(func(tx *bolt.Tx) error {
		hashBucket := tx.Bucket([]byte(bucketByHash))
		if existingID := hashBucket.Get([]byte(hash)); existingID != nil {
			id = string(existingID)
			existed = true
			return nil
		}

		if chunk.ID == "" {
			chunk.ID = uuid.NewString()
		}
		if chunk.CreatedAtMs == 0 {
			chunk.CreatedAtMs = models.NowMs()
		}
		id = chunk.ID

		if err := kv.PutJSON(tx, bucketChunks, id, chunk); err != nil {
			return err
		}
		if err := hashBucket.Put([]byte(hash), []byte(id)); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketByAgent)).Put([]byte(chunk.AgentID+":"+id), []byte(id)); err != nil {
			return err
		}
		if chunk.SessionID != "" {
			if err := tx.Bucket([]byte(bucketBySession)).Put([]byte(chunk.SessionID+":"+id), []byte(id)); err != nil {
				return err
			}
			if err := tx.Bucket([]byte(bucketAgentSession)).Put([]byte(chunk.AgentID+":"+chunk.SessionID), []byte(chunk.SessionID)); err != nil {
				return err
			}
			if err := bumpSessionStatsLocked(tx, chunk); err != nil {
				return err
			}
		}
		for _, tag := range chunk.Tags {
			if err := tx.Bucket([]byte(bucketByTag)).Put([]byte(tag+":"+id), []byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}

	if !existed && s.text != nil {
		if err := s.text.Index(chunk); err != nil {
			return id, existed, fmt.Errorf("memory: index chunk for full-text search: %w", err)
		}
	}
	return id, existed, nil
}

// bumpSessionStatsLocked increments a session's chunk_count/total_tokens
// and refreshes updated_at_ms within tx. A missing session is a no-op: the
// caller may not have created the session record yet.
func bumpSessionStatsLocked(tx *bolt.Tx, chunk models.MemoryChunk) error {
	var sess models.MemorySession
	err := kv.GetJSON(tx, bucketSessions, chunk.SessionID, &sess)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	sess.ChunkCount++
	if chunk.TokenCount != nil {
		sess.TotalTokens += *chunk.TokenCount
	}
	sess.UpdatedAtMs = chunk.CreatedAtMs
	return kv.PutJSON(tx, bucketSessions, chunk.SessionID, sess)
}

// GetChunk looks up a chunk by id.
func (s *Store) GetChunk(id string) (models.MemoryChunk, error) {
	var chunk models.MemoryChunk
	err := s.kv.View(func(tx *bolt.Tx) error {
		return kv.GetJSON(tx, bucketChunks, id, &chunk)
	})
	if errors.Is(err, kv.ErrNotFound) {
		return models.MemoryChunk{}, ErrChunkNotFound
	}
	return chunk, err
}

// ListByAgent returns every chunk belonging to agentID, in no particular
// order.
func (s *Store) ListByAgent(agentID string) ([]models.MemoryChunk, error) {
	var chunks []models.MemoryChunk
	err := s.kv.View(func(tx *bolt.Tx) error {
		ids, err := prefixScan(tx, bucketByAgent, agentID+":")
		if err != nil {
			return err
		}
		chunks, err = loadChunks(tx, ids)
		return err
	})
	return chunks, err
}

// ListBySession returns every chunk belonging to sessionID, in no
// particular order.
func (s *Store) ListBySession(sessionID string) ([]models.MemoryChunk, error) {
	var chunks []models.MemoryChunk
	err := s.kv.View(func(tx *bolt.Tx) error {
		ids, err := prefixScan(tx, bucketBySession, sessionID+":")
		if err != nil {
			return err
		}
		chunks, err = loadChunks(tx, ids)
		return err
	})
	return chunks, err
}

// CreateSession creates or replaces a session record.
func (s *Store) CreateSession(sess models.MemorySession) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := models.NowMs()
	if sess.CreatedAtMs == 0 {
		sess.CreatedAtMs = now
	}
	sess.UpdatedAtMs = now
	return s.kv.Update(func(tx *bolt.Tx) error {
		if err := kv.PutJSON(tx, bucketSessions, sess.ID, sess); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketAgentSession)).Put([]byte(sess.AgentID+":"+sess.ID), []byte(sess.ID))
	})
}

// GetSession looks up a session by id.
func (s *Store) GetSession(id string) (models.MemorySession, error) {
	var sess models.MemorySession
	err := s.kv.View(func(tx *bolt.Tx) error {
		return kv.GetJSON(tx, bucketSessions, id, &sess)
	})
	if errors.Is(err, kv.ErrNotFound) {
		return models.MemorySession{}, ErrSessionNotFound
	}
	return sess, err
}

// ListSessionsByAgent returns every session belonging to agentID, in no
// particular order.
func (s *Store) ListSessionsByAgent(agentID string) ([]models.MemorySession, error) {
	var sessions []models.MemorySession
	err := s.kv.View(func(tx *bolt.Tx) error {
		ids, err := prefixScan(tx, bucketAgentSession, agentID+":")
		if err != nil {
			return err
		}
		for _, id := range ids {
			var sess models.MemorySession
			if err := kv.GetJSON(tx, bucketSessions, id, &sess); err != nil {
				if errors.Is(err, kv.ErrNotFound) {
					continue
				}
				return err
			}
			sessions = append(sessions, sess)
		}
		return nil
	})
	return sessions, err
}

// prefixScan returns every value stored under a key with the given prefix
// in bucket, using bbolt's native key ordering to scan contiguously.
func prefixScan(tx *bolt.Tx, bucket, prefix string) ([]string, error) {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, fmt.Errorf("kv: bucket %s not found", bucket)
	}
	var out []string
	c := b.Cursor()
	p := []byte(prefix)
	for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
		out = append(out, string(v))
	}
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func loadChunks(tx *bolt.Tx, ids []string) ([]models.MemoryChunk, error) {
	chunks := make([]models.MemoryChunk, 0, len(ids))
	for _, id := range ids {
		var c models.MemoryChunk
		if err := kv.GetJSON(tx, bucketChunks, id, &c); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}
