// Package kv provides the embedded, single-process key-value layer that
// backs every durable component in RestFlow: memory chunks and sessions,
// workflow checkpoints, scheduled tasks, and auth profiles. It wraps
// go.etcd.io/bbolt, giving callers bucket-scoped, crash-safe transactions
// without standing up an external database process.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a Get or key-scoped lookup finds no record.
var ErrNotFound = errors.New("kv: not found")

// ErrAlreadyExists is returned by Create-style helpers when a key is already
// populated in a bucket that enforces uniqueness.
var ErrAlreadyExists = errors.New("kv: already exists")

// Store is a thin wrapper around a bbolt database handle. All buckets used
// by RestFlow's durable components are declared as package-level []byte
// constants in the owning package (e.g. internal/memory, internal/workflow)
// and created lazily via EnsureBuckets.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureBuckets creates every named bucket if it does not already exist.
// Called once at startup by each owning package with its own table names.
func (s *Store) EnsureBuckets(names ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("kv: create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *bolt.Tx) error) error {
	return s.db.View(fn)
}

// Update runs fn in a read-write transaction. bbolt serializes all writers,
// which is what gives RestFlow's "atomic multi-table write" invariant for
// free: a single Update call spanning several buckets either commits
// entirely or not at all.
func (s *Store) Update(fn func(tx *bolt.Tx) error) error {
	return s.db.Update(fn)
}

// PutJSON marshals v and stores it under key in bucket, within tx.
func PutJSON(tx *bolt.Tx, bucket, key string, v any) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("kv: bucket %s not found", bucket)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: marshal %s/%s: %w", bucket, key, err)
	}
	return b.Put([]byte(key), data)
}

// GetJSON looks up key in bucket and unmarshals it into dst. Returns
// ErrNotFound if the key is absent.
func GetJSON(tx *bolt.Tx, bucket, key string, dst any) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("kv: bucket %s not found", bucket)
	}
	data := b.Get([]byte(key))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, dst)
}

// Delete removes key from bucket. Deleting an absent key is a no-op.
func Delete(tx *bolt.Tx, bucket, key string) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("kv: bucket %s not found", bucket)
	}
	return b.Delete([]byte(key))
}

// ForEach iterates every key/value pair in bucket in bbolt's native
// byte-lexicographic key order, stopping early if fn returns an error.
func ForEach(tx *bolt.Tx, bucket string, fn func(key, value []byte) error) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("kv: bucket %s not found", bucket)
	}
	return b.ForEach(fn)
}

// IndexAdd appends key to the set stored under indexKey inside an index
// bucket (e.g. "by_agent", "by_tag"). The index value is a JSON array of
// strings; this is adequate at RestFlow's embedded, single-process scale
// and keeps every bucket using the same PutJSON/GetJSON codec.
func IndexAdd(tx *bolt.Tx, indexBucket, indexKey, memberKey string) error {
	var members []string
	err := GetJSON(tx, indexBucket, indexKey, &members)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	for _, m := range members {
		if m == memberKey {
			return nil
		}
	}
	members = append(members, memberKey)
	return PutJSON(tx, indexBucket, indexKey, members)
}

// IndexMembers returns the members recorded under indexKey, or an empty
// slice if the index key has never been populated.
func IndexMembers(tx *bolt.Tx, indexBucket, indexKey string) ([]string, error) {
	var members []string
	err := GetJSON(tx, indexBucket, indexKey, &members)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return members, err
}
