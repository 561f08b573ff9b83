package kv

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureBuckets("widgets", "by_owner"))
	return s
}

type widget struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

func TestPutGetJSONRoundTrip(t *testing.T) {
	s := openTestStore(t)
	w := widget{ID: "w1", Owner: "alice"}

	require.NoError(t, s.Update(func(tx *bolt.Tx) error {
		return PutJSON(tx, "widgets", w.ID, w)
	}))

	var got widget
	require.NoError(t, s.View(func(tx *bolt.Tx) error {
		return GetJSON(tx, "widgets", w.ID, &got)
	}))
	require.Equal(t, w, got)
}

func TestGetJSONMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	var got widget
	err := s.View(func(tx *bolt.Tx) error {
		return GetJSON(tx, "widgets", "missing", &got)
	})
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestIndexAddIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Update(func(tx *bolt.Tx) error {
		if err := IndexAdd(tx, "by_owner", "alice", "w1"); err != nil {
			return err
		}
		return IndexAdd(tx, "by_owner", "alice", "w1")
	}))

	var members []string
	require.NoError(t, s.View(func(tx *bolt.Tx) error {
		var err error
		members, err = IndexMembers(tx, "by_owner", "alice")
		return err
	}))
	require.Equal(t, []string{"w1"}, members)
}

func TestMultiTableUpdateIsAtomic(t *testing.T) {
	s := openTestStore(t)
	w := widget{ID: "w2", Owner: "bob"}

	require.NoError(t, s.Update(func(tx *bolt.Tx) error {
		if err := PutJSON(tx, "widgets", w.ID, w); err != nil {
			return err
		}
		return IndexAdd(tx, "by_owner", w.Owner, w.ID)
	}))

	var got widget
	var members []string
	require.NoError(t, s.View(func(tx *bolt.Tx) error {
		if err := GetJSON(tx, "widgets", w.ID, &got); err != nil {
			return err
		}
		var err error
		members, err = IndexMembers(tx, "by_owner", w.Owner)
		return err
	}))
	require.Equal(t, w, got)
	require.Contains(t, members, w.ID)
}
