package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/ledgerstore/blob"
	"github.com/ledgerwatch/ledgerstore/internal/roothash"
	"github.com/ledgerwatch/ledgerstore/trie"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	b, err := blob.Open(t.TempDir(), 0)
	require.NoError(t, err)
	tr, err := trie.New(b, 2, 0)
	require.NoError(t, err)
	s, err := Open(t.TempDir(), tr)
	require.NoError(t, err)
	return s
}

func TestPutLookupRoundTrip(t *testing.T) {
	s := newTestStore(t)
	blobHash := roothash.Sum([]byte("blob bytes"))

	state, err := s.Put(s.Empty(), "k1", blobHash)
	require.NoError(t, err)

	got, ok, err := s.Lookup(state, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blobHash, got)
}

func TestAllPathsReflectsLiveKeys(t *testing.T) {
	s := newTestStore(t)
	h1 := roothash.Sum([]byte("one"))
	h2 := roothash.Sum([]byte("two"))

	state, err := s.Put(s.Empty(), "k1", h1)
	require.NoError(t, err)
	state, err = s.Put(state, "k2", h2)
	require.NoError(t, err)

	paths, err := s.AllPaths(state)
	require.NoError(t, err)
	require.Equal(t, map[string]roothash.Hash{"k1": h1, "k2": h2}, paths)
}

func TestRecordAndLookupAppliedState(t *testing.T) {
	s := newTestStore(t)
	entryHash := roothash.Sum([]byte("entry"))
	state := roothash.Sum([]byte("state"))

	require.NoError(t, s.RecordApplied(entryHash, state))

	got, ok, err := s.AppliedStateFor(entryHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state, got)

	require.NoError(t, s.DeleteApplied(entryHash))
	_, ok, err = s.AppliedStateFor(entryHash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteAppliedMissingIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.DeleteApplied(roothash.Sum([]byte("never recorded"))))
}

func TestPutTrackedReturnsTouchedNodes(t *testing.T) {
	s := newTestStore(t)
	_, touched, err := s.PutTracked(s.Empty(), "k1", roothash.Sum([]byte("x")))
	require.NoError(t, err)
	require.NotEmpty(t, touched)
}
