package trie

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/ledgerstore/blob"
	"github.com/ledgerwatch/ledgerstore/internal/roothash"
)

func newTestTrie(t *testing.T) *Trie {
	t.Helper()
	store, err := blob.Open(t.TempDir(), 0)
	require.NoError(t, err)
	tr, err := New(store, 2, 0)
	require.NoError(t, err)
	return tr
}

func TestPutGetRoundTrip(t *testing.T) {
	tr := newTestTrie(t)

	root, err := tr.Put(tr.Empty(), "k1", []byte("v1"))
	require.NoError(t, err)

	v, ok, err := tr.Get(root, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	_, ok, err = tr.Get(root, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteRemovesKey(t *testing.T) {
	tr := newTestTrie(t)

	root, err := tr.Put(tr.Empty(), "k1", []byte("v1"))
	require.NoError(t, err)
	root, err = tr.Delete(root, "k1")
	require.NoError(t, err)

	_, ok, err := tr.Get(root, "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	tr := newTestTrie(t)

	root, err := tr.Put(tr.Empty(), "k1", []byte("v1"))
	require.NoError(t, err)
	same, err := tr.Delete(root, "never-there")
	require.NoError(t, err)
	require.Equal(t, root, same)
}

// A single-key mutation rewrites only the leaf and the internal nodes on
// its path, and leaves every other key's value intact — the structural
// sharing the store relies on.
func TestStructuralSharing(t *testing.T) {
	tr := newTestTrie(t)

	root := tr.Empty()
	var err error
	for i := 0; i < 50; i++ {
		root, err = tr.Put(root, keyN(i), []byte(keyN(i)))
		require.NoError(t, err)
	}

	reachedBefore := map[roothash.Hash]struct{}{}
	require.NoError(t, tr.ReachableNodes(root, reachedBefore))

	mutated, touched, err := tr.PutTracked(root, keyN(5), []byte("mutated"))
	require.NoError(t, err)
	require.NotEqual(t, root, mutated)
	// leaf + one internal node per fanout level (depth 2) were rewritten.
	require.LessOrEqual(t, len(touched), 3)

	v, ok, err := tr.Get(mutated, keyN(5))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("mutated"), v)

	// every other key is unaffected
	v, ok, err = tr.Get(mutated, keyN(6))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(keyN(6)), v)
}

func TestWalkVisitsAllEntriesSorted(t *testing.T) {
	tr := newTestTrie(t)

	root := tr.Empty()
	var err error
	keys := []string{"b", "a", "c"}
	for _, k := range keys {
		root, err = tr.Put(root, k, []byte(k))
		require.NoError(t, err)
	}

	var seen []string
	err = tr.Walk(root, func(key string, value []byte) error {
		seen = append(seen, key)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, seen)
}

func keyN(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%26]) + string(rune('0'+i/26))
}

// Random key/value pairs round-trip through Put/Get regardless of shape
// (empty values, long values, keys that collide on shard prefix).
func TestFuzzedPutGetRoundTrip(t *testing.T) {
	tr := newTestTrie(t)
	f := fuzz.New().NilChance(0).NumElements(1, 64)

	root := tr.Empty()
	want := map[string][]byte{}
	for i := 0; i < 100; i++ {
		var key string
		var value []byte
		f.Fuzz(&key)
		f.Fuzz(&value)
		if key == "" {
			continue
		}
		var err error
		root, err = tr.Put(root, key, value)
		require.NoError(t, err)
		want[key] = value
	}

	for key, value := range want {
		got, ok, err := tr.Get(root, key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, value, got)
	}
}
