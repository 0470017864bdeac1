package engine

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/ledgerstore/internal/roothash"
	"github.com/ledgerwatch/ledgerstore/item"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := New(dir, newTestRegistry(), cfg)
	require.NoError(t, err)
	return e
}

func keyFor(i int) string {
	return "k" + strconv.Itoa(i)
}

// Scenario 1: insert / lookup (spec §8).
func TestInsertLookup(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	_, err := e.Apply(docTypeTag, "k1", setBody("f b"))
	require.NoError(t, err)

	require.Equal(t, 1, e.ldg.Len())

	it, ok, err := e.Load("k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "f b", it.(docItem).Body)

	members, err := e.GetProperty(item.PropertyCache{Type: docPropWord, Value: "f"})
	require.NoError(t, err)
	require.True(t, members.Contains("k1"))
}

// Scenario 2: dependency cycle rejection (spec §8).
func TestDependencyCycleRejected(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	_, err := e.Apply(docTypeTag, "k1", setBody("k1"))
	require.NoError(t, err)
	_, err = e.Apply(docTypeTag, "k2", setBody("k2"))
	require.NoError(t, err)

	_, err = e.Apply(docTypeTag, "k1", addDep("k2"))
	require.NoError(t, err)
	require.Equal(t, 3, e.ldg.Len())

	_, err = e.Apply(docTypeTag, "k2", addDep("k1"))
	require.Error(t, err)
	var ierr *item.Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, item.KindCycle, ierr.Kind)
	require.Equal(t, []item.PathStep{
		{Key: "k2", RefType: docRefDep},
		{Key: "k1", RefType: docRefDep},
	}, ierr.Path, "cycle path must report the (key, ref_type) hops in forward order starting at the mutated item, per the k2/k1 worked scenario")

	require.Equal(t, 3, e.ldg.Len(), "rejected event must not be appended to the ledger")

	it, ok, err := e.Load("k2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, it.(docItem).Deps, "k2 must not have gained a dependency on k1")
}

// MissingReference is a specialisation of Invariant (spec §7).
func TestMissingReferenceRejected(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	_, err := e.Apply(docTypeTag, "k1", addDep("ghost"))
	require.Error(t, err)
	var ierr *item.Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, item.KindInvariant, ierr.Kind)
	require.Equal(t, 0, e.ldg.Len())
}

// Adding a dependency on a nonexistent key to an item that already has a
// valid dependency is rejected, and the item keeps its previous
// dependency list.
func TestDanglingDependencyRejectedKeepsExistingDeps(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	_, err := e.Apply(docTypeTag, "attr", setBody("attr"))
	require.NoError(t, err)
	_, err = e.Apply(docTypeTag, "card", setBody("card"))
	require.NoError(t, err)
	_, err = e.Apply(docTypeTag, "card", addDep("attr"))
	require.NoError(t, err)

	_, err = e.Apply(docTypeTag, "card", addDep("missing"))
	require.Error(t, err)

	it, ok, err := e.Load("card")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"attr"}, it.(docItem).Deps)
}

// Scenario 3: structural sharing (spec §8). One mutation after many
// inserts should only touch O(depth) new trie nodes plus the leaf and
// the new item blob, not rewrite the whole trie.
func TestStructuralSharing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GCKeep = 1 << 30 // disable GC for this test
	e := newTestEngine(t, cfg)

	for i := 0; i < 200; i++ {
		key := keyFor(i)
		_, err := e.Apply(docTypeTag, key, setBody(key))
		require.NoError(t, err)
	}

	before := reachableBlobs(t, e)
	_, err := e.Apply(docTypeTag, keyFor(5), setBody("mutated"))
	require.NoError(t, err)
	after := reachableBlobs(t, e)

	grew := 0
	for h := range after {
		if _, ok := before[h]; !ok {
			grew++
		}
	}
	require.LessOrEqual(t, grew, cfg.TrieFanoutDepth+2+8,
		"a single-item mutation should only add O(depth) blobs, got %d new blobs", grew)
}

// reachableBlobs returns every directory-trie node and item blob
// reachable from the engine's current state.
func reachableBlobs(t *testing.T, e *Engine) map[roothash.Hash]struct{} {
	t.Helper()
	nodes := map[roothash.Hash]struct{}{}
	require.NoError(t, e.snap.ReachableNodes(e.state, nodes))
	paths, err := e.snap.AllPaths(e.state)
	require.NoError(t, err)
	for _, h := range paths {
		nodes[h] = struct{}{}
	}
	return nodes
}

// Scenario 4: GC soundness (spec §8). GC advances through each completed
// gc_keep window, and the anchor snapshot at event count 10 stays
// loadable afterward.
func TestGCSoundness(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GCKeep = 10
	e := newTestEngine(t, cfg)

	var anchor10 roothash.Hash
	for i := 0; i < 25; i++ {
		key := keyFor(i)
		state, err := e.Apply(docTypeTag, key, setBody(key))
		require.NoError(t, err)
		if i == 9 { // state after the 10th applied event
			anchor10 = state
		}
	}

	require.Equal(t, 20, e.gc.anchorIndex, "after the 20th event, gc should have advanced through the anchor-10 window")

	_, ok, err := e.snap.Lookup(anchor10, keyFor(5))
	require.NoError(t, err)
	require.True(t, ok, "anchor snapshot at event count 10 must still be loadable after GC")
}

// Scenario 5: cache rebuild equivalence (spec §8).
func TestCacheRebuildEquivalence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheMode = CacheModeIncremental
	e := newTestEngine(t, cfg)

	for i := 0; i < 50; i++ {
		key := keyFor(i)
		_, err := e.Apply(docTypeTag, key, setBody(key+" shared"))
		require.NoError(t, err)
	}
	incremental := e.cacheState

	rebuilt, err := e.rebuildCache()
	require.NoError(t, err)

	require.Equal(t, incremental, rebuilt, "incremental cache hash must equal a full rebuild's hash")
}

// Replaying a ledger from scratch reproduces the same state hash as the
// incrementally-built store (spec §8's replay-determinism invariant).
// It must also reproduce the same CacheHash: a reopen that re-interned
// every live item's key from scratch would scramble Roaring-bitmap bit
// assignments and produce a different (if equally valid) cache root,
// stranding the prior session's cache-trie blobs as unreachable.
func TestReplayDeterminism(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, newTestRegistry(), DefaultConfig())
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		key := keyFor(i)
		_, err := e.Apply(docTypeTag, key, setBody(key))
		require.NoError(t, err)
	}
	wantState := e.State()
	wantCache := e.CacheState()

	reopened, err := New(dir, newTestRegistry(), DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, wantState, reopened.State())
	require.Equal(t, wantCache, reopened.CacheState(), "reopening a fully-applied store must reuse its recorded cache state, not rebuild a differently-interned one")
}

// Adding a dependency and then removing it must not error, and must
// leave the item with no dependencies.
func TestRemoveDependency(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	_, err := e.Apply(docTypeTag, "a", setBody("a"))
	require.NoError(t, err)
	_, err = e.Apply(docTypeTag, "b", setBody("b"))
	require.NoError(t, err)
	_, err = e.Apply(docTypeTag, "a", addDep("b"))
	require.NoError(t, err)
	_, err = e.Apply(docTypeTag, "a", removeDep("b"))
	require.NoError(t, err)

	it, ok, err := e.Load("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, it.(docItem).Deps)
}
