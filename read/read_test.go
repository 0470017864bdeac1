package read

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/ledgerstore/blob"
	"github.com/ledgerwatch/ledgerstore/cache"
	"github.com/ledgerwatch/ledgerstore/item"
	"github.com/ledgerwatch/ledgerstore/snapshot"
	"github.com/ledgerwatch/ledgerstore/trie"
)

const propA item.PropertyType = "A"
const propB item.PropertyType = "B"
const refDep item.RefType = "dep"

// testFixture builds a snapshot with items k1..k4 tagged so that
// Property(A) = {k1,k2,k3} and Property(B) = {k2,k3,k4} (spec §8
// scenario 6), plus k2 --dep--> k1 for the Reference tests.
func testFixture(t *testing.T) Snapshot {
	t.Helper()
	b, err := blob.Open(t.TempDir(), 0)
	require.NoError(t, err)
	dirTrie, err := trie.New(b, 2, 0)
	require.NoError(t, err)
	cacheTrie, err := trie.New(b, 2, 0)
	require.NoError(t, err)

	snap, err := snapshot.Open(t.TempDir(), dirTrie)
	require.NoError(t, err)
	idx := cache.New(cacheTrie, cache.NewInterner())

	state := snap.Empty()
	cacheRoot := idx.Empty()

	items := map[string][]item.PropertyType{
		"k1": {propA},
		"k2": {propA, propB},
		"k3": {propA, propB},
		"k4": {propB},
	}
	store := map[string][]item.PropertyType{}
	for k, pts := range items {
		h, err := b.Put([]byte(k))
		require.NoError(t, err)
		state, err = snap.Put(state, k, h)
		require.NoError(t, err)
		for _, pt := range pts {
			cacheRoot, err = idx.Add(cacheRoot, item.PropertyCacheKey(pt, "v").String(), k)
			require.NoError(t, err)
		}
		store[k] = pts
	}
	cacheRoot, err = idx.Add(cacheRoot, item.ReferenceCacheKey(refDep, "k1").String(), "k2")
	require.NoError(t, err)
	cacheRoot, err = idx.Add(cacheRoot, item.ReferenceCacheKey(item.RefTypeAny, "k1").String(), "k2")
	require.NoError(t, err)

	load := func(id item.Key) (item.Item, bool, error) {
		_, ok, err := snap.Lookup(state, id)
		if err != nil || !ok {
			return nil, ok, err
		}
		return fixtureItem{key: id, deps: depsFor(id)}, true, nil
	}

	return Snapshot{Snap: snap, Cache: idx, State: state, CacheRoot: cacheRoot, Load: load}
}

func depsFor(id string) []item.Key {
	if id == "k2" {
		return []item.Key{"k1"}
	}
	return nil
}

type fixtureItem struct {
	key  item.Key
	deps []item.Key
}

func (f fixtureItem) ID() item.Key                       { return f.key }
func (f fixtureItem) Apply(item.Modifier) (item.Item, error) { return f, nil }
func (f fixtureItem) Validate(item.ReadView) error        { return nil }
func (f fixtureItem) PropertiesCache(item.ReadView) []item.PropertyCache { return nil }
func (f fixtureItem) RefCache() []item.ItemReference {
	out := make([]item.ItemReference, 0, len(f.deps))
	for _, d := range f.deps {
		out = append(out, item.ItemReference{RefType: refDep, Target: d})
	}
	return out
}

func TestEvalAll(t *testing.T) {
	s := testFixture(t)
	res, err := Eval(s, All())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"k1", "k2", "k3", "k4"}, res.ToSlice())
}

func TestEvalItem(t *testing.T) {
	s := testFixture(t)
	res, err := Eval(s, Item("k1"))
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, res.ToSlice())

	res, err = Eval(s, Item("ghost"))
	require.NoError(t, err)
	require.Empty(t, res.ToSlice())
}

// Scenario 6 (spec §8): set algebra over overlapping properties.
func TestEvalSetAlgebra(t *testing.T) {
	s := testFixture(t)
	a := Property(item.PropertyCache{Type: propA, Value: "v"})
	b := Property(item.PropertyCache{Type: propB, Value: "v"})

	inter, err := Eval(s, Intersection(a, b))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"k2", "k3"}, inter.ToSlice())

	diff, err := Eval(s, Difference(a, b))
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, diff.ToSlice())

	union, err := Eval(s, Union(a, b))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"k1", "k2", "k3", "k4"}, union.ToSlice())

	comp, err := Eval(s, Complement(a))
	require.NoError(t, err)
	require.Equal(t, []string{"k4"}, comp.ToSlice())
}

func TestEvalReference(t *testing.T) {
	s := testFixture(t)

	// k2 depends_on k1: forward reference from k2.
	fwd, err := Eval(s, Reference(Item("k2"), refDep, false, false, false))
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, fwd.ToSlice())

	// reversed: who depends on k1.
	rev, err := Eval(s, Reference(Item("k1"), refDep, true, false, false))
	require.NoError(t, err)
	require.Equal(t, []string{"k2"}, rev.ToSlice())

	// includeSelf unions the seed back in.
	withSelf, err := Eval(s, Reference(Item("k2"), refDep, false, false, true))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"k1", "k2"}, withSelf.ToSlice())
}
