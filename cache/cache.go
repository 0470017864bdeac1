// Package cache implements the reverse-index cache (spec §4.7): a
// CacheKey -> Set<item key> index stored as a trie.Trie whose leaves are
// serialized Roaring bitmaps over interned integer item ids, adapted
// from ethdb/bitmapdb/dbutils.go's roaring.New/Write/Read idiom and
// eth/stagedsync/stage_log_index.go's map[string]*bitmap accumulation
// pattern — generalized here from per-block log topics/addresses to
// arbitrary cache keys over arbitrary items.
package cache

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ledgerwatch/ledgerstore/internal/roothash"
	"github.com/ledgerwatch/ledgerstore/trie"
)

// Index reads and writes reverse-index cache tries.
type Index struct {
	trie     *trie.Trie
	interner *Interner
}

// New returns an Index backed by t, using in to map item keys to the
// small integers Roaring bitmaps need.
func New(t *trie.Trie, in *Interner) *Index {
	return &Index{trie: t, interner: in}
}

// Empty returns the hash of the empty cache trie.
func (idx *Index) Empty() roothash.Hash {
	return idx.trie.Empty()
}

func (idx *Index) bitmapAt(root roothash.Hash, cacheKey string) (*roaring.Bitmap, error) {
	data, ok, err := idx.trie.Get(root, cacheKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return roaring.New(), nil
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("cache: decode bitmap for %q: %w", cacheKey, err)
	}
	return bm, nil
}

func (idx *Index) putBitmap(root roothash.Hash, cacheKey string, bm *roaring.Bitmap) (roothash.Hash, []roothash.Hash, error) {
	if bm.IsEmpty() {
		return idx.trie.DeleteTracked(root, cacheKey)
	}
	bm.RunOptimize()
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return roothash.Hash{}, nil, fmt.Errorf("cache: encode bitmap for %q: %w", cacheKey, err)
	}
	return idx.trie.PutTracked(root, cacheKey, buf.Bytes())
}

// Add records that itemKey belongs to cacheKey's set, returning the
// updated root.
func (idx *Index) Add(root roothash.Hash, cacheKey, itemKey string) (roothash.Hash, error) {
	newRoot, _, err := idx.AddTracked(root, cacheKey, itemKey)
	return newRoot, err
}

// AddTracked behaves like Add but additionally returns the hash of
// every cache-trie node blob written, for garbage collection's
// additions log (spec §4.8).
func (idx *Index) AddTracked(root roothash.Hash, cacheKey, itemKey string) (roothash.Hash, []roothash.Hash, error) {
	bm, err := idx.bitmapAt(root, cacheKey)
	if err != nil {
		return roothash.Hash{}, nil, err
	}
	bm.Add(idx.interner.Intern(itemKey))
	return idx.putBitmap(root, cacheKey, bm)
}

// Remove records that itemKey no longer belongs to cacheKey's set,
// returning the updated root. A no-op if itemKey was never interned or
// was never a member.
func (idx *Index) Remove(root roothash.Hash, cacheKey, itemKey string) (roothash.Hash, error) {
	newRoot, _, err := idx.RemoveTracked(root, cacheKey, itemKey)
	return newRoot, err
}

// RemoveTracked behaves like Remove but additionally returns the hash
// of every cache-trie node blob written.
func (idx *Index) RemoveTracked(root roothash.Hash, cacheKey, itemKey string) (roothash.Hash, []roothash.Hash, error) {
	id, ok := idx.interner.TryIntern(itemKey)
	if !ok {
		return root, nil, nil
	}
	bm, err := idx.bitmapAt(root, cacheKey)
	if err != nil {
		return roothash.Hash{}, nil, err
	}
	bm.Remove(id)
	return idx.putBitmap(root, cacheKey, bm)
}

// Members returns the set of item keys recorded under cacheKey.
func (idx *Index) Members(root roothash.Hash, cacheKey string) (mapset.Set[string], error) {
	bm, err := idx.bitmapAt(root, cacheKey)
	if err != nil {
		return nil, err
	}
	out := mapset.NewThreadUnsafeSet[string]()
	it := bm.Iterator()
	for it.HasNext() {
		id := it.Next()
		key, ok := idx.interner.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("cache: bitmap for %q references unknown id %d", cacheKey, id)
		}
		out.Add(key)
	}
	return out, nil
}

// Diff applies the difference between an item's previous and new cache
// key sets to root: keys present only in before get itemKey removed, keys
// present only in after get itemKey added. This is the incremental path
// of spec §4.7 ("update the reverse-index incrementally by diffing the
// item's old and new caches() output").
func (idx *Index) Diff(root roothash.Hash, itemKey string, before, after mapset.Set[string]) (roothash.Hash, error) {
	newRoot, _, err := idx.DiffTracked(root, itemKey, before, after)
	return newRoot, err
}

// DiffTracked behaves like Diff but additionally returns the hash of
// every cache-trie node blob written.
func (idx *Index) DiffTracked(root roothash.Hash, itemKey string, before, after mapset.Set[string]) (roothash.Hash, []roothash.Hash, error) {
	var touched []roothash.Hash
	var err error
	var t []roothash.Hash
	removed := before.Difference(after)
	for ck := range removed.Iter() {
		root, t, err = idx.RemoveTracked(root, ck, itemKey)
		if err != nil {
			return roothash.Hash{}, nil, err
		}
		touched = append(touched, t...)
	}
	added := after.Difference(before)
	for ck := range added.Iter() {
		root, t, err = idx.AddTracked(root, ck, itemKey)
		if err != nil {
			return roothash.Hash{}, nil, err
		}
		touched = append(touched, t...)
	}
	return root, touched, nil
}

// Rebuild constructs a cache trie from scratch given, for every live
// item, the full set of cache keys it currently belongs to — the full
// rebuild path of spec §4.7. The engine uses it on replay when any entry
// was re-applied or no cache hash is recorded for the current state, on
// every event under CacheModeRebuild, and periodically under
// CacheModeAuto (see engine.incrementalThreshold).
func (idx *Index) Rebuild(entries map[string]mapset.Set[string]) (roothash.Hash, error) {
	root := idx.trie.Empty()
	var err error
	for itemKey, cacheKeys := range entries {
		for ck := range cacheKeys.Iter() {
			root, err = idx.Add(root, ck, itemKey)
			if err != nil {
				return roothash.Hash{}, err
			}
		}
	}
	return root, nil
}
