// Package engine orchestrates the abstract item engine (spec §4.5):
// applying an event means decoding its modifier, computing the item's
// pre- and post-mutation caches, validating the result (and every
// transitively affected dependent) against a tentative Override view,
// and only then persisting the new snapshot, cache, and ledger entry
// together. It also drives replay (§4.6) and garbage collection (§4.8).
package engine

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ledgerwatch/ledgerstore/blob"
	"github.com/ledgerwatch/ledgerstore/cache"
	"github.com/ledgerwatch/ledgerstore/internal/roothash"
	"github.com/ledgerwatch/ledgerstore/item"
	"github.com/ledgerwatch/ledgerstore/ledger"
	"github.com/ledgerwatch/ledgerstore/log"
	"github.com/ledgerwatch/ledgerstore/metrics"
	"github.com/ledgerwatch/ledgerstore/snapshot"
	"github.com/ledgerwatch/ledgerstore/trie"
)

var logger = log.New("component", "engine")

// Engine is the concrete, stateful store: one ledger, one snapshot
// store, one reverse-index cache, all sharing one blob pool, guarded by
// a single mutex (spec §5: writers are serialized). Apply holds the
// mutex for its whole run, and Load, State, CacheState and the read
// methods take it to pin the current StateHash, so they wait for an
// Apply in progress; once pinned, a read takes no lock.
type Engine struct {
	mu sync.Mutex

	dir      string
	cfg      Config
	registry *item.Registry

	blobs     *blob.Store
	dirTrie   *trie.Trie
	cacheTrie *trie.Trie
	snap      *snapshot.Store
	idx       *cache.Index
	interner  *cache.Interner
	cacheMap  *cache.StateMap
	ldg       *ledger.Ledger

	state      roothash.Hash // current applied StateHash
	cacheState roothash.Hash // current cache root

	gc *gcState
}

// New opens (or creates) an engine rooted at dir for the item types
// registered in registry, replaying its ledger to the current state.
func New(dir string, registry *item.Registry, cfg Config) (*Engine, error) {
	cfg = cfg.normalized()
	if cfg.ReadCacheSize != "" {
		mb, err := ParseReadCacheSize(cfg.ReadCacheSize)
		if err != nil {
			return nil, fmt.Errorf("engine: parse read cache size %q: %w", cfg.ReadCacheSize, err)
		}
		cfg.ReadCacheMB = mb
	}

	blobs, err := blob.Open(filepath.Join(dir, "blobs"), cfg.ReadCacheMB)
	if err != nil {
		return nil, err
	}
	dirTrie, err := trie.New(blobs, cfg.TrieFanoutDepth, 4096)
	if err != nil {
		return nil, err
	}
	cacheTrie, err := trie.New(blobs, cfg.TrieFanoutDepth, 4096)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.Open(dir, dirTrie)
	if err != nil {
		return nil, err
	}
	interner, err := cache.LoadInterner(dir)
	if err != nil {
		return nil, err
	}
	idx := cache.New(cacheTrie, interner)
	cacheMap, err := cache.OpenStateMap(dir)
	if err != nil {
		return nil, err
	}
	ldg, err := ledger.Open(dir)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:       dir,
		cfg:       cfg,
		registry:  registry,
		blobs:     blobs,
		dirTrie:   dirTrie,
		cacheTrie: cacheTrie,
		snap:      snap,
		idx:       idx,
		interner:  interner,
		cacheMap:  cacheMap,
		ldg:       ldg,
		state:     snap.Empty(),
	}
	e.cacheState = idx.Empty()
	e.gc, err = newGCState(dir, cfg.GCKeep)
	if err != nil {
		return nil, err
	}

	if err := e.replay(); err != nil {
		return nil, err
	}
	return e, nil
}

// State returns the engine's current StateHash, stable to read against
// until the next successful Apply.
func (e *Engine) State() roothash.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CacheState returns the engine's current cache root.
func (e *Engine) CacheState() roothash.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cacheState
}

// normalLoader returns a StaticLoader reading through state via snap and
// blobs, decoding with registry.
func (e *Engine) normalLoader(state roothash.Hash) item.StaticLoader {
	return func(id item.Key) (item.Item, bool, error) {
		blobHash, ok, err := e.snap.Lookup(state, id)
		if err != nil || !ok {
			return nil, ok, err
		}
		data, err := e.blobs.Get(blobHash)
		if err != nil {
			return nil, false, item.Wrap(item.KindIOError, fmt.Sprintf("load blob for %q", id), err)
		}
		var stored storedItem
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, false, item.Wrap(item.KindBadAnswer, fmt.Sprintf("decode stored item %q", id), err)
		}
		f, err := e.registry.Factory(stored.TypeTag)
		if err != nil {
			return nil, false, err
		}
		it, err := f.Decode(stored.Data)
		if err != nil {
			return nil, false, item.Wrap(item.KindBadAnswer, fmt.Sprintf("decode item %q", id), err)
		}
		return it, true, nil
	}
}

type storedItem struct {
	TypeTag string          `json:"type_tag"`
	Data    json.RawMessage `json:"data"`
}

// Load reads item id as of the engine's current state.
func (e *Engine) Load(id item.Key) (item.Item, bool, error) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	return e.normalLoader(state)(id)
}

// storedBytes encodes it into this store's on-disk stored-item envelope
// for typeTag.
func (e *Engine) storedBytes(typeTag string, it item.Item) ([]byte, error) {
	f, err := e.registry.Factory(typeTag)
	if err != nil {
		return nil, err
	}
	data, err := f.Encode(it)
	if err != nil {
		return nil, item.Wrap(item.KindBadAnswer, fmt.Sprintf("encode item %q", it.ID()), err)
	}
	return json.Marshal(storedItem{TypeTag: typeTag, Data: data})
}

// Apply decodes and applies one event against id's current item (or a
// fresh default instance if id is new), validating the result — and
// every item transitively dependent on it — before persisting anything.
// This is spec §4.5's full pipeline.
func (e *Engine) Apply(typeTag string, id item.Key, modifierData json.RawMessage) (roothash.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.registry.Factory(typeTag)
	if err != nil {
		return roothash.Hash{}, err
	}
	mod, err := f.DecodeModifier(modifierData)
	if err != nil {
		return roothash.Hash{}, item.Wrap(item.KindBadAnswer, "decode modifier", err)
	}

	loader := e.normalLoader(e.state)
	baseView := &item.NormalView{Loader: loader}
	oldItem, existed, err := loader(id)
	if err != nil {
		return roothash.Hash{}, err
	}
	if !existed {
		oldItem = f.Default(id)
	}
	var oldCaches mapset.Set[string]
	if existed {
		oldCaches = cacheKeySet(item.Caches(oldItem, baseView))
	} else {
		oldCaches = mapset.NewThreadUnsafeSet[string]()
	}

	newItem, err := oldItem.Apply(mod)
	if err != nil {
		return roothash.Hash{}, item.Wrap(item.KindInvariant, fmt.Sprintf("apply event to %q", id), err)
	}

	view := item.NewOverrideView(baseView)
	view.Set(id, newItem)

	if path, err := detectCycle(view, id); err != nil {
		return roothash.Hash{}, err
	} else if path != nil {
		return roothash.Hash{}, item.New(item.KindCycle, fmt.Sprintf("applying event to %q would create a reference cycle", id)).WithPath(path)
	}

	if err := newItem.Validate(view); err != nil {
		return roothash.Hash{}, item.Wrap(item.KindInvariant, fmt.Sprintf("validate %q", id), err)
	}

	if err := e.validateTransitiveDependents(view, id); err != nil {
		return roothash.Hash{}, err
	}

	// Everything validated against the tentative view; persist for real.
	data, err := e.storedBytes(typeTag, newItem)
	if err != nil {
		return roothash.Hash{}, err
	}
	blobHash, err := e.blobs.Put(data)
	if err != nil {
		return roothash.Hash{}, item.Wrap(item.KindIOError, "store item blob", err)
	}
	e.gc.recordAdditions(blobHash)

	newState, touched, err := e.snap.PutTracked(e.state, id, blobHash)
	if err != nil {
		return roothash.Hash{}, item.Wrap(item.KindIOError, "update snapshot", err)
	}
	e.gc.recordAdditions(touched...)

	newCaches := cacheKeySet(item.Caches(newItem, view))
	newCacheState, err := e.updateCache(newState, id, oldCaches, newCaches)
	if err != nil {
		return roothash.Hash{}, err
	}

	entry, err := e.ldg.Append(typeTag, id, modifierData)
	if err != nil {
		return roothash.Hash{}, item.Wrap(item.KindIOError, "append ledger entry", err)
	}
	if err := e.snap.RecordApplied(entry.Hash(), newState); err != nil {
		return roothash.Hash{}, item.Wrap(item.KindIOError, "record applied state", err)
	}
	if err := e.cacheMap.Record(newState, newCacheState); err != nil {
		return roothash.Hash{}, item.Wrap(item.KindIOError, "record cache state map", err)
	}

	if e.interner.Dirty() {
		if err := e.interner.SaveTo(e.dir); err != nil {
			return roothash.Hash{}, item.Wrap(item.KindIOError, "persist interner", err)
		}
	}

	e.state = newState
	e.cacheState = newCacheState
	logger.Info("applied event", "target", id, "type", typeTag, "state", newState)

	if err := e.maybeGC(); err != nil {
		return newState, item.Wrap(item.KindIOError, "garbage collection", err)
	}
	return newState, nil
}

func cacheKeySet(keys []item.CacheKey) mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	for _, k := range keys {
		out.Add(k.String())
	}
	return out
}

// updateCache returns the cache root for state, the snapshot the event
// just produced. CacheModeRebuild rebuilds it in full; otherwise id's own
// cache-key diff is applied incrementally, and CacheModeAuto then also
// rebuilds in full when the ledger (before this event's append) holds a
// nonzero multiple of incrementalThreshold entries.
func (e *Engine) updateCache(state roothash.Hash, id item.Key, oldCaches, newCaches mapset.Set[string]) (roothash.Hash, error) {
	if e.cfg.CacheMode == CacheModeRebuild {
		return e.rebuildCacheAt(state)
	}

	newState, err := e.diffCache(e.cacheState, id, oldCaches, newCaches)
	if err != nil {
		return roothash.Hash{}, err
	}
	metrics.CacheIncrementalUpdates.Inc()

	if e.cfg.CacheMode == CacheModeAuto && e.ldg.Len() > 0 && e.ldg.Len()%incrementalThreshold == 0 {
		return e.rebuildCacheAt(state)
	}
	return newState, nil
}

// diffCache applies the per-item cache-key difference directly (string
// keys, since cache.Index.Diff works over mapset.Set[string] cache-key
// strings, not item ids).
func (e *Engine) diffCache(root roothash.Hash, id item.Key, before, after mapset.Set[string]) (roothash.Hash, error) {
	root, touched, err := e.idx.DiffTracked(root, id, before, after)
	if err != nil {
		return roothash.Hash{}, item.Wrap(item.KindIOError, "update reverse-index cache", err)
	}
	e.gc.recordAdditions(touched...)
	return root, nil
}


// rebuildCache fully recomputes the reverse-index cache by enumerating
// every live item in the current snapshot and its caches() output — the
// full-rebuild path of spec §4.7.
func (e *Engine) rebuildCache() (roothash.Hash, error) {
	return e.rebuildCacheAt(e.state)
}

// rebuildCacheAt is rebuildCache for an explicit snapshot state.
func (e *Engine) rebuildCacheAt(state roothash.Hash) (roothash.Hash, error) {
	paths, err := e.snap.AllPaths(state)
	if err != nil {
		return roothash.Hash{}, err
	}
	loader := e.normalLoader(state)
	view := &item.NormalView{Loader: loader}
	entries := make(map[string]mapset.Set[string], len(paths))
	for id := range paths {
		it, ok, err := loader(id)
		if err != nil {
			return roothash.Hash{}, err
		}
		if !ok {
			continue
		}
		entries[id] = cacheKeySet(item.Caches(it, view))
	}
	root, err := e.idx.Rebuild(entries)
	if err != nil {
		return roothash.Hash{}, err
	}
	metrics.CacheRebuilds.Inc()
	logger.Debug("rebuilt reverse-index cache", "items", len(entries))
	return root, nil
}

// validateTransitiveDependents re-validates every item transitively
// reachable as a dependent of id (anything that references id, directly
// or through another dependent) against view, so a mutation cannot
// silently invalidate something downstream of it — spec §4.5.2, grounded
// on original_source's recursive_dependents / verify().
func (e *Engine) validateTransitiveDependents(view item.ReadView, id item.Key) error {
	seen := map[item.Key]bool{id: true}
	queue := []item.Key{id}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		dependents, err := e.idx.Members(e.cacheState, item.ReferenceCacheKey(item.RefTypeAny, cur).String())
		if err != nil {
			return item.Wrap(item.KindIOError, "load dependents cache", err)
		}
		for dep := range dependents.Iter() {
			if seen[dep] {
				continue
			}
			seen[dep] = true

			it, ok, err := view.Load(dep)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := it.Validate(view); err != nil {
				return item.Wrap(item.KindInvariant, fmt.Sprintf("dependent %q no longer valid", dep), err)
			}
			queue = append(queue, dep)
		}
	}
	return nil
}
