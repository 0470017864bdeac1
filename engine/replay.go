package engine

import (
	"fmt"

	"github.com/ledgerwatch/ledgerstore/item"
	"github.com/ledgerwatch/ledgerstore/ledger"
)

// replay walks the ledger from the beginning, skipping straight past any
// prefix whose resulting StateHash is already recorded (spec §4.6: "only
// the unapplied suffix need be replayed"), and re-running the full
// validation pipeline for anything not yet recorded — e.g. because the
// process crashed after appending an entry but before recording its
// resulting state. Re-applied entries do not update the reverse-index
// cache, so when any entry was re-applied replay finishes with a single
// full rebuild rather than replaying cache state incrementally.
func (e *Engine) replay() error {
	entries := e.ldg.All()
	applied := 0
	replayed := 0
	for _, entry := range entries {
		known, ok, err := e.snap.AppliedStateFor(entry.Hash())
		if err != nil {
			return err
		}
		if ok {
			e.state = known
			applied++
			continue
		}
		if err := e.replayEntry(entry); err != nil {
			return fmt.Errorf("engine: replay entry %d: %w", entry.Index, err)
		}
		applied++
		replayed++
	}
	logger.Info("replayed ledger", "entries", applied, "replayed", replayed, "state", e.state)

	// Nothing new was replayed: the cache state this session would
	// rebuild is the very one the previous session already computed and
	// recorded for e.state, so reuse it instead of re-interning every
	// live item's key through map iteration — a fresh re-rebuild here
	// would reassign interned ids in a different order and produce a
	// different (but equally valid) CacheHash, stranding the previous
	// session's cache-trie blobs as unreachable from this session's GC.
	if replayed == 0 {
		if cacheHash, ok, err := e.cacheMap.Lookup(e.state); err != nil {
			return err
		} else if ok {
			e.cacheState = cacheHash
			return e.maybeGC()
		}
	}

	root, err := e.rebuildCache()
	if err != nil {
		return err
	}
	e.cacheState = root
	if err := e.cacheMap.Record(e.state, e.cacheState); err != nil {
		return err
	}
	if e.interner.Dirty() {
		if err := e.interner.SaveTo(e.dir); err != nil {
			return err
		}
	}

	return e.maybeGC()
}

// replayEntry re-applies a single ledger entry whose resulting state was
// never recorded, running Apply's cycle check and validation of the
// edited item (but not its transitive-dependent validation), and records
// the result so a future replay can skip it.
func (e *Engine) replayEntry(entry ledger.Entry) error {
	f, err := e.registry.Factory(entry.TypeTag)
	if err != nil {
		return err
	}
	mod, err := f.DecodeModifier(entry.Event)
	if err != nil {
		return item.Wrap(item.KindBadAnswer, "decode modifier during replay", err)
	}

	loader := e.normalLoader(e.state)
	oldItem, existed, err := loader(entry.TargetID)
	if err != nil {
		return err
	}
	if !existed {
		oldItem = f.Default(entry.TargetID)
	}

	newItem, err := oldItem.Apply(mod)
	if err != nil {
		return item.Wrap(item.KindInvariant, "apply event during replay", err)
	}

	view := item.NewOverrideView(&item.NormalView{Loader: loader})
	view.Set(entry.TargetID, newItem)
	if path, err := detectCycle(view, entry.TargetID); err != nil {
		return err
	} else if path != nil {
		return item.New(item.KindCycle, "replayed event would create a reference cycle").WithPath(path)
	}
	if err := newItem.Validate(view); err != nil {
		return item.Wrap(item.KindInvariant, "validate during replay", err)
	}

	data, err := e.storedBytes(entry.TypeTag, newItem)
	if err != nil {
		return err
	}
	blobHash, err := e.blobs.Put(data)
	if err != nil {
		return item.Wrap(item.KindIOError, "store item blob during replay", err)
	}
	newState, err := e.snap.Put(e.state, entry.TargetID, blobHash)
	if err != nil {
		return item.Wrap(item.KindIOError, "update snapshot during replay", err)
	}
	if err := e.snap.RecordApplied(entry.Hash(), newState); err != nil {
		return item.Wrap(item.KindIOError, "record applied state during replay", err)
	}
	e.state = newState
	return nil
}
