package engine

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ledgerwatch/ledgerstore/item"
	"github.com/ledgerwatch/ledgerstore/read"
)

// snapshot builds a read.Snapshot pinned to the engine's current state
// and cache root, so a caller's reads stay on one consistent pair of
// hashes for their entire duration even if a concurrent writer advances
// the engine afterward (spec §5's "no mixed-snapshot reads").
func (e *Engine) snapshot() read.Snapshot {
	e.mu.Lock()
	state, cacheRoot := e.state, e.cacheState
	e.mu.Unlock()
	return read.Snapshot{
		Snap:      e.snap,
		Cache:     e.idx,
		State:     state,
		CacheRoot: cacheRoot,
		Load:      e.normalLoader(state),
	}
}

// LoadAllIDs returns every item key live at the engine's current state
// (spec §4.9 load_all_ids).
func (e *Engine) LoadAllIDs() (mapset.Set[item.Key], error) {
	return read.Eval(e.snapshot(), read.All())
}

// GetProperty returns every item key exposing pc at the engine's current
// state (spec §4.9 get_property).
func (e *Engine) GetProperty(pc item.PropertyCache) (mapset.Set[item.Key], error) {
	return read.Eval(e.snapshot(), read.Property(pc))
}

// GetReferences returns id's dependencies (reversed=false) or dependents
// (reversed=true) of refType (or every RefType, if refType=="" or
// item.RefTypeAny), optionally expanded transitively (spec §4.9
// get_references).
func (e *Engine) GetReferences(id item.Key, refType item.RefType, reversed, recursive bool) (mapset.Set[item.Key], error) {
	expr := read.Reference(read.Item(id), refType, reversed, recursive, false)
	return read.Eval(e.snapshot(), expr)
}

// Eval evaluates a read.Expr against the engine's current state (spec
// §4.9 eval).
func (e *Engine) Eval(expr read.Expr) (mapset.Set[item.Key], error) {
	return read.Eval(e.snapshot(), expr)
}
