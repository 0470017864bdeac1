package engine

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerwatch/ledgerstore/internal/roothash"
	"github.com/ledgerwatch/ledgerstore/metrics"
)

// gcState tracks the current garbage-collection window (spec §4.8): the
// ledger index of the last anchor snapshot processed, and the hash of
// every blob written since then — the additions log spec §6 describes
// as snaprefs/<hash>-<index>.
//
// The additions log is kept in memory only (not replayed across a
// restart): a blob written just before a crash and never recorded here
// again simply never becomes eligible for this window's collection.
// That is the safe direction to err in — GC only ever deletes a blob it
// can positively place in the additions log, so an unrecorded addition
// is merely retained longer than strictly necessary, never dropped out
// from under a live snapshot.
type gcState struct {
	dir         string
	keep        int
	anchorIndex int
	additions   []roothash.Hash
}

func newGCState(dir string, keep int) (*gcState, error) {
	g := &gcState{dir: filepath.Join(dir, "snaprefs"), keep: keep}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", g.dir, err)
	}
	idx, err := readAnchorIndex(g.dir)
	if err != nil {
		return nil, err
	}
	g.anchorIndex = idx
	return g, nil
}

// recordAdditions appends newly-touched blob hashes to the current
// window's in-memory additions log.
func (g *gcState) recordAdditions(hashes ...roothash.Hash) {
	g.additions = append(g.additions, hashes...)
}

const anchorIndexFile = "anchor_index"

func readAnchorIndex(dir string) (int, error) {
	data, err := ioutil.ReadFile(filepath.Join(dir, anchorIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("engine: read gc anchor index: %w", err)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("engine: parse gc anchor index: %w", err)
	}
	return idx, nil
}

func (g *gcState) writeAnchorIndex(idx int) error {
	p := filepath.Join(g.dir, anchorIndexFile)
	tmp, err := ioutil.TempFile(g.dir, "anchor-*.tmp")
	if err != nil {
		return fmt.Errorf("engine: write gc anchor index: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(strconv.Itoa(idx)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// maybeGC runs a garbage collection pass once the ledger has accumulated
// a full gc_keep-sized window since the last anchor (spec §4.8).
// gc.anchorIndex counts *applied events*, not a ledger Index field: an
// anchor snapshot is the state after gc.anchorIndex events, matching
// spec §8 scenario 4's "anchor snapshots are at indices {0, 10, 20}"
// (the empty store counts as anchor 0).
func (e *Engine) maybeGC() error {
	windowEnd := e.gc.anchorIndex + e.gc.keep
	if e.ldg.Len() < windowEnd {
		return nil
	}
	if err := e.runGC(windowEnd); err != nil {
		return err
	}
	e.gc.anchorIndex = windowEnd
	e.gc.additions = nil
	return e.gc.writeAnchorIndex(windowEnd)
}

// stateAtCount returns the StateHash after count events have been
// applied: the empty state if count is 0, otherwise the state recorded
// for the ledger entry at (0-based) index count-1.
func (e *Engine) stateAtCount(count int) (roothash.Hash, error) {
	if count == 0 {
		return e.snap.Empty(), nil
	}
	entry := e.ldg.At(count - 1)
	state, ok, err := e.snap.AppliedStateFor(entry.Hash())
	if err != nil {
		return roothash.Hash{}, err
	}
	if !ok {
		return roothash.Hash{}, fmt.Errorf("engine: gc: no recorded state after %d events", count)
	}
	return state, nil
}

// runGC implements spec §4.8's procedure for the window
// [gc.anchorIndex, windowEnd]: every blob touched in that window
// (gc.additions) that is unreachable from both the window's start and
// end anchor snapshots is deleted, and the ledger_hash -> state_hash
// mapping for every intermediate snapshot in the window is removed.
// Anchor snapshots (the window's own start and end) are always
// preserved.
func (e *Engine) runGC(windowEnd int) error {
	beforeState, err := e.stateAtCount(e.gc.anchorIndex)
	if err != nil {
		return err
	}
	afterState, err := e.stateAtCount(windowEnd)
	if err != nil {
		return err
	}

	// The two anchors' reachable sets don't depend on each other, so they
	// are computed concurrently and merged — the only place in the store
	// where two independent read-only trie walks run side by side.
	before := map[roothash.Hash]struct{}{}
	after := map[roothash.Hash]struct{}{}
	var g errgroup.Group
	g.Go(func() error { return e.protect(before, beforeState) })
	g.Go(func() error { return e.protect(after, afterState) })
	if err := g.Wait(); err != nil {
		return err
	}
	reachable := before
	for h := range after {
		reachable[h] = struct{}{}
	}

	reclaimed := 0
	for _, h := range e.gc.additions {
		if _, ok := reachable[h]; ok {
			continue
		}
		if err := e.blobs.Delete(h); err != nil {
			return fmt.Errorf("engine: gc: delete blob %s: %w", h, err)
		}
		reclaimed++
	}

	// Intermediate applied-state records: events with 0-based ledger
	// index in [anchorIndex, windowEnd-2] produced the intermediate
	// snapshots between the two anchors (event count anchorIndex+1
	// produced the first intermediate snapshot, event count
	// windowEnd-1 the last).
	for i := e.gc.anchorIndex; i < windowEnd-1; i++ {
		entry := e.ldg.At(i)
		if err := e.snap.DeleteApplied(entry.Hash()); err != nil {
			return fmt.Errorf("engine: gc: forget intermediate state at ledger index %d: %w", i, err)
		}
	}

	metrics.GCRuns.Inc()
	metrics.GCBlobsReclaimed.Add(float64(reclaimed))
	logger.Info("garbage collection pass complete", "window_start", e.gc.anchorIndex, "window_end", windowEnd, "blobs_reclaimed", reclaimed)
	return nil
}

// protect adds every directory-trie node, every item blob it points to,
// and every reachable cache-trie node for state's associated cache
// snapshot, to reachable.
func (e *Engine) protect(reachable map[roothash.Hash]struct{}, state roothash.Hash) error {
	if err := e.snap.ReachableNodes(state, reachable); err != nil {
		return err
	}
	paths, err := e.snap.AllPaths(state)
	if err != nil {
		return err
	}
	for _, h := range paths {
		reachable[h] = struct{}{}
	}

	cacheHash, ok, err := e.cacheMap.Lookup(state)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := e.cacheTrie.ReachableNodes(cacheHash, reachable); err != nil {
		return err
	}
	return nil
}
