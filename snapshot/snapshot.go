// Package snapshot implements the snapshot store (spec §4.3): the map
// from a StateHash to the {item key -> blob hash} mapping live at that
// state, built on trie.Trie for structural sharing, plus the record of
// which ledger entry produced which StateHash used by replay (spec
// §4.6) to avoid reapplying entries whose result is already known.
//
// The "only replay the unapplied suffix" design is grounded on
// original_source/ledgerstore/src/lib.rs's state_hash/_state_hash/
// applied_status: scan the ledger backwards until an entry's resulting
// hash is already recorded, then only the entries after that point are
// unapplied.
package snapshot

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/ledgerwatch/ledgerstore/internal/roothash"
	"github.com/ledgerwatch/ledgerstore/trie"
)

// Store reads and writes the directory trie and the ledger-entry ->
// state-hash association.
type Store struct {
	trie      *trie.Trie
	statesDir string
}

// Open opens (creating if necessary) a snapshot store rooted at dir,
// backed by t for the directory trie itself.
func Open(dir string, t *trie.Trie) (*Store, error) {
	statesDir := filepath.Join(dir, "states")
	if err := os.MkdirAll(statesDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", statesDir, err)
	}
	return &Store{trie: t, statesDir: statesDir}, nil
}

// Empty returns the StateHash of the empty snapshot (no items).
func (s *Store) Empty() roothash.Hash {
	return s.trie.Empty()
}

// Lookup returns the blob hash stored for key in the snapshot state.
func (s *Store) Lookup(state roothash.Hash, key string) (roothash.Hash, bool, error) {
	data, ok, err := s.trie.Get(state, key)
	if err != nil || !ok {
		return roothash.Hash{}, ok, err
	}
	h, err := roothash.ParseHash(string(data))
	if err != nil {
		return roothash.Hash{}, false, fmt.Errorf("snapshot: decode entry for %q: %w", key, err)
	}
	return h, true, nil
}

// Put returns the StateHash obtained by setting key's blob hash to
// blobHash in state.
func (s *Store) Put(state roothash.Hash, key string, blobHash roothash.Hash) (roothash.Hash, error) {
	newState, _, err := s.PutTracked(state, key, blobHash)
	return newState, err
}

// PutTracked behaves like Put but additionally returns the hash of
// every directory-trie node blob written, for garbage collection's
// additions log (spec §4.8).
func (s *Store) PutTracked(state roothash.Hash, key string, blobHash roothash.Hash) (roothash.Hash, []roothash.Hash, error) {
	return s.trie.PutTracked(state, key, []byte(blobHash.String()))
}

// Delete returns the StateHash obtained by removing key from state.
func (s *Store) Delete(state roothash.Hash, key string) (roothash.Hash, error) {
	return s.trie.Delete(state, key)
}

// AllPaths returns every {key -> blob hash} pair live at state, used by
// garbage collection to compute the set of blobs still reachable from an
// anchor snapshot.
func (s *Store) AllPaths(state roothash.Hash) (map[string]roothash.Hash, error) {
	out := map[string]roothash.Hash{}
	err := s.trie.Walk(state, func(key string, value []byte) error {
		h, err := roothash.ParseHash(string(value))
		if err != nil {
			return fmt.Errorf("snapshot: decode entry for %q: %w", key, err)
		}
		out[key] = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReachableNodes returns every trie-node hash (not leaf value blobs)
// making up the snapshot rooted at state.
func (s *Store) ReachableNodes(state roothash.Hash, into map[roothash.Hash]struct{}) error {
	return s.trie.ReachableNodes(state, into)
}

// RecordApplied associates a ledger entry's hash with the StateHash it
// produced, written as a small file under states/ (spec §6 describes
// this as a symlink; a plain file holding the hex hash serves the same
// "cheap lookup, no data duplication" purpose without requiring the
// filesystem to support symlinks).
func (s *Store) RecordApplied(entryHash, state roothash.Hash) error {
	p := filepath.Join(s.statesDir, entryHash.String())
	tmp, err := ioutil.TempFile(s.statesDir, "state-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: record applied state for %s: %w", entryHash, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(state.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write applied state for %s: %w", entryHash, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// DeleteApplied removes the ledger-entry-hash -> StateHash association
// for entryHash, used by garbage collection to forget intermediate
// snapshots in a collected window (spec §4.8 step 4). It is a no-op if
// no mapping exists.
func (s *Store) DeleteApplied(entryHash roothash.Hash) error {
	if err := os.Remove(filepath.Join(s.statesDir, entryHash.String())); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: delete applied state for %s: %w", entryHash, err)
	}
	return nil
}

// AppliedStateFor returns the StateHash recorded for a ledger entry
// hash, if any.
func (s *Store) AppliedStateFor(entryHash roothash.Hash) (roothash.Hash, bool, error) {
	data, err := ioutil.ReadFile(filepath.Join(s.statesDir, entryHash.String()))
	if err != nil {
		if os.IsNotExist(err) {
			return roothash.Hash{}, false, nil
		}
		return roothash.Hash{}, false, fmt.Errorf("snapshot: read applied state for %s: %w", entryHash, err)
	}
	h, err := roothash.ParseHash(string(data))
	if err != nil {
		return roothash.Hash{}, false, fmt.Errorf("snapshot: decode applied state for %s: %w", entryHash, err)
	}
	return h, true, nil
}
