package cache

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/ledgerwatch/ledgerstore/internal/roothash"
)

// StateMap persists the 1:1 association between a directory-trie
// StateHash and the reverse-index cache's CacheHash live at that state
// (spec §3 "Cache snapshot: mirrors state snapshots 1:1 through a
// symlink-like mapping state_hash -> cache_hash"; spec §6
// cache/map/<state_hash>). A plain file holding the hex cache hash
// stands in for the symlink spec §6 describes as one portable choice.
type StateMap struct {
	dir string
}

// OpenStateMap opens (creating if necessary) a StateMap rooted at dir.
func OpenStateMap(dir string) (*StateMap, error) {
	mapDir := filepath.Join(dir, "cache", "map")
	if err := os.MkdirAll(mapDir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", mapDir, err)
	}
	return &StateMap{dir: mapDir}, nil
}

// Record associates state with cacheHash.
func (m *StateMap) Record(state, cacheHash roothash.Hash) error {
	p := filepath.Join(m.dir, state.String())
	tmp, err := ioutil.TempFile(m.dir, "cachemap-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: record state map for %s: %w", state, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(cacheHash.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write state map for %s: %w", state, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Lookup returns the CacheHash recorded for state, if any. Per spec
// §4.7 "Retrieval... Missing state-hash entries trigger a rebuild",
// callers treat ok=false as "rebuild the cache for this state".
func (m *StateMap) Lookup(state roothash.Hash) (roothash.Hash, bool, error) {
	data, err := ioutil.ReadFile(filepath.Join(m.dir, state.String()))
	if err != nil {
		if os.IsNotExist(err) {
			return roothash.Hash{}, false, nil
		}
		return roothash.Hash{}, false, fmt.Errorf("cache: read state map for %s: %w", state, err)
	}
	h, err := roothash.ParseHash(string(data))
	if err != nil {
		return roothash.Hash{}, false, fmt.Errorf("cache: decode state map for %s: %w", state, err)
	}
	return h, true, nil
}
