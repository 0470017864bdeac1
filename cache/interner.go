package cache

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
)

// Interner assigns small, monotonically increasing, never-reused integer
// ids to item keys, so that membership sets can be packed into Roaring
// bitmaps (spec Open Question on cache shape: ids are never recycled,
// even after every reference to one is GC'd, so a stale bitmap bit can
// never be silently reinterpreted as a different, later item).
type Interner struct {
	mu     sync.RWMutex
	byKey  map[string]uint32
	byID   map[uint32]string
	nextID uint32
	dirty  bool
}

// NewInterner returns an empty Interner.
func NewInterner() *Interner {
	return &Interner{
		byKey: map[string]uint32{},
		byID:  map[uint32]string{},
	}
}

// Intern returns the id for key, allocating a new one if key is unseen.
func (in *Interner) Intern(key string) uint32 {
	in.mu.RLock()
	if id, ok := in.byKey[key]; ok {
		in.mu.RUnlock()
		return id
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.byKey[key]; ok {
		return id
	}
	id := in.nextID
	in.nextID++
	in.byKey[key] = id
	in.byID[id] = key
	in.dirty = true
	return id
}

// Dirty reports whether any id has been allocated since the last
// successful SaveTo.
func (in *Interner) Dirty() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.dirty
}

// Lookup returns the key for id, if interned.
func (in *Interner) Lookup(id uint32) (string, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	k, ok := in.byID[id]
	return k, ok
}

// TryIntern returns the id for key without allocating one.
func (in *Interner) TryIntern(key string) (uint32, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	id, ok := in.byKey[key]
	return id, ok
}

type internerSnapshot struct {
	NextID uint32            `json:"next_id"`
	ByKey  map[string]uint32 `json:"by_key"`
}

// Marshal serializes the interner's full table for persistence as a
// single JSON file (see SaveTo).
func (in *Interner) Marshal() ([]byte, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	snap := internerSnapshot{NextID: in.nextID, ByKey: in.byKey}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("cache: marshal interner: %w", err)
	}
	return data, nil
}

// UnmarshalInterner rebuilds an Interner from bytes produced by Marshal.
func UnmarshalInterner(data []byte) (*Interner, error) {
	var snap internerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("cache: unmarshal interner: %w", err)
	}
	in := &Interner{
		byKey:  snap.ByKey,
		byID:   make(map[uint32]string, len(snap.ByKey)),
		nextID: snap.NextID,
	}
	for k, id := range in.byKey {
		in.byID[id] = k
	}
	return in, nil
}

const internerFileName = "interner.json"

// SaveTo persists in's table as a single JSON file under dir/cache
// (spec §3.4's "persisted as a single JSON blob... loaded once at
// engine.New"), written via temp-file-then-rename so a crash mid-write
// never corrupts the previously saved table. Clears Dirty on success.
func (in *Interner) SaveTo(dir string) error {
	data, err := in.Marshal()
	if err != nil {
		return err
	}
	mapDir := filepath.Join(dir, "cache")
	if err := os.MkdirAll(mapDir, 0o755); err != nil {
		return fmt.Errorf("cache: open %s: %w", mapDir, err)
	}
	tmp, err := ioutil.TempFile(mapDir, "interner-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: save interner: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write interner: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(mapDir, internerFileName)); err != nil {
		return fmt.Errorf("cache: save interner: %w", err)
	}
	in.mu.Lock()
	in.dirty = false
	in.mu.Unlock()
	return nil
}

// LoadInterner loads the table persisted by SaveTo under dir, or returns
// a fresh empty Interner if none was ever saved there (a brand-new
// store).
func LoadInterner(dir string) (*Interner, error) {
	data, err := ioutil.ReadFile(filepath.Join(dir, "cache", internerFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return NewInterner(), nil
		}
		return nil, fmt.Errorf("cache: load interner: %w", err)
	}
	return UnmarshalInterner(data)
}
