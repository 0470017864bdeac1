// Package ledger implements the append-only, hash-chained event log
// (spec §4.4). Each entry's hash commits to its predecessor's hash, so
// the whole history can be verified by walking it once; entries are
// written temp-file-then-rename the way this codebase's migrations are
// applied one at a time and tracked for idempotency
// (migrations/migrations.go), adapted here to hash-chaining instead of a
// name-based applied-set.
package ledger

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledgerwatch/ledgerstore/internal/roothash"
	"github.com/ledgerwatch/ledgerstore/log"
	"github.com/ledgerwatch/ledgerstore/metrics"
)

var logger = log.New("component", "ledger")

// Entry is a single event in the ledger: its own hash commits to
// Previous (the zero hash for the first entry), Index, and the raw event
// payload.
type Entry struct {
	Previous roothash.Hash   `json:"previous"`
	Index    uint64          `json:"index"`
	TypeTag  string          `json:"type_tag"`
	TargetID string          `json:"target_id"`
	Event    json.RawMessage `json:"event"`
}

// Hash returns H(previous || index || type_tag || target_id || event),
// mirroring original_source/ledgerstore's LedgerEntry::hash (hash of the
// event content chained with the predecessor's hash).
func (e Entry) Hash() roothash.Hash {
	idx := strconv.FormatUint(e.Index, 10)
	return roothash.SumAll(e.Previous[:], []byte(idx), []byte(e.TypeTag), []byte(e.TargetID), e.Event)
}

// Ledger is the on-disk append-only entry log rooted at dir/entries.
type Ledger struct {
	dir     string
	entries []Entry
}

// Open loads an existing ledger from dir (creating dir if absent) and
// verifies its hash chain, discarding any trailing entries whose chain
// cannot be verified (the partial-write crash recovery spec §4.4
// describes).
func Open(dir string) (*Ledger, error) {
	entriesDir := filepath.Join(dir, "entries")
	if err := os.MkdirAll(entriesDir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", entriesDir, err)
	}

	names, err := ioutil.ReadDir(entriesDir)
	if err != nil {
		return nil, fmt.Errorf("ledger: list %s: %w", entriesDir, err)
	}

	type indexed struct {
		idx  uint64
		name string
	}
	var files []indexed
	for _, fi := range names {
		if fi.IsDir() || strings.HasSuffix(fi.Name(), ".tmp") {
			continue
		}
		idx, err := strconv.ParseUint(fi.Name(), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, indexed{idx, fi.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].idx < files[j].idx })

	l := &Ledger{dir: dir}
	prev := roothash.Zero
	for _, f := range files {
		raw, err := ioutil.ReadFile(filepath.Join(entriesDir, f.name))
		if err != nil {
			logger.Warn("discarding unreadable ledger entry", "index", f.idx, "err", err)
			break
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.Warn("discarding undecodable ledger entry", "index", f.idx, "err", err)
			break
		}
		if e.Index != f.idx || e.Previous != prev {
			logger.Warn("discarding ledger entry with broken hash chain", "index", f.idx)
			metrics.LedgerEntriesDiscarded.Inc()
			break
		}
		l.entries = append(l.entries, e)
		prev = e.Hash()
	}
	return l, nil
}

// Len returns the number of verified entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// At returns the entry at index i.
func (l *Ledger) At(i int) Entry {
	return l.entries[i]
}

// All returns every verified entry, in order.
func (l *Ledger) All() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Tip returns the hash of the most recently appended entry, or the zero
// hash if the ledger is empty.
func (l *Ledger) Tip() roothash.Hash {
	if len(l.entries) == 0 {
		return roothash.Zero
	}
	return l.entries[len(l.entries)-1].Hash()
}

// Append writes a new entry chained to the current tip and returns it.
func (l *Ledger) Append(typeTag, targetID string, event json.RawMessage) (Entry, error) {
	e := Entry{
		Previous: l.Tip(),
		Index:    uint64(len(l.entries)),
		TypeTag:  typeTag,
		TargetID: targetID,
		Event:    event,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: marshal entry %d: %w", e.Index, err)
	}

	entriesDir := filepath.Join(l.dir, "entries")
	name := fmt.Sprintf("%020d", e.Index)
	tmp, err := ioutil.TempFile(entriesDir, "entry-*.tmp")
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: create temp for entry %d: %w", e.Index, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Entry{}, fmt.Errorf("ledger: write temp for entry %d: %w", e.Index, err)
	}
	if err := tmp.Close(); err != nil {
		return Entry{}, fmt.Errorf("ledger: close temp for entry %d: %w", e.Index, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(entriesDir, name)); err != nil {
		return Entry{}, fmt.Errorf("ledger: rename entry %d into place: %w", e.Index, err)
	}

	l.entries = append(l.entries, e)
	metrics.LedgerEntriesAppended.Inc()
	logger.Debug("appended ledger entry", "index", e.Index, "target", targetID)
	return e, nil
}
