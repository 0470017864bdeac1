// Package blob implements the content-addressed blob store: an
// append-only, immutable key-value layer where the key is always the
// BLAKE2b-256 hash of the value. Values are snappy-compressed on disk and
// served through a read-through fastcache, mirroring the per-concern
// *fastcache.Cache fields the teacher's state writer keeps.
package blob

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/golang/snappy"

	"github.com/ledgerwatch/ledgerstore/internal/roothash"
	"github.com/ledgerwatch/ledgerstore/log"
	"github.com/ledgerwatch/ledgerstore/metrics"
)

var logger = log.New("component", "blob")

// ShardDepth is how many one-hex-char directory levels are created under
// root before the blob file itself, which is named by the full hash,
// e.g. depth 2 stores hash "ab12.." at blobs/a/b/ab12...
const ShardDepth = 2

// Store is a filesystem-backed, content-addressed blob store.
type Store struct {
	root  string
	cache *fastcache.Cache
}

// Open opens (creating if necessary) a blob store rooted at dir. cacheMB
// is the size in megabytes of the read-through cache; 0 disables caching.
func Open(dir string, cacheMB int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: open %s: %w", dir, err)
	}
	s := &Store{root: dir}
	if cacheMB > 0 {
		s.cache = fastcache.New(cacheMB * 1024 * 1024)
	}
	return s, nil
}

func (s *Store) path(h roothash.Hash) string {
	parts := roothash.ShardPath(h, ShardDepth)
	parts[len(parts)-1] = h.String()
	return filepath.Join(append([]string{s.root}, parts...)...)
}

// Put writes data if it is not already present and returns its hash.
func (s *Store) Put(data []byte) (roothash.Hash, error) {
	h := roothash.Sum(data)
	if ok, _ := s.Exists(h); ok {
		return h, nil
	}

	p := s.path(h)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return h, fmt.Errorf("blob: mkdir for %s: %w", h, err)
	}

	tmp, err := ioutil.TempFile(filepath.Dir(p), "blob-*.tmp")
	if err != nil {
		return h, fmt.Errorf("blob: create temp for %s: %w", h, err)
	}
	defer os.Remove(tmp.Name())

	compressed := snappy.Encode(nil, data)
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		return h, fmt.Errorf("blob: write temp for %s: %w", h, err)
	}
	if err := tmp.Close(); err != nil {
		return h, fmt.Errorf("blob: close temp for %s: %w", h, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return h, fmt.Errorf("blob: rename into place for %s: %w", h, err)
	}

	if s.cache != nil {
		s.cache.Set(h[:], data)
	}
	metrics.BlobsWritten.Inc()
	logger.Debug("put blob", "hash", h)
	return h, nil
}

// Get reads the blob addressed by h.
func (s *Store) Get(h roothash.Hash) ([]byte, error) {
	if s.cache != nil {
		if v, ok := s.cache.HasGet(nil, h[:]); ok {
			metrics.BlobCacheHits.Inc()
			return v, nil
		}
		metrics.BlobCacheMisses.Inc()
	}

	raw, err := ioutil.ReadFile(s.path(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob: %s: %w", h, ErrNotFound)
		}
		return nil, fmt.Errorf("blob: read %s: %w", h, err)
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("blob: decompress %s: %w", h, err)
	}

	if s.cache != nil {
		s.cache.Set(h[:], data)
	}
	return data, nil
}

// Exists reports whether h is stored.
func (s *Store) Exists(h roothash.Hash) (bool, error) {
	_, err := os.Stat(s.path(h))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("blob: stat %s: %w", h, err)
}

// Delete removes the blob addressed by h. It is only ever called by
// garbage collection on blobs already proven unreachable.
func (s *Store) Delete(h roothash.Hash) error {
	if err := os.Remove(s.path(h)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete %s: %w", h, err)
	}
	if s.cache != nil {
		s.cache.Del(h[:])
	}
	metrics.BlobsDeleted.Inc()
	return nil
}

// ErrNotFound is returned by Get when the requested hash is not stored.
var ErrNotFound = fmt.Errorf("blob not found")
