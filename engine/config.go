package engine

import "github.com/c2h5oh/datasize"

// CacheMode selects how the reverse-index cache is kept up to date.
type CacheMode string

const (
	// CacheModeAuto incrementally diffs old/new caches() per event in
	// Apply, and additionally performs a full Rebuild whenever the ledger
	// already holds a nonzero multiple of incrementalThreshold entries
	// when Apply runs.
	CacheModeAuto CacheMode = "auto"
	// CacheModeIncremental makes Apply always diff, never rebuild
	// outright. Replay still rebuilds in full (see incrementalThreshold).
	CacheModeIncremental CacheMode = "incremental"
	// CacheModeRebuild always performs a full rebuild after every event.
	// Useful for tests and for recovering from a corrupted cache.
	CacheModeRebuild CacheMode = "rebuild"
)

// incrementalThreshold is the ledger-length period at which
// CacheModeAuto follows Apply's incremental update with a full rebuild.
// Replay does not consult it or the cache mode: whenever it re-applied
// any entry (or finds no recorded cache for the current state) it
// rebuilds the cache in full, however few entries were unapplied.
const incrementalThreshold = 100

// Config holds the engine's tunables, per spec §6's External Interfaces.
type Config struct {
	// GCKeep is the garbage-collection window length in applied events:
	// anchor snapshots sit at every multiple of GCKeep, and a pass runs
	// each time the ledger completes another window. Default 100.
	GCKeep int
	// CacheMode selects the reverse-index maintenance strategy. Default
	// CacheModeAuto.
	CacheMode CacheMode
	// TrieFanoutDepth is the number of one-hex-character shard levels in
	// both the directory trie and the cache trie. Default 3.
	TrieFanoutDepth int
	// ReadCacheMB sizes the blob store's read-through cache, in
	// megabytes. Default 32. Ignored if ReadCacheSize is set.
	ReadCacheMB int
	// ReadCacheSize optionally overrides ReadCacheMB with a human-
	// readable size ("32MB", "512KB"), for configuration sources (flags,
	// config files) that express sizes the way an operator would write
	// them rather than as a raw integer. Parsed by New via
	// ParseReadCacheSize.
	ReadCacheSize string
}

// DefaultConfig returns the spec-mandated defaults (gc_keep=100,
// cache_mode=auto, trie_fanout_depth=3).
func DefaultConfig() Config {
	return Config{
		GCKeep:          100,
		CacheMode:       CacheModeAuto,
		TrieFanoutDepth: 3,
		ReadCacheMB:     32,
	}
}

// ParseReadCacheSize parses a human-readable size ("32MB", "512KB") into
// the whole-megabyte value Config.ReadCacheMB expects, for configuration
// sources (flags, config files) that express sizes the way an operator
// would write them rather than as a raw integer.
func ParseReadCacheSize(s string) (int, error) {
	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return int(v / datasize.MB), nil
}

func (c Config) normalized() Config {
	if c.GCKeep <= 0 {
		c.GCKeep = 100
	}
	if c.CacheMode == "" {
		c.CacheMode = CacheModeAuto
	}
	if c.TrieFanoutDepth <= 0 {
		c.TrieFanoutDepth = 3
	}
	if c.ReadCacheMB <= 0 {
		c.ReadCacheMB = 32
	}
	return c
}
