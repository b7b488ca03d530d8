// Package config holds the tunable knobs of the cache engine. Loading these
// values from a configuration file or the environment is the job of the
// (out of scope, per spec.md §1) top-level CLI; this package only defines
// the struct and its defaults.
package config

import (
	"time"

	"github.com/compilecache/ccache/pkg/utility"
)

// Config collects the tunable parameters referenced throughout spec.md as
// "configured" or "default" values.
type Config struct {
	// CacheDirectory is the root of the on-disk cache (spec.md §4.4 layout).
	CacheDirectory string

	// MaxSize is the overall cache size limit in bytes, apportioned evenly
	// across the 256 level-2 (<h0>/<h1>) shards by localstore.
	MaxSize uint64
	// MaxFiles is the overall cache file-count limit, apportioned the same
	// way as MaxSize.
	MaxFiles uint64
	// CleanupSlackPercent is the over-budget slack percentage tolerated
	// before a shard is swept again (spec.md §4.4 "with 10% slack to avoid
	// thrashing").
	CleanupSlackPercent uint64

	// InlineThreshold is the maximum size, in bytes, of a result-entry
	// payload file that will be embedded in the entry rather than written
	// as a raw sidecar (spec.md §4.3).
	InlineThreshold uint64

	// ManifestMaxEntries bounds the number of entries retained per
	// manifest before the oldest is dropped (spec.md §3 "Manifest"
	// invariant (c)).
	ManifestMaxEntries int

	// CompressionLevel is the signed Zstandard compression level used when
	// writing new cache entries.
	CompressionLevel int
	// CompressionDisabled selects the no-op codec instead of Zstandard.
	CompressionDisabled bool

	// HashDir enables hashing the current working directory into the
	// common hash when an argument refers to a relative path (spec.md §4.1
	// step 6).
	HashDir bool
	// HashCompilerByPath hashes the compiler's absolute path rather than
	// its content digest (spec.md §4.1 step 1).
	HashCompilerByPath bool

	// Sloppiness is the bitmask of relaxations in effect for this
	// invocation (spec.md §3 "Sloppiness set").
	Sloppiness uint32

	// Namespace is an opaque caller-supplied tag mixed into the common hash
	// and recorded in every cache-entry header (spec.md §3
	// "namespace_length").
	Namespace string

	// LockStaleAfter is the "alive" marker staleness threshold after which
	// a lock holder is presumed dead (spec.md §4.6, §9 Open Question:
	// "default to a value large enough to cover a slow cleanup pass").
	LockStaleAfter time.Duration
	// LockAcquireTimeout bounds how long a blocking lock acquisition will
	// wait before giving up and returning LockTimeout (spec.md §7).
	LockAcquireTimeout time.Duration
	// LockHeartbeatInterval is how often a long-lived lock's heartbeat
	// thread refreshes the "alive" marker's mtime.
	LockHeartbeatInterval time.Duration

	// RemoteURLs lists the configured remote/secondary storage backends,
	// in priority order (spec.md §4.5, §6).
	RemoteURLs []string

	// StatsLogPath, if non-empty, enables the optional human-readable
	// stats log (spec.md §6 "Stats log format (optional)"): every request
	// appends a "# <input path>" line followed by the statistic names it
	// triggered. Empty disables the log entirely.
	StatsLogPath string
}

// Default returns a Config populated with the defaults referenced
// throughout spec.md.
func Default() Config {
	return Config{
		MaxSize:               5 * 1024 * 1024 * 1024,
		MaxFiles:               0, // unlimited unless explicitly set
		CleanupSlackPercent:    10,
		InlineThreshold:        4096,
		ManifestMaxEntries:     100,
		CompressionLevel:       0, // zstd's fastest encoder setting
		HashDir:                false,
		HashCompilerByPath:     false,
		LockStaleAfter:         10 * time.Second,
		LockAcquireTimeout:     60 * time.Second,
		LockHeartbeatInterval:  2 * time.Second,
	}
}

// Clone returns a deep copy of c, defensively copying RemoteURLs so a
// caller mutating the returned slice cannot affect the original Config
// (spec.md §4.5 "configured remote/secondary storage backends, in
// priority order").
func (c Config) Clone() Config {
	c.RemoteURLs = utility.CopyStringSlice(c.RemoteURLs)
	return c
}
