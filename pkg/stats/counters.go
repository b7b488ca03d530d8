// Package stats implements the statistics-counter vector and per-shard
// stats file codec described in spec.md §3 ("Statistics counters") and
// §6 ("Statistics file format"), grounded on ccache's
// src/ccache/core/statisticscounters.cpp and src/ccache/core/statslog.cpp.
package stats

import (
	"github.com/dustin/go-humanize"

	"github.com/compilecache/ccache/pkg/numeric"
)

// Statistic indexes one counter in a Counters vector. The enumeration is
// closed and its ordering is the on-disk format: index position, not name,
// identifies a counter in a stats file.
type Statistic int

const (
	DirectCacheHit Statistic = iota
	PreprocessedCacheHit
	CacheMiss
	CacheMissDueToCorruption
	Unsupported
	TooHard
	TooHardForDirectMode
	PreprocessorError
	CompilerError
	BadCompilerArguments
	NoInputFile
	MultipleSourceFiles
	AutoconfTest
	CompileFailed
	InternalError
	RemoteStorageError
	RemoteStorageTimeout
	RemoteStorageMiss
	RemoteStorageHit
	RemoteStorageReadHit
	RemoteStorageReadMiss
	RemoteStorageWriteHit
	CacheSizeKibibyte
	FilesInCache
	CleanupsPerformed
	StatsZeroedTimestamp

	// end marks the size of the closed enumeration; it is never itself a
	// valid counter.
	end
)

// names maps each Statistic to its canonical lower_snake_case identifier,
// used by the stats log format (spec.md §6 "Stats log format").
var names = [end]string{
	DirectCacheHit:           "direct_cache_hit",
	PreprocessedCacheHit:     "preprocessed_cache_hit",
	CacheMiss:                "cache_miss",
	CacheMissDueToCorruption: "cache_miss_due_to_corruption",
	Unsupported:              "unsupported",
	TooHard:                  "too_hard",
	TooHardForDirectMode:     "too_hard_for_direct_mode",
	PreprocessorError:        "preprocessor_error",
	CompilerError:            "compiler_error",
	BadCompilerArguments:     "bad_compiler_arguments",
	NoInputFile:              "no_input_file",
	MultipleSourceFiles:      "multiple_source_files",
	AutoconfTest:             "autoconf_test",
	CompileFailed:            "compile_failed",
	InternalError:            "internal_error",
	RemoteStorageError:       "remote_storage_error",
	RemoteStorageTimeout:     "remote_storage_timeout",
	RemoteStorageMiss:        "remote_storage_miss",
	RemoteStorageHit:         "remote_storage_hit",
	RemoteStorageReadHit:     "remote_storage_read_hit",
	RemoteStorageReadMiss:    "remote_storage_read_miss",
	RemoteStorageWriteHit:    "remote_storage_write_hit",
	CacheSizeKibibyte:        "cache_size_kibibyte",
	FilesInCache:             "files_in_cache",
	CleanupsPerformed:        "cleanups_performed",
	StatsZeroedTimestamp:     "stats_zeroed_timestamp",
}

// idByName is the inverse of names, used to resolve stats-log entries back
// to a Statistic (statslog.cpp's id_map).
var idByName = func() map[string]Statistic {
	m := make(map[string]Statistic, len(names))
	for i, n := range names {
		if n != "" {
			m[n] = Statistic(i)
		}
	}
	return m
}()

// Name returns s's canonical identifier, or "" if s is out of range.
func (s Statistic) Name() string {
	if s < 0 || int(s) >= len(names) {
		return ""
	}
	return names[s]
}

// StatisticByName resolves a counter name back to its Statistic. The
// second return is false for an unrecognized name, matching statslog's
// "unknown statistic" handling (logged and skipped, never fatal).
func StatisticByName(name string) (Statistic, bool) {
	s, ok := idByName[name]
	return s, ok
}

// Counters is a sparse vector of counters indexed by Statistic (spec.md §3
// "a sparse vector of unsigned 64-bit counters indexed by a closed
// enumeration"). The zero value is an empty, all-zero vector; it grows
// lazily as counters beyond its current length are touched, so that a
// stats file carrying trailing counters unknown to this build round-trips
// unchanged (spec.md §6 "Unknown indexes at the end are preserved").
type Counters struct {
	values []uint64
}

// New returns an empty Counters vector.
func New() Counters {
	return Counters{}
}

// Get returns the value of statistic s, or 0 if s has never been touched.
func (c Counters) Get(s Statistic) uint64 {
	i := int(s)
	if i < 0 || i >= len(c.values) {
		return 0
	}
	return c.values[i]
}

func (c *Counters) grow(n int) {
	if n > len(c.values) {
		grown := make([]uint64, n)
		copy(grown, c.values)
		c.values = grown
	}
}

// Set assigns statistic s to value, growing the vector if needed.
func (c *Counters) Set(s Statistic, value uint64) {
	i := int(s)
	if i < 0 {
		return
	}
	c.grow(i + 1)
	c.values[i] = value
}

// Increment adds delta to statistic s, saturating at zero: a counter
// never goes negative even when delta is negative (spec.md §3 "Saturating
// subtraction: counters never go negative"). delta == 0 is a no-op.
func (c *Counters) Increment(s Statistic, delta int64) {
	if delta == 0 {
		return
	}
	i := int(s)
	if i < 0 {
		return
	}
	c.grow(i + 1)
	c.values[i] = saturatingAdd(c.values[i], delta)
}

// Merge adds every counter of other into c, each saturating independently.
// Used to fold per-shard vectors together when aggregating across the
// cache (spec.md §9 "Aggregation across shards is done by the CLI layer
// by summing every shard's counters").
func (c *Counters) Merge(other Counters) {
	c.grow(len(other.values))
	for i, v := range other.values {
		c.values[i] = saturatingAdd(c.values[i], int64(v))
	}
}

// saturatingAdd adds delta to current without going through int64 (current
// can legitimately exceed math.MaxInt64, at which point int64(current)
// would already have gone negative), clamping at 0 on the low end and at
// numeric.MaxUint64 on the high end.
func saturatingAdd(current uint64, delta int64) uint64 {
	if delta < 0 {
		dec := uint64(-delta)
		if dec > current {
			return 0
		}
		return current - dec
	}
	inc := uint64(delta)
	if current > numeric.MaxUint64-inc {
		return numeric.MaxUint64
	}
	return current + inc
}

// Len returns the number of counter slots currently held, including any
// trailing slots beyond the closed enumeration that were preserved from a
// decoded stats file.
func (c Counters) Len() int {
	return len(c.values)
}

// AllZero reports whether every counter in the vector is zero.
func (c Counters) AllZero() bool {
	for _, v := range c.values {
		if v != 0 {
			return false
		}
	}
	return true
}

// Summary renders the counters a human might read: cache size and hit
// counts in humanize-friendly units (spec.md's `stats` package `String()`
// helpers).
func (c Counters) Summary() string {
	hits := c.Get(DirectCacheHit) + c.Get(PreprocessedCacheHit)
	size := humanize.IBytes(c.Get(CacheSizeKibibyte) * 1024)
	files := humanize.Comma(int64(c.Get(FilesInCache)))
	return "cache hits: " + humanize.Comma(int64(hits)) +
		", cache size: " + size +
		", files in cache: " + files
}
