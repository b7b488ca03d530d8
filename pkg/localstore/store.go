// Package localstore implements the content-addressed, two-level-sharded
// on-disk cache described in spec.md §4.4: CACHEDIR/<h0>/<h1>/<rest>.<suffix>
// with atomic write-then-rename puts, LRU-by-atime cleanup, and per-shard
// statistics. It is the deepest adaptation of the teacher's own staging
// store, grounded on
// mutagen pkg/synchronization/endpoint/local/staging/store/store.go
// (prefix-directory existence tracking, temp-file-then-rename commit) and
// pkg/filesystem/atomic.go (WriteFileAtomic), generalized from that
// store's single-level path+digest addressing to spec.md's two hex-nibble
// directory levels and multiple suffix kinds (manifest, result, raw
// sidecar).
package localstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mutagen-io/extstat"
	"github.com/pkg/errors"

	"github.com/compilecache/ccache/pkg/cacheentry"
	"github.com/compilecache/ccache/pkg/compress"
	"github.com/compilecache/ccache/pkg/config"
	"github.com/compilecache/ccache/pkg/hash"
	"github.com/compilecache/ccache/pkg/lockfile"
	"github.com/compilecache/ccache/pkg/logging"
	"github.com/compilecache/ccache/pkg/must"
	"github.com/compilecache/ccache/pkg/random"
	"github.com/compilecache/ccache/pkg/stats"
)

const (
	manifestSuffix = "M"
	resultSuffix   = "R"

	// cacheDirTagName is the marker file excluded from backup/sweep tools
	// that recognize the CACHEDIR.TAG convention (spec.md §4.4 layout).
	cacheDirTagName = "CACHEDIR.TAG"
	// cacheDirTagContents is the standard signature defined by the
	// CACHEDIR.TAG convention, grounded on orig src/storage/local/util.cpp.
	cacheDirTagContents = "Signature: 8a477f597d28d172789f06886806bc55\n" +
		"# This file is a cache directory tag created by ccache.\n" +
		"# For information about cache directory tags, see:\n" +
		"#	https://bford.info/cachedir/\n"

	// shardStatsName is the per-level-2-shard statistics file name (spec.md
	// §4.4 layout "<h1>/stats").
	shardStatsName = "stats"
	// shardLockName is the lock path guarding read-modify-write access to a
	// shard's stats file and its cleanup sweep (spec.md §4.4 "Cleanup ...
	// under an exclusive shard lock").
	shardLockName = "stats.lock"
)

// Store is a content-addressed, two-level-sharded cache rooted at a single
// directory. Initialize must be called once before any other method.
type Store struct {
	root   string
	cfg    config.Config
	logger *logging.Logger

	prefixMu     sync.Mutex
	prefixExists [256]bool // indexed by (h0<<4 | h1)
}

// NewStore constructs a Store rooted at root. Call Initialize before use.
func NewStore(root string, cfg config.Config) *Store {
	return &Store{root: root, cfg: cfg, logger: logging.RootLogger.Sublogger("localstore")}
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// Initialize creates the cache root (if absent), writes CACHEDIR.TAG, and
// scans any existing shard directories so later puts don't redundantly
// attempt to create them (spec.md §4.4 layout; CACHEDIR.TAG handling
// grounded on orig src/storage/local/util.cpp).
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return errors.Wrap(err, "unable to create cache root")
	}
	if err := writeCacheDirTag(s.root); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return errors.Wrap(err, "unable to read cache root")
	}
	for _, e := range entries {
		h0, ok := parseHexNibble(e.Name())
		if !ok || !e.IsDir() {
			continue
		}
		subEntries, err := os.ReadDir(filepath.Join(s.root, e.Name()))
		if err != nil {
			continue
		}
		for _, sub := range subEntries {
			h1, ok := parseHexNibble(sub.Name())
			if !ok || !sub.IsDir() {
				continue
			}
			s.prefixExists[shardIndex(h0, h1)] = true
		}
	}
	return nil
}

// writeCacheDirTag writes the CACHEDIR.TAG marker at the cache root if it
// is not already present, so external backup/sweep tools skip the cache
// (spec.md §4.4 layout: "CACHEDIR.TAG (marker; excluded from sweeps)").
// An existing tag file is left untouched rather than rewritten.
func writeCacheDirTag(root string) error {
	path := filepath.Join(root, cacheDirTagName)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to stat CACHEDIR.TAG")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return errors.Wrap(err, "unable to create CACHEDIR.TAG")
	}
	defer must.Close(f, logging.RootLogger.Sublogger("localstore"))

	if _, err := f.WriteString(cacheDirTagContents); err != nil {
		return errors.Wrap(err, "unable to write CACHEDIR.TAG")
	}
	return nil
}

func parseHexNibble(name string) (byte, bool) {
	if len(name) != 1 {
		return 0, false
	}
	c := name[0]
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

func shardIndex(h0, h1 byte) int {
	return int(h0)<<4 | int(h1)
}

// shardComponents splits a digest's hex encoding into its two directory
// nibbles and the remaining suffix used as the file's base name (spec.md
// §4.4 layout "<h0 0..f>/<h1 0..f>/<rest-of-key>").
func shardComponents(key hash.Digest) (h0, h1 byte, rest string) {
	digestHex := hex.EncodeToString(key[:])
	h0, _ = parseHexNibble(digestHex[0:1])
	h1, _ = parseHexNibble(digestHex[1:2])
	return h0, h1, digestHex[2:]
}

// shardDir returns the level-2 shard directory for key, without creating
// it.
func (s *Store) shardDir(h0, h1 byte) string {
	return filepath.Join(s.root, hexNibble(h0), hexNibble(h1))
}

func hexNibble(b byte) string {
	const digits = "0123456789abcdef"
	return string(digits[b&0xF])
}

// ensureShardDir creates the shard directory for (h0, h1) if it does not
// already exist, mirroring the teacher's prefixExists existence cache to
// avoid a redundant Mkdir syscall on every put.
func (s *Store) ensureShardDir(h0, h1 byte) (string, error) {
	dir := s.shardDir(h0, h1)
	idx := shardIndex(h0, h1)

	s.prefixMu.Lock()
	defer s.prefixMu.Unlock()

	if s.prefixExists[idx] {
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.Wrap(err, "unable to create shard directory")
	}
	s.prefixExists[idx] = true
	return dir, nil
}

// pathFor returns the full path for key under the given suffix.
func (s *Store) pathFor(key hash.Digest, suffix string) string {
	h0, h1, rest := shardComponents(key)
	return filepath.Join(s.shardDir(h0, h1), rest+"."+suffix)
}

// Read opens the file stored at key under suffix, updating its access
// time for LRU purposes without touching its modification time (spec.md
// §4.4 "Get": "Update atime (for LRU); do not update mtime"). The
// returned ReadCloser must be closed by the caller.
func (s *Store) read(key hash.Digest, suffix string) (io.ReadCloser, error) {
	path := s.pathFor(key, suffix)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	if info, statErr := f.Stat(); statErr == nil {
		_ = os.Chtimes(path, time.Now(), info.ModTime())
	}

	return f, nil
}

// writeAtomic serializes data to a temporary file in key's shard
// directory and renames it into place (spec.md §4.4 "Put" steps 1-4):
// temp file with a random suffix, write, close, rename, then stamp
// mtime=now, atime=now.
func (s *Store) writeAtomic(key hash.Digest, suffix string, data []byte) error {
	h0, h1, rest := shardComponents(key)
	dir, err := s.ensureShardDir(h0, h1)
	if err != nil {
		return err
	}

	suffixRandom, err := random.HexString()
	if err != nil {
		return errors.Wrap(err, "unable to generate temporary file suffix")
	}
	tempName := filepath.Join(dir, "."+rest+"-"+suffixRandom+".tmp")
	temp, err := os.OpenFile(tempName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errors.Wrap(err, "unable to create temporary file")
	}

	if _, err := temp.Write(data); err != nil {
		must.Close(temp, s.logger)
		must.OSRemove(tempName, s.logger)
		return errors.Wrap(err, "unable to write temporary file")
	}
	if err := temp.Close(); err != nil {
		must.OSRemove(tempName, s.logger)
		return errors.Wrap(err, "unable to close temporary file")
	}

	target := filepath.Join(dir, rest+"."+suffix)
	if err := os.Rename(tempName, target); err != nil {
		must.OSRemove(tempName, s.logger)
		return errors.Wrap(err, "unable to rename into place")
	}

	now := time.Now()
	if err := os.Chtimes(target, now, now); err != nil {
		return errors.Wrap(err, "unable to stamp file times")
	}

	if err := s.bumpShardStats(h0, h1, 1, int64(len(data))); err != nil {
		return err
	}
	return nil
}

// remove deletes the file at key under suffix. A missing file is not an
// error.
func (s *Store) remove(key hash.Digest, suffix string) error {
	path := s.pathFor(key, suffix)
	info, statErr := os.Stat(path)

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "unable to remove file")
	}

	if statErr == nil {
		h0, h1, _ := shardComponents(key)
		_ = s.bumpShardStats(h0, h1, -1, -info.Size())
	}
	return nil
}

// Backend adapts Store to the manifest.Backend (and equally-shaped
// result-entry) interface for a fixed suffix.
type Backend struct {
	store  *Store
	suffix string
}

func (b *Backend) Read(key hash.Digest) (io.ReadCloser, error) {
	return b.store.read(key, b.suffix)
}

func (b *Backend) WriteAtomic(key hash.Digest, data []byte) error {
	return b.store.writeAtomic(key, b.suffix, data)
}

func (b *Backend) Remove(key hash.Digest) error {
	return b.store.remove(key, b.suffix)
}

// ManifestBackend returns the manifest.Backend view of this store (files
// with suffix "M").
func (s *Store) ManifestBackend() *Backend {
	return &Backend{store: s, suffix: manifestSuffix}
}

// ResultBackend returns the result-entry view of this store (files with
// suffix "R"), shaped identically to manifest.Backend so the same
// cacheentry envelope code serves both.
func (s *Store) ResultBackend() *Backend {
	return &Backend{store: s, suffix: resultSuffix}
}

// rawSuffix names a raw sidecar file: its sidecar number followed by the
// literal "W" (spec.md §4.4 layout "<rest-of-key>.N W").
func rawSuffix(sidecar uint8) string {
	return fmt.Sprintf("%dW", sidecar)
}

// ReadRaw opens the raw sidecar file numbered sidecar under key.
func (s *Store) ReadRaw(key hash.Digest, sidecar uint8) (io.ReadCloser, error) {
	return s.read(key, rawSuffix(sidecar))
}

// WriteRawAtomic writes a raw sidecar file. Per spec.md §4.4 "Raw file
// handling", sidecars must be committed before the result entry that
// references them so a reader never observes a dangling reference;
// callers are responsible for that ordering (write every sidecar, then
// call ResultBackend().WriteAtomic last).
func (s *Store) WriteRawAtomic(key hash.Digest, sidecar uint8, data []byte) error {
	return s.writeAtomic(key, rawSuffix(sidecar), data)
}

// RemoveRaw deletes a raw sidecar file.
func (s *Store) RemoveRaw(key hash.Digest, sidecar uint8) error {
	return s.remove(key, rawSuffix(sidecar))
}

// shardStatsPath returns the per-shard statistics file path (spec.md §4.4
// layout "<h1>/stats").
func (s *Store) shardStatsPath(h0, h1 byte) string {
	return filepath.Join(s.shardDir(h0, h1), shardStatsName)
}

// shardLockPath returns the lock path guarding a shard's statistics file
// and its cleanup sweep.
func (s *Store) shardLockPath(h0, h1 byte) string {
	return filepath.Join(s.shardDir(h0, h1), shardLockName)
}

// withShardLock runs fn while holding an exclusive lock on the shard
// (h0, h1), blocking up to cfg.LockAcquireTimeout (spec.md §4.4 "Update
// shard stats" / "Cleanup ... under an exclusive shard lock"). A timed
// out acquisition surfaces as an error rather than silently skipping the
// update, since a lost statistics bump would desynchronize the shard's
// counters from its actual contents.
func (s *Store) withShardLock(h0, h1 byte, fn func() error) error {
	if _, err := s.ensureShardDir(h0, h1); err != nil {
		return err
	}

	locker := lockfile.New(s.shardLockPath(h0, h1), s.cfg.LockStaleAfter)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LockAcquireTimeout)
	defer cancel()

	acquired, err := locker.Acquire(ctx, s.cfg.LockAcquireTimeout)
	if err != nil {
		return errors.Wrap(err, "unable to acquire shard lock")
	}
	if !acquired {
		return errors.Errorf("timed out acquiring shard lock for shard %s", s.shardDir(h0, h1))
	}
	defer must.Succeed(locker.Release(), "release shard lock", s.logger)

	return fn()
}

// readShardStats loads (h0, h1)'s statistics file, treating an absent
// file as an empty counter vector.
func (s *Store) readShardStats(h0, h1 byte) (stats.Counters, error) {
	f, err := os.Open(s.shardStatsPath(h0, h1))
	if err != nil {
		if os.IsNotExist(err) {
			return stats.New(), nil
		}
		return stats.Counters{}, errors.Wrap(err, "unable to open shard stats file")
	}
	defer must.Close(f, s.logger)

	return stats.DecodeFile(f)
}

// writeShardStats persists c to (h0, h1)'s statistics file, creating the
// shard directory if needed.
func (s *Store) writeShardStats(h0, h1 byte, c stats.Counters) error {
	if _, err := s.ensureShardDir(h0, h1); err != nil {
		return err
	}
	path := s.shardStatsPath(h0, h1)
	if err := os.WriteFile(path, stats.EncodeFile(c), 0o600); err != nil {
		return errors.Wrap(err, "unable to write shard stats file")
	}
	return nil
}

// bumpShardStats adjusts (h0, h1)'s files_in_cache and cache_size_kibibyte
// counters under the shard's exclusive lock (spec.md §4.4 "Update shard
// stats: increment files_in_cache, add bytes to cache_size_kibibyte").
// bytesDelta is in bytes; it is converted to whole kibibytes (rounded up)
// before being folded into the counter, matching the KiB-denominated
// on-disk unit.
func (s *Store) bumpShardStats(h0, h1 byte, filesDelta, bytesDelta int64) error {
	kibDelta := (bytesDelta + 1023) / 1024
	if bytesDelta < 0 {
		kibDelta = -((-bytesDelta + 1023) / 1024)
	}

	return s.withShardLock(h0, h1, func() error {
		c, err := s.readShardStats(h0, h1)
		if err != nil {
			return err
		}
		c.Increment(stats.FilesInCache, filesDelta)
		c.Increment(stats.CacheSizeKibibyte, kibDelta)
		return s.writeShardStats(h0, h1, c)
	})
}

// IncrementStats folds a single outcome counter (direct hit, miss, too
// hard, and so on) into the shard identified by key under the shard's
// exclusive lock (spec.md §4.4 "Statistics counters": "Each writer reads,
// increments, and writes back its shard's stats file"). Aggregation
// across shards into a single cache-wide summary is left to the CLI
// layer, out of scope here (spec.md §4.4).
func (s *Store) IncrementStats(key hash.Digest, statistic stats.Statistic, delta int64) error {
	h0, h1, _ := shardComponents(key)
	return s.withShardLock(h0, h1, func() error {
		c, err := s.readShardStats(h0, h1)
		if err != nil {
			return err
		}
		c.Increment(statistic, delta)
		return s.writeShardStats(h0, h1, c)
	})
}

// ShardStats returns a snapshot of the statistics counters for the shard
// holding key.
func (s *Store) ShardStats(key hash.Digest) (stats.Counters, error) {
	h0, h1, _ := shardComponents(key)
	var c stats.Counters
	err := s.withShardLock(h0, h1, func() error {
		var err error
		c, err = s.readShardStats(h0, h1)
		return err
	})
	return c, err
}

// shardQuota returns this shard's slice of the cache-wide MaxSize/MaxFiles
// budget, apportioned evenly across the 256 level-2 shards (spec.md §4.4
// "If shard size exceeds per-shard limit, schedule cleanup").
func (s *Store) shardQuota() (maxBytes, maxFiles uint64) {
	const shardCount = 256
	if s.cfg.MaxSize > 0 {
		maxBytes = s.cfg.MaxSize / shardCount
	}
	if s.cfg.MaxFiles > 0 {
		maxFiles = s.cfg.MaxFiles / shardCount
	}
	return maxBytes, maxFiles
}

// cacheFileInfo is one file considered for LRU eviction.
type cacheFileInfo struct {
	path  string
	atime time.Time
	size  int64
}

// listShardFiles enumerates every cache file (manifest, result, and raw
// sidecar entries) directly under the shard directory for (h0, h1),
// excluding the shard's own stats/lock bookkeeping files.
func listShardFiles(dir string) ([]cacheFileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "unable to list shard directory")
	}

	files := make([]cacheFileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == shardStatsName || name == shardLockName || strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".alive") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		info, err := extstat.NewFromFileName(path)
		if err != nil {
			continue
		}
		files = append(files, cacheFileInfo{
			path:  path,
			atime: info.AccessTime,
			size:  info.Size,
		})
	}
	return files, nil
}

// Cleanup performs the per-shard LRU-by-atime eviction sweep described in
// spec.md §4.4 "Cleanup (eviction)": under the shard's exclusive lock,
// list every cache file, sort ascending by access time (read with
// extstat), and remove from the front until the shard is back under its
// size and file-count budget, each with cfg.CleanupSlackPercent slack
// (10% by default) to avoid thrashing a shard that sits just over the
// line.
func (s *Store) Cleanup(h0, h1 byte) error {
	maxBytes, maxFiles := s.shardQuota()
	if maxBytes == 0 && maxFiles == 0 {
		return nil
	}

	slackBytes := maxBytes + (maxBytes*s.cfg.CleanupSlackPercent)/100
	slackFiles := maxFiles + (maxFiles*s.cfg.CleanupSlackPercent)/100

	return s.withShardLock(h0, h1, func() error {
		dir := s.shardDir(h0, h1)
		files, err := listShardFiles(dir)
		if err != nil {
			return err
		}

		var totalBytes int64
		for _, f := range files {
			totalBytes += f.size
		}
		totalFiles := int64(len(files))

		sort.Slice(files, func(i, j int) bool {
			return files[i].atime.Before(files[j].atime)
		})

		var removedFiles, removedBytes int64
		i := 0
		for i < len(files) {
			overBytes := slackBytes > 0 && uint64(totalBytes) > slackBytes
			overFiles := slackFiles > 0 && uint64(totalFiles) > slackFiles
			if !overBytes && !overFiles {
				break
			}

			f := files[i]
			if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
				s.logger.Warn(errors.Wrap(err, "unable to remove evicted cache file"))
				i++
				continue
			}

			totalBytes -= f.size
			totalFiles--
			removedBytes += f.size
			removedFiles++
			i++
		}

		if removedFiles == 0 {
			return nil
		}

		c, err := s.readShardStats(h0, h1)
		if err != nil {
			return err
		}
		c.Increment(stats.FilesInCache, -removedFiles)
		c.Increment(stats.CacheSizeKibibyte, -((removedBytes + 1023) / 1024))
		c.Increment(stats.CleanupsPerformed, 1)
		return s.writeShardStats(h0, h1, c)
	})
}

// CleanupAll runs Cleanup across every populated shard, used by
// pkg/housekeeping's periodic sweep.
func (s *Store) CleanupAll() error {
	for h0 := byte(0); h0 < 16; h0++ {
		for h1 := byte(0); h1 < 16; h1++ {
			if !s.prefixExists[shardIndex(h0, h1)] {
				continue
			}
			if err := s.Cleanup(h0, h1); err != nil {
				return err
			}
		}
	}
	return nil
}

// recompressibleSuffixes are the cacheentry-enveloped file kinds eligible
// for recompression; raw sidecar files carry no header/codec and are left
// untouched (spec.md §4.3 vs. §4.4 "Raw file handling").
var recompressibleSuffixes = [...]string{manifestSuffix, resultSuffix}

// Recompress walks every shard and rewrites each manifest/result entry
// through codec, preserving mtime/atime so LRU order is undisturbed
// (spec.md §4.4 "Recompression": "Each rewrite preserves mtime/atime so
// LRU order is not disturbed"). A file whose checksum fails to verify is
// skipped rather than treated as fatal, matching the reader's normal
// corrupt-entry handling elsewhere.
func (s *Store) Recompress(codec compress.Codec) error {
	for h0 := byte(0); h0 < 16; h0++ {
		for h1 := byte(0); h1 < 16; h1++ {
			if !s.prefixExists[shardIndex(h0, h1)] {
				continue
			}
			if err := s.recompressShard(h0, h1, codec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) recompressShard(h0, h1 byte, codec compress.Codec) error {
	dir := s.shardDir(h0, h1)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "unable to list shard directory")
	}

	for _, e := range entries {
		name := e.Name()
		matches := false
		for _, suffix := range recompressibleSuffixes {
			if strings.HasSuffix(name, "."+suffix) {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}

		path := filepath.Join(dir, name)
		if err := s.recompressFile(path, codec); err != nil {
			s.logger.Warn(errors.Wrapf(err, "unable to recompress %s", path))
		}
	}
	return nil
}

func (s *Store) recompressFile(path string, codec compress.Codec) error {
	info, err := extstat.NewFromFileName(path)
	if err != nil {
		return err
	}
	atime := info.AccessTime
	mtime := info.ModificationTime

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	header, payload, err := cacheentry.Read(f)
	must.Close(f, s.logger)
	if err != nil {
		if err == cacheentry.ErrCorruptEntry {
			return nil
		}
		return err
	}

	var buf bytes.Buffer
	if err := cacheentry.Write(&buf, header, payload, codec); err != nil {
		return err
	}

	suffixRandom, err := random.HexString()
	if err != nil {
		return err
	}
	tempName := path + ".recompress-" + suffixRandom + ".tmp"
	if err := os.WriteFile(tempName, buf.Bytes(), 0o600); err != nil {
		must.OSRemove(tempName, s.logger)
		return err
	}
	if err := os.Rename(tempName, path); err != nil {
		must.OSRemove(tempName, s.logger)
		return err
	}

	return os.Chtimes(path, atime, mtime)
}
