package manifest

import (
	"bytes"
	"io"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/compilecache/ccache/pkg/cacheentry"
	"github.com/compilecache/ccache/pkg/ccacheinfo"
	"github.com/compilecache/ccache/pkg/compress"
	"github.com/compilecache/ccache/pkg/config"
	"github.com/compilecache/ccache/pkg/hash"
	"github.com/compilecache/ccache/pkg/sloppiness"
)

// Backend is the storage dependency manifest.Store needs: reading and
// atomically writing the bytes at a manifest's key, and removing a key
// whose checksum failed to verify. pkg/localstore implements this.
type Backend interface {
	Read(key hash.Digest) (io.ReadCloser, error)
	WriteAtomic(key hash.Digest, data []byte) error
	Remove(key hash.Digest) error
}

// Stat resolves the current fingerprint of an include file on disk, used
// by Get to decide whether a manifest entry's recorded fingerprints still
// match the filesystem (spec.md §4.2 "get").
type Stat func(path string) (FileFingerprint, error)

// Store bridges direct-mode keys to result keys via persisted Manifest
// values (spec.md §4.2 "Manifest store"). The reverse-lookup / ordered
// entry-list shape is grounded on
// mutagen pkg/synchronization/core/cache.go and cache_maps.go; persistence
// (atomic write, corrupt-checksum-means-missing) reuses pkg/cacheentry.
type Store struct {
	backend Backend
	cfg     config.Config
}

// NewStore constructs a Store over backend using cfg for namespace,
// compression, and manifest entry-count bounding.
func NewStore(backend Backend, cfg config.Config) *Store {
	return &Store{backend: backend, cfg: cfg}
}

// Get loads the manifest at direct_key and returns the result key of the
// first entry whose fingerprints all still match the filesystem, in entry
// order (spec.md §4.2 "get"). A missing or corrupt manifest, or no
// matching entry, returns (zero, false, nil) — never an error, since a
// manifest miss is not itself a cache failure.
//
// Failure semantics: a manifest whose checksum does not verify is treated
// as missing and removed (spec.md §4.2). A per-entry stat error counts as
// a mismatch for that entry and moves on to the next, never surfacing as
// a cache error.
func (s *Store) Get(key hash.Digest, stat Stat, sloppy sloppiness.Set) (hash.Digest, bool, error) {
	m, ok, err := s.load(key)
	if err != nil || !ok {
		return hash.Digest{}, false, err
	}

	for _, entry := range m.Entries {
		if entryMatches(entry, stat, sloppy) {
			return entry.ResultKey, true, nil
		}
	}
	return hash.Digest{}, false, nil
}

func entryMatches(entry Entry, stat Stat, sloppy sloppiness.Set) bool {
	for _, fp := range entry.Fingerprints {
		current, err := stat(fp.Path)
		if err != nil {
			return false
		}
		if !fp.Matches(current, sloppy) {
			return false
		}
	}
	return true
}

// Put appends a new entry recording fingerprints -> resultKey under
// direct_key, dropping the oldest entry if the manifest exceeds
// cfg.ManifestMaxEntries, then persists via atomic write (spec.md §4.2
// "put").
func (s *Store) Put(key hash.Digest, fingerprints []FileFingerprint, resultKey hash.Digest) error {
	m, ok, err := s.load(key)
	if err != nil {
		return err
	}
	if !ok {
		m = Manifest{}
	}

	if err := m.Append(fingerprints, resultKey, s.cfg.ManifestMaxEntries); err != nil {
		return pkgerrors.Wrap(err, "unable to append manifest entry")
	}

	payload, err := Encode(m)
	if err != nil {
		return pkgerrors.Wrap(err, "unable to encode manifest")
	}

	codec := s.codec()
	header := cacheentry.Header{
		FormatVersion: ccacheinfo.FormatVersion,
		EntryType:     cacheentry.TypeManifest,
		CreationTime:  time.Now().Unix(),
		CCacheVersion: ccacheinfo.Version,
		Namespace:     s.cfg.Namespace,
	}

	var buf bytes.Buffer
	if err := cacheentry.Write(&buf, header, payload, codec); err != nil {
		return pkgerrors.Wrap(err, "unable to serialize manifest entry")
	}

	if err := s.backend.WriteAtomic(key, buf.Bytes()); err != nil {
		return pkgerrors.Wrap(err, "unable to write manifest")
	}
	return nil
}

// load reads and decodes the manifest at key, treating a missing file or
// a checksum failure identically: (zero value, false, nil). A checksum
// failure also removes the offending file.
func (s *Store) load(key hash.Digest) (Manifest, bool, error) {
	r, err := s.backend.Read(key)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, pkgerrors.Wrap(err, "unable to read manifest")
	}
	defer r.Close()

	_, payload, err := cacheentry.Read(r)
	if err != nil {
		if err == cacheentry.ErrCorruptEntry {
			_ = s.backend.Remove(key)
			return Manifest{}, false, nil
		}
		return Manifest{}, false, pkgerrors.Wrap(err, "unable to parse manifest entry")
	}

	m, err := Decode(payload)
	if err != nil {
		// A manifest that fails to decode is corrupt in the same sense as a
		// checksum failure: treat as missing and remove it.
		_ = s.backend.Remove(key)
		return Manifest{}, false, nil
	}

	return m, true, nil
}

func (s *Store) codec() compress.Codec {
	if s.cfg.CompressionDisabled {
		return compress.NewNone()
	}
	return compress.NewZstd(s.cfg.CompressionLevel)
}
