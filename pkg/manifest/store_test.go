package manifest

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/compilecache/ccache/pkg/config"
	"github.com/compilecache/ccache/pkg/hash"
	"github.com/compilecache/ccache/pkg/sloppiness"
)

// fakeBackend is an in-memory Backend for testing Store without touching
// the filesystem (pkg/localstore provides the real implementation).
type fakeBackend struct {
	data map[hash.Digest][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[hash.Digest][]byte)}
}

func (b *fakeBackend) Read(key hash.Digest) (io.ReadCloser, error) {
	data, ok := b.data[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBackend) WriteAtomic(key hash.Digest, data []byte) error {
	cp := append([]byte(nil), data...)
	b.data[key] = cp
	return nil
}

func (b *fakeBackend) Remove(key hash.Digest) error {
	delete(b.data, key)
	return nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.CompressionDisabled = true
	cfg.ManifestMaxEntries = 10
	return cfg
}

func TestStoreGetMissOnEmptyBackend(t *testing.T) {
	store := NewStore(newFakeBackend(), testConfig())
	key := digestFrom("direct-key")

	_, ok, err := store.Get(key, func(string) (FileFingerprint, error) {
		t.Fatal("stat should not be called when manifest is absent")
		return FileFingerprint{}, nil
	}, sloppiness.None)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected miss on empty backend")
	}
}

func TestStorePutThenGetHit(t *testing.T) {
	store := NewStore(newFakeBackend(), testConfig())
	key := digestFrom("direct-key")
	resultKey := digestFrom("result-key")

	fps := []FileFingerprint{{Path: "a.h", HasDigest: true, Digest: digestFrom("a-content")}}
	if err := store.Put(key, fps, resultKey); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stat := func(path string) (FileFingerprint, error) {
		return FileFingerprint{Path: path, HasDigest: true, Digest: digestFrom("a-content")}, nil
	}

	got, ok, err := store.Get(key, stat, sloppiness.None)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected hit after put")
	}
	if !got.Equal(resultKey) {
		t.Errorf("result key mismatch: got %v, want %v", got, resultKey)
	}
}

func TestStoreGetMissWhenFingerprintChanged(t *testing.T) {
	store := NewStore(newFakeBackend(), testConfig())
	key := digestFrom("direct-key")
	resultKey := digestFrom("result-key")

	fps := []FileFingerprint{{Path: "a.h", HasDigest: true, Digest: digestFrom("a-content")}}
	if err := store.Put(key, fps, resultKey); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stat := func(path string) (FileFingerprint, error) {
		return FileFingerprint{Path: path, HasDigest: true, Digest: digestFrom("changed-content")}, nil
	}

	_, ok, err := store.Get(key, stat, sloppiness.None)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected miss after include file content changed")
	}
}

func TestStoreGetMissOnStatError(t *testing.T) {
	store := NewStore(newFakeBackend(), testConfig())
	key := digestFrom("direct-key")

	fps := []FileFingerprint{{Path: "a.h", HasDigest: true, Digest: digestFrom("a-content")}}
	if err := store.Put(key, fps, digestFrom("result-key")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stat := func(path string) (FileFingerprint, error) {
		return FileFingerprint{}, errors.New("stat failed")
	}

	_, ok, err := store.Get(key, stat, sloppiness.None)
	if err != nil {
		t.Fatalf("expected stat error to be treated as a mismatch, not surfaced: %v", err)
	}
	if ok {
		t.Fatal("expected miss when stat fails")
	}
}

func TestStorePutAppendsSecondEntry(t *testing.T) {
	backend := newFakeBackend()
	store := NewStore(backend, testConfig())
	key := digestFrom("direct-key")

	fps1 := []FileFingerprint{{Path: "a.h", HasDigest: true, Digest: digestFrom("v1")}}
	fps2 := []FileFingerprint{{Path: "a.h", HasDigest: true, Digest: digestFrom("v2")}}

	if err := store.Put(key, fps1, digestFrom("r1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Put(key, fps2, digestFrom("r2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok, err := store.load(key)
	if err != nil || !ok {
		t.Fatalf("expected manifest to load, ok=%v err=%v", ok, err)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("expected 2 entries after two puts, got %d", len(m.Entries))
	}
}

func TestStoreGetRemovesCorruptManifest(t *testing.T) {
	backend := newFakeBackend()
	store := NewStore(backend, testConfig())
	key := digestFrom("direct-key")

	if err := store.Put(key, []FileFingerprint{{Path: "a.h"}}, digestFrom("r1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw := backend.data[key]
	corrupted := append([]byte(nil), raw...)
	corrupted[len(corrupted)-1] ^= 0xFF
	backend.data[key] = corrupted

	_, ok, err := store.Get(key, func(string) (FileFingerprint, error) {
		return FileFingerprint{}, nil
	}, sloppiness.None)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected miss for corrupted manifest")
	}
	if _, stillPresent := backend.data[key]; stillPresent {
		t.Error("expected corrupted manifest to be removed from backend")
	}
}
