package cacheentry

import (
	"bytes"
	"testing"

	"github.com/compilecache/ccache/pkg/compress"
)

func testHeader(entryType EntryType) Header {
	return Header{
		FormatVersion: 1,
		EntryType:     entryType,
		CreationTime:  1700000000,
		CCacheVersion: "1.0.0",
		Namespace:     "test-ns",
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	h := testHeader(TypeManifest)
	h.CompressionType = compress.None
	h.EntrySize = 42

	if err := WriteHeader(&buf, h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != h {
		t.Fatalf("round-trip mismatch:\n got  %+v\n want %+v", got, h)
	}
}

func TestReadHeaderRejectsUnknownMagic(t *testing.T) {
	buf := bytes.NewBufferString("XXXX")
	if _, err := ReadHeader(buf); err == nil {
		t.Fatal("expected error for unrecognized magic")
	}
}

func TestWriteReadRoundTripNone(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("object file bytes go here")

	if err := Write(&buf, testHeader(TypeResult), payload, compress.NewNone()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	header, got, err := Read(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", got, payload)
	}
	if header.EntryType != TypeResult {
		t.Errorf("expected TypeResult, got %v", header.EntryType)
	}
	if header.EntrySize != uint64(len(payload)) {
		t.Errorf("expected EntrySize %d, got %d", len(payload), header.EntrySize)
	}
}

func TestWriteReadRoundTripZstd(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("compressible data "), 200)

	if err := Write(&buf, testHeader(TypeResult), payload, compress.NewZstd(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, got, err := Read(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch after zstd round-trip")
	}
}

func TestReadDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("some result bytes")

	if err := Write(&buf, testHeader(TypeResult), payload, compress.NewNone()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw := buf.Bytes()
	// Flip a byte 5 bytes from the end of the stream, inside the trailing
	// checksum.
	corrupted := append([]byte(nil), raw...)
	mid := len(corrupted) - 5
	corrupted[mid] ^= 0xFF

	_, _, err := Read(bytes.NewReader(corrupted))
	if err == nil {
		t.Fatal("expected an error for corrupted entry")
	}
}

func TestEmptyPayloadRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	if err := Write(&buf, testHeader(TypeManifest), nil, compress.NewNone()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, got, err := Read(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got))
	}
}
