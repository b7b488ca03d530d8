package compress

import (
	"bytes"
	"testing"
)

func TestNoneRoundTrip(t *testing.T) {
	codec := NewNone()
	data := []byte("hello world")

	compressed, err := codec.Compress(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(compressed, data) {
		t.Fatalf("none codec should pass data through unchanged")
	}

	decompressed, err := codec.Decompress(compressed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("round-trip mismatch: %q != %q", decompressed, data)
	}
}

func TestZstdRoundTrip(t *testing.T) {
	for _, level := range []int{-5, 0, 3, 19} {
		codec := NewZstd(level)
		data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 64)

		compressed, err := codec.Compress(data)
		if err != nil {
			t.Fatalf("level %d: unexpected compress error: %v", level, err)
		}
		decompressed, err := codec.Decompress(compressed)
		if err != nil {
			t.Fatalf("level %d: unexpected decompress error: %v", level, err)
		}
		if !bytes.Equal(decompressed, data) {
			t.Fatalf("level %d: round-trip mismatch", level)
		}
	}
}

func TestZstdEmptyPayload(t *testing.T) {
	codec := NewZstd(3)
	compressed, err := codec.Compress(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decompressed, err := codec.Decompress(compressed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decompressed) != 0 {
		t.Fatalf("expected empty round-trip, got %d bytes", len(decompressed))
	}
}

func TestForType(t *testing.T) {
	codec, err := ForType(None, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if codec.Type() != None {
		t.Errorf("expected None codec")
	}

	codec, err = ForType(Zstd, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if codec.Type() != Zstd || codec.Level() != 5 {
		t.Errorf("expected Zstd codec at level 5, got %v level %d", codec.Type(), codec.Level())
	}

	if _, err := ForType(Type(99), 0); err == nil {
		t.Error("expected error for unknown compression type")
	}
}

func TestTypeString(t *testing.T) {
	if None.String() != "none" {
		t.Errorf("None.String() = %q, want %q", None.String(), "none")
	}
	if Zstd.String() != "zstd" {
		t.Errorf("Zstd.String() = %q, want %q", Zstd.String(), "zstd")
	}
}
