// Package compress implements the pluggable payload compressors referenced
// by the cache-entry header's compression_type field (spec.md §3, §4.3).
// Orig: src/compr_none.cpp, src/decompr_none.cpp,
// src/compression/NullCompressor.cpp for the no-op codec's shape.
package compress

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Type identifies which codec produced a cache entry's compressed payload,
// stored verbatim in the cache-entry header's compression_type byte.
type Type uint8

const (
	// None is the pass-through, no-op codec.
	None Type = iota
	// Zstd is Zstandard compression via github.com/klauspost/compress/zstd.
	Zstd
)

// String renders the type for logging.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Codec compresses and decompresses the portion of a cache entry that
// follows the fixed header prefix (spec.md §4.3 step 5). Implementations
// must be safe for reuse across many Compress/Decompress calls but need
// not be safe for concurrent use.
type Codec interface {
	Type() Type
	Level() int
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// noneCodec is the identity codec (orig: NullCompressor): it emits its
// input unchanged, used when compression is disabled or as a debugging
// baseline.
type noneCodec struct{}

// NewNone constructs the no-op codec.
func NewNone() Codec { return noneCodec{} }

func (noneCodec) Type() Type  { return None }
func (noneCodec) Level() int  { return 0 }
func (noneCodec) Compress(data []byte) ([]byte, error) {
	return data, nil
}
func (noneCodec) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

// zstdCodec compresses with Zstandard at a fixed signed level, matching the
// level field carried in the cache-entry header. A new encoder/decoder is
// created per call since cache operations are single-shot within a
// short-lived process, rather than amortized across a long-running
// service the way pkg/synchronization does for its own flate codec.
type zstdCodec struct {
	level int
}

// NewZstd constructs a Zstandard codec at the given signed compression
// level. Negative levels request the library's fastest settings; ccache's
// own level scale (negative = faster/larger, positive = smaller/slower) is
// passed straight through to zstd.EncoderLevelFromZstd.
func NewZstd(level int) Codec {
	return zstdCodec{level: level}
}

func (z zstdCodec) Type() Type { return Zstd }
func (z zstdCodec) Level() int { return z.level }

func (z zstdCodec) Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(z.level)))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create zstd encoder")
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

func (z zstdCodec) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create zstd decoder")
	}
	defer decoder.Close()
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decompress zstd payload")
	}
	return out, nil
}

// ForType constructs the codec named by t at the given level, for callers
// (cacheentry.Read) that only know the type after parsing a header.
func ForType(t Type, level int) (Codec, error) {
	switch t {
	case None:
		return NewNone(), nil
	case Zstd:
		return NewZstd(level), nil
	default:
		return nil, errors.Errorf("unknown compression type %d", t)
	}
}
