package cacheentry

import (
	"bytes"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/compilecache/ccache/pkg/compress"
	"github.com/compilecache/ccache/pkg/stream"
)

// Write serializes header and payload to w following spec.md §4.3's writer
// protocol: the header is emitted uncompressed, then payload+checksum are
// compressed together and appended. header.EntrySize, CompressionType, and
// CompressionLevel are overwritten from payload and codec before writing,
// so callers need only fill in FormatVersion, EntryType, CreationTime,
// CCacheVersion, and Namespace.
//
// The checksum is computed over the uncompressed header bytes followed by
// the uncompressed payload, matching spec.md §3's "16-byte XXH3-128
// checksum of the uncompressed header+payload bytes". The header half is
// hashed in the same pass it's serialized, via pkg/stream's
// NewHashedWriter wrapping the header buffer; the payload is already
// assembled as a single byte slice (it arrives pre-built from resultfile/
// manifest encoding) so it's hashed directly.
func Write(w io.Writer, header Header, payload []byte, codec compress.Codec) error {
	header.EntrySize = uint64(len(payload))
	header.CompressionType = codec.Type()
	header.CompressionLevel = int8(codec.Level())

	hasher := xxh3.New()

	var headerBuf bytes.Buffer
	if err := WriteHeader(stream.NewHashedWriter(&headerBuf, hasher), header); err != nil {
		return err
	}

	hasher.Write(payload)
	checksum := hasher.Sum128().Bytes()

	toCompress := make([]byte, 0, len(payload)+len(checksum))
	toCompress = append(toCompress, payload...)
	toCompress = append(toCompress, checksum[:]...)

	compressed, err := codec.Compress(toCompress)
	if err != nil {
		return fmt.Errorf("cacheentry: unable to compress payload: %w", err)
	}

	if _, err := w.Write(headerBuf.Bytes()); err != nil {
		return fmt.Errorf("cacheentry: unable to write header: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return fmt.Errorf("cacheentry: unable to write compressed payload: %w", err)
	}
	return nil
}

// Read is the inverse of Write: it parses the header, decompresses the
// remainder of r, and verifies the trailer checksum before returning the
// payload. A checksum mismatch returns ErrCorruptEntry with a nil payload;
// the caller is responsible for deleting the on-disk file (spec.md §4.3:
// "the offending file is removed; the request is treated as a miss").
func Read(r io.Reader) (Header, []byte, error) {
	hasher := xxh3.New()

	header, err := ReadHeader(io.TeeReader(r, stream.NewHashedWriter(io.Discard, hasher)))
	if err != nil {
		return header, nil, err
	}

	compressed, err := io.ReadAll(r)
	if err != nil {
		return header, nil, fmt.Errorf("cacheentry: unable to read compressed payload: %w", err)
	}

	codec, err := compress.ForType(header.CompressionType, int(header.CompressionLevel))
	if err != nil {
		return header, nil, fmt.Errorf("cacheentry: %w", err)
	}

	decompressed, err := codec.Decompress(compressed)
	if err != nil {
		return header, nil, fmt.Errorf("cacheentry: unable to decompress payload: %w", err)
	}

	const checksumSize = 16
	if uint64(len(decompressed)) < header.EntrySize+checksumSize {
		return header, nil, fmt.Errorf("cacheentry: decompressed size %d shorter than entry_size+checksum %d", len(decompressed), header.EntrySize+checksumSize)
	}

	payload := decompressed[:header.EntrySize]
	trailer := decompressed[header.EntrySize : header.EntrySize+checksumSize]

	hasher.Write(payload)
	checksum := hasher.Sum128().Bytes()

	if !bytes.Equal(checksum[:], trailer) {
		return header, nil, ErrCorruptEntry
	}

	return header, payload, nil
}
