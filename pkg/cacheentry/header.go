// Package cacheentry implements the on-disk cache-entry header, checksum
// trailer, and compression envelope shared by manifest and result files
// (spec.md §3 "Cache entry header", §4.3). Big-endian integer encoding is
// grounded on orig src/ccache/core/cacheentrydatawriter.hpp and
// cacheentrydatareader.hpp's field order.
package cacheentry

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/compilecache/ccache/pkg/compress"
)

// EntryType distinguishes a manifest entry from a result entry.
type EntryType uint8

const (
	TypeManifest EntryType = iota
	TypeResult
)

func (t EntryType) String() string {
	switch t {
	case TypeManifest:
		return "manifest"
	case TypeResult:
		return "result"
	default:
		return "unknown"
	}
}

// magicManifest and magicResult are the fixed 4-byte identifiers
// distinguishing the two entry kinds at the start of every on-disk file
// (spec.md §3: "Fixed identifier distinguishing manifest vs result
// entries").
var (
	magicManifest = [4]byte{'C', 'C', 'H', 'M'}
	magicResult   = [4]byte{'C', 'C', 'H', 'R'}
)

func magicFor(t EntryType) [4]byte {
	if t == TypeManifest {
		return magicManifest
	}
	return magicResult
}

// Header is the fixed-plus-variable-length prefix of every on-disk cache
// entry (spec.md §3 table).
type Header struct {
	FormatVersion    uint8
	EntryType        EntryType
	CompressionType  compress.Type
	CompressionLevel int8
	CreationTime     int64
	CCacheVersion    string
	Namespace        string
	EntrySize        uint64
}

// WriteHeader serializes h to w in the on-disk wire format. CCacheVersion
// and Namespace must each be at most 255 bytes (their length-prefix is a
// single byte, per spec.md §3).
func WriteHeader(w io.Writer, h Header) error {
	if len(h.CCacheVersion) > 255 {
		return fmt.Errorf("cacheentry: ccache_version too long: %d bytes", len(h.CCacheVersion))
	}
	if len(h.Namespace) > 255 {
		return fmt.Errorf("cacheentry: namespace too long: %d bytes", len(h.Namespace))
	}

	magic := magicFor(h.EntryType)
	fields := []interface{}{
		magic,
		h.FormatVersion,
		uint8(h.EntryType),
		uint8(h.CompressionType),
		h.CompressionLevel,
		h.CreationTime,
		uint8(len(h.CCacheVersion)),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return fmt.Errorf("cacheentry: unable to write header field: %w", err)
		}
	}
	if _, err := io.WriteString(w, h.CCacheVersion); err != nil {
		return fmt.Errorf("cacheentry: unable to write ccache_version: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint8(len(h.Namespace))); err != nil {
		return fmt.Errorf("cacheentry: unable to write namespace_length: %w", err)
	}
	if _, err := io.WriteString(w, h.Namespace); err != nil {
		return fmt.Errorf("cacheentry: unable to write namespace: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, h.EntrySize); err != nil {
		return fmt.Errorf("cacheentry: unable to write entry_size: %w", err)
	}
	return nil
}

// ReadHeader parses a Header from the front of r. It returns an error
// (never ErrCorruptEntry, which is reserved for trailer checksum
// mismatches) if the magic is unrecognized or the stream is truncated.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read magic: %w", err)
	}
	switch magic {
	case magicManifest:
		h.EntryType = TypeManifest
	case magicResult:
		h.EntryType = TypeResult
	default:
		return h, fmt.Errorf("cacheentry: unrecognized magic %x", magic)
	}

	if err := binary.Read(r, binary.BigEndian, &h.FormatVersion); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read format_version: %w", err)
	}

	var entryType, compressionType uint8
	if err := binary.Read(r, binary.BigEndian, &entryType); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read entry_type: %w", err)
	}
	if EntryType(entryType) != h.EntryType {
		return h, fmt.Errorf("cacheentry: entry_type %d does not match magic-implied type %s", entryType, h.EntryType)
	}

	if err := binary.Read(r, binary.BigEndian, &compressionType); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read compression_type: %w", err)
	}
	h.CompressionType = compress.Type(compressionType)

	if err := binary.Read(r, binary.BigEndian, &h.CompressionLevel); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read compression_level: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &h.CreationTime); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read creation_time: %w", err)
	}

	var ccacheVersionLen uint8
	if err := binary.Read(r, binary.BigEndian, &ccacheVersionLen); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read ccache_version_length: %w", err)
	}
	ccacheVersion := make([]byte, ccacheVersionLen)
	if _, err := io.ReadFull(r, ccacheVersion); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read ccache_version: %w", err)
	}
	h.CCacheVersion = string(ccacheVersion)

	var namespaceLen uint8
	if err := binary.Read(r, binary.BigEndian, &namespaceLen); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read namespace_length: %w", err)
	}
	namespace := make([]byte, namespaceLen)
	if _, err := io.ReadFull(r, namespace); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read namespace: %w", err)
	}
	h.Namespace = string(namespace)

	if err := binary.Read(r, binary.BigEndian, &h.EntrySize); err != nil {
		return h, fmt.Errorf("cacheentry: unable to read entry_size: %w", err)
	}

	return h, nil
}
