package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/compilecache/ccache/pkg/hash"
)

// FormatVersion is the version byte prefixed to every encoded manifest.
const FormatVersion = 1

// Entry is one manifest entry: the set of include-file fingerprints
// observed during a build, plus the result-mode key that build's outputs
// were stored under (spec.md §3 "Manifest").
type Entry struct {
	Fingerprints []FileFingerprint
	ResultKey    hash.Digest
}

// Manifest is an ordered, append-only list of entries bridging a
// direct-mode key to the result keys of builds that have matched it
// (spec.md §3 "Manifest" invariants (a)-(c)).
type Manifest struct {
	Entries []Entry
}

// Append adds a new entry, enforcing spec.md §3 invariant (a) (no
// duplicate path within one entry's fingerprint list) and (c) (bounded
// total entries — the oldest is dropped once maxEntries is exceeded).
func (m *Manifest) Append(fingerprints []FileFingerprint, resultKey hash.Digest, maxEntries int) error {
	seen := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		if seen[fp.Path] {
			return fmt.Errorf("manifest: duplicate path %q within one entry", fp.Path)
		}
		seen[fp.Path] = true
	}

	m.Entries = append(m.Entries, Entry{Fingerprints: fingerprints, ResultKey: resultKey})

	if maxEntries > 0 {
		for len(m.Entries) > maxEntries {
			m.Entries = m.Entries[1:]
		}
	}
	return nil
}

// wire-format file-info: either a content digest or a stat tuple.
type fileInfo struct {
	pathIndex int
	hasDigest bool
	digest    hash.Digest
	mtime     int64
	ctime     int64
	size      int64
}

// Encode serializes m into the wire format described in spec.md §6:
// version byte, path table, file-info table, entry table (each entry an
// array of file-info indices plus a 20-byte result key).
func Encode(m Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := buf.WriteByte(FormatVersion); err != nil {
		return nil, err
	}

	pathIndex := make(map[string]int)
	var paths []string
	fileInfoIndex := make(map[fileInfo]int)
	var fileInfos []fileInfo
	entryIndices := make([][]int, len(m.Entries))

	for entryNum, entry := range m.Entries {
		indices := make([]int, 0, len(entry.Fingerprints))
		for _, fp := range entry.Fingerprints {
			pi, ok := pathIndex[fp.Path]
			if !ok {
				pi = len(paths)
				paths = append(paths, fp.Path)
				pathIndex[fp.Path] = pi
			}

			fi := fileInfo{
				pathIndex: pi,
				hasDigest: fp.HasDigest,
				digest:    fp.Digest,
				mtime:     fp.Mtime,
				ctime:     fp.Ctime,
				size:      fp.Size,
			}
			fiIdx, ok := fileInfoIndex[fi]
			if !ok {
				fiIdx = len(fileInfos)
				fileInfos = append(fileInfos, fi)
				fileInfoIndex[fi] = fiIdx
			}
			indices = append(indices, fiIdx)
		}
		entryIndices[entryNum] = indices
	}

	// Path table.
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(paths))); err != nil {
		return nil, err
	}
	for _, p := range paths {
		if len(p) > 0xFFFF {
			return nil, fmt.Errorf("manifest: path too long: %d bytes", len(p))
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(p))); err != nil {
			return nil, err
		}
		buf.WriteString(p)
	}

	// File-info table.
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(fileInfos))); err != nil {
		return nil, err
	}
	for _, fi := range fileInfos {
		if err := binary.Write(&buf, binary.BigEndian, uint32(fi.pathIndex)); err != nil {
			return nil, err
		}
		hasDigest := byte(0)
		if fi.hasDigest {
			hasDigest = 1
		}
		if err := buf.WriteByte(hasDigest); err != nil {
			return nil, err
		}
		if fi.hasDigest {
			buf.Write(fi.digest[:])
		}
		for _, v := range []int64{fi.mtime, fi.ctime, fi.size} {
			if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
				return nil, err
			}
		}
	}

	// Entry table.
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(m.Entries))); err != nil {
		return nil, err
	}
	for entryNum, entry := range m.Entries {
		indices := entryIndices[entryNum]
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(indices))); err != nil {
			return nil, err
		}
		for _, idx := range indices {
			if err := binary.Write(&buf, binary.BigEndian, uint32(idx)); err != nil {
				return nil, err
			}
		}
		buf.Write(entry.ResultKey[:])
	}

	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Manifest, error) {
	var m Manifest
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("manifest: unable to read format version: %w", err)
	}
	if version != FormatVersion {
		return m, fmt.Errorf("manifest: unsupported format version %d", version)
	}

	var pathCount uint32
	if err := binary.Read(r, binary.BigEndian, &pathCount); err != nil {
		return m, fmt.Errorf("manifest: unable to read path table size: %w", err)
	}
	paths := make([]string, pathCount)
	for i := range paths {
		var length uint16
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return m, fmt.Errorf("manifest: unable to read path length: %w", err)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return m, fmt.Errorf("manifest: unable to read path: %w", err)
		}
		paths[i] = string(buf)
	}

	var fileInfoCount uint32
	if err := binary.Read(r, binary.BigEndian, &fileInfoCount); err != nil {
		return m, fmt.Errorf("manifest: unable to read file-info table size: %w", err)
	}
	fileInfos := make([]fileInfo, fileInfoCount)
	for i := range fileInfos {
		var pi uint32
		if err := binary.Read(r, binary.BigEndian, &pi); err != nil {
			return m, fmt.Errorf("manifest: unable to read file-info path index: %w", err)
		}
		hasDigestByte, err := r.ReadByte()
		if err != nil {
			return m, fmt.Errorf("manifest: unable to read file-info has_digest: %w", err)
		}
		fi := fileInfo{pathIndex: int(pi), hasDigest: hasDigestByte != 0}
		if fi.hasDigest {
			if _, err := io.ReadFull(r, fi.digest[:]); err != nil {
				return m, fmt.Errorf("manifest: unable to read file-info digest: %w", err)
			}
		}
		values := [3]*int64{&fi.mtime, &fi.ctime, &fi.size}
		for _, v := range values {
			if err := binary.Read(r, binary.BigEndian, v); err != nil {
				return m, fmt.Errorf("manifest: unable to read file-info stat field: %w", err)
			}
		}
		fileInfos[i] = fi
	}

	var entryCount uint32
	if err := binary.Read(r, binary.BigEndian, &entryCount); err != nil {
		return m, fmt.Errorf("manifest: unable to read entry table size: %w", err)
	}
	m.Entries = make([]Entry, entryCount)
	for i := range m.Entries {
		var indexCount uint32
		if err := binary.Read(r, binary.BigEndian, &indexCount); err != nil {
			return m, fmt.Errorf("manifest: unable to read entry file-info count: %w", err)
		}
		fps := make([]FileFingerprint, indexCount)
		for j := range fps {
			var idx uint32
			if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
				return m, fmt.Errorf("manifest: unable to read entry file-info index: %w", err)
			}
			if int(idx) >= len(fileInfos) {
				return m, fmt.Errorf("manifest: file-info index %d out of range", idx)
			}
			fi := fileInfos[idx]
			if fi.pathIndex >= len(paths) {
				return m, fmt.Errorf("manifest: path index %d out of range", fi.pathIndex)
			}
			fps[j] = FileFingerprint{
				Path:      paths[fi.pathIndex],
				HasDigest: fi.hasDigest,
				Digest:    fi.digest,
				Mtime:     fi.mtime,
				Ctime:     fi.ctime,
				Size:      fi.size,
			}
		}

		var resultKey hash.Digest
		if _, err := io.ReadFull(r, resultKey[:]); err != nil {
			return m, fmt.Errorf("manifest: unable to read entry result key: %w", err)
		}
		m.Entries[i] = Entry{Fingerprints: fps, ResultKey: resultKey}
	}

	return m, nil
}
