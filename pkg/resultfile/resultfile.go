// Package resultfile implements the result-entry payload format: an
// ordered list of (file-type, payload) records, each either embedded
// inline or stored as a raw sidecar file (spec.md §3 "Result entry", §6
// "Result payload"). Orig: src/core/Writer.hpp/Reader.hpp and
// src/ccache/core/resultinspector.cpp for the (marker, file_type, size,
// payload) tuple shape.
package resultfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// FormatVersion is the version byte prefixed to every encoded result
// payload.
const FormatVersion = 1

// FileType enumerates the kinds of output a compiler invocation can
// produce, matching spec.md §3's fixed enumeration.
type FileType uint8

const (
	Object FileType = iota
	Dependency
	Stderr
	CoverageNotes
	StackUsage
	Diagnostic
	DwarfObject
	AssemblerListing
	IncludedPCHFile
)

func (t FileType) String() string {
	switch t {
	case Object:
		return "object"
	case Dependency:
		return "dependency"
	case Stderr:
		return "stderr"
	case CoverageNotes:
		return "coverage_notes"
	case StackUsage:
		return "stack_usage"
	case Diagnostic:
		return "diagnostic"
	case DwarfObject:
		return "dwarf_object"
	case AssemblerListing:
		return "assembler_listing"
	case IncludedPCHFile:
		return "included_pch_file"
	default:
		return "unknown"
	}
}

// Kind distinguishes an embedded payload from a raw sidecar reference.
type Kind uint8

const (
	Embedded Kind = iota
	Raw
)

// File is one record in a result entry. For Kind == Embedded, Bytes holds
// the payload. For Kind == Raw, SidecarNumber identifies the sidecar file
// (named "<key>.<SidecarNumber>W" by the storage layer, spec.md §3
// "Storage entity") and Bytes is nil; resolving and reading that file is
// the storage layer's job, not this package's.
type File struct {
	Type          FileType
	Kind          Kind
	Size          uint64
	Bytes         []byte
	SidecarNumber uint8
}

// Entry is an ordered list of result files (spec.md §3 "Result entry").
type Entry struct {
	Files []File

	nextSidecar uint8
}

// AddFile appends a file to the entry, deciding embedded vs. raw based on
// content's length against inlineThreshold (spec.md §4.3 writer protocol
// step 2). When the decision is Raw, the returned rawPayload is the exact
// bytes the caller (the storage layer) must persist as the sidecar file
// named by the returned sidecar number; AddFile does no I/O itself.
//
// It returns an error if fileType already appears in the entry (spec.md
// §3 invariant: "each file-type appears at most once per entry").
func (e *Entry) AddFile(fileType FileType, content []byte, inlineThreshold uint64) (rawPayload []byte, err error) {
	for _, f := range e.Files {
		if f.Type == fileType {
			return nil, fmt.Errorf("resultfile: file type %s already present in entry", fileType)
		}
	}

	file := File{Type: fileType, Size: uint64(len(content))}
	if uint64(len(content)) <= inlineThreshold {
		file.Kind = Embedded
		file.Bytes = content
		e.Files = append(e.Files, file)
		return nil, nil
	}

	file.Kind = Raw
	file.SidecarNumber = e.nextSidecar
	e.nextSidecar++
	e.Files = append(e.Files, file)
	return content, nil
}

// Encode serializes e into the wire format described in spec.md §6:
// version byte, then a sequence of (marker:1, file_type:1, size:8,
// [bytes:size | sidecar_number:1]).
func Encode(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := buf.WriteByte(FormatVersion); err != nil {
		return nil, err
	}

	for _, f := range e.Files {
		if err := buf.WriteByte(byte(f.Kind)); err != nil {
			return nil, err
		}
		if err := buf.WriteByte(byte(f.Type)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, f.Size); err != nil {
			return nil, err
		}
		switch f.Kind {
		case Embedded:
			if uint64(len(f.Bytes)) != f.Size {
				return nil, fmt.Errorf("resultfile: file type %s size %d does not match byte length %d", f.Type, f.Size, len(f.Bytes))
			}
			buf.Write(f.Bytes)
		case Raw:
			if err := buf.WriteByte(f.SidecarNumber); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("resultfile: unknown payload kind %d", f.Kind)
		}
	}

	return buf.Bytes(), nil
}

// Decode is the inverse of Encode. Raw files are returned with Bytes ==
// nil; resolving their sidecar content is the storage layer's job.
func Decode(data []byte) (Entry, error) {
	var e Entry
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return e, fmt.Errorf("resultfile: unable to read format version: %w", err)
	}
	if version != FormatVersion {
		return e, fmt.Errorf("resultfile: unsupported format version %d", version)
	}

	for r.Len() > 0 {
		kindByte, err := r.ReadByte()
		if err != nil {
			return e, fmt.Errorf("resultfile: unable to read marker: %w", err)
		}
		typeByte, err := r.ReadByte()
		if err != nil {
			return e, fmt.Errorf("resultfile: unable to read file_type: %w", err)
		}
		var size uint64
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return e, fmt.Errorf("resultfile: unable to read size: %w", err)
		}

		file := File{Type: FileType(typeByte), Kind: Kind(kindByte), Size: size}
		switch file.Kind {
		case Embedded:
			bytesBuf := make([]byte, size)
			if _, err := io.ReadFull(r, bytesBuf); err != nil {
				return e, fmt.Errorf("resultfile: unable to read embedded bytes for %s: %w", file.Type, err)
			}
			file.Bytes = bytesBuf
		case Raw:
			sidecarNumber, err := r.ReadByte()
			if err != nil {
				return e, fmt.Errorf("resultfile: unable to read sidecar_number for %s: %w", file.Type, err)
			}
			file.SidecarNumber = sidecarNumber
		default:
			return e, fmt.Errorf("resultfile: unknown payload marker %d", kindByte)
		}

		e.Files = append(e.Files, file)
		if file.Kind == Raw && file.SidecarNumber >= e.nextSidecar {
			e.nextSidecar = file.SidecarNumber + 1
		}
	}

	return e, nil
}

// Get returns the file of the given type, if present.
func (e Entry) Get(fileType FileType) (File, bool) {
	for _, f := range e.Files {
		if f.Type == fileType {
			return f, true
		}
	}
	return File{}, false
}
