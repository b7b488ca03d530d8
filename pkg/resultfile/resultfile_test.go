package resultfile

import (
	"bytes"
	"testing"
)

func TestAddFileEmbedsSmallPayload(t *testing.T) {
	var e Entry
	raw, err := e.AddFile(Object, []byte("small object bytes"), 4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw != nil {
		t.Fatal("expected no raw payload for embedded file")
	}
	f, ok := e.Get(Object)
	if !ok || f.Kind != Embedded {
		t.Fatalf("expected embedded Object file, got %+v (ok=%v)", f, ok)
	}
}

func TestAddFileRawForLargePayload(t *testing.T) {
	var e Entry
	content := bytes.Repeat([]byte("x"), 100)
	raw, err := e.AddFile(Object, content, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(raw, content) {
		t.Fatal("expected raw payload to be returned for caller to persist")
	}
	f, ok := e.Get(Object)
	if !ok || f.Kind != Raw || f.Bytes != nil {
		t.Fatalf("expected raw Object file with no inline bytes, got %+v", f)
	}
}

func TestAddFileRejectsDuplicateType(t *testing.T) {
	var e Entry
	if _, err := e.AddFile(Stderr, []byte("a"), 4096); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.AddFile(Stderr, []byte("b"), 4096); err == nil {
		t.Fatal("expected error for duplicate file type")
	}
}

func TestAddFileAssignsSequentialSidecarNumbers(t *testing.T) {
	var e Entry
	if _, err := e.AddFile(Object, bytes.Repeat([]byte("a"), 100), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.AddFile(DwarfObject, bytes.Repeat([]byte("b"), 100), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	obj, _ := e.Get(Object)
	dwarf, _ := e.Get(DwarfObject)
	if obj.SidecarNumber != 0 || dwarf.SidecarNumber != 1 {
		t.Fatalf("expected sidecar numbers 0,1, got %d,%d", obj.SidecarNumber, dwarf.SidecarNumber)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var e Entry
	if _, err := e.AddFile(Object, []byte("object bytes"), 4096); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.AddFile(Stderr, []byte(""), 4096); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	large := bytes.Repeat([]byte("z"), 200)
	if _, err := e.AddFile(Dependency, large, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := Encode(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(decoded.Files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(decoded.Files))
	}

	obj, ok := decoded.Get(Object)
	if !ok || !bytes.Equal(obj.Bytes, []byte("object bytes")) {
		t.Fatalf("Object round-trip mismatch: %+v", obj)
	}

	dep, ok := decoded.Get(Dependency)
	if !ok || dep.Kind != Raw || dep.SidecarNumber != 0 || dep.Bytes != nil {
		t.Fatalf("Dependency round-trip mismatch: %+v", dep)
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	if _, err := Decode([]byte{99}); err == nil {
		t.Fatal("expected error for unsupported format version")
	}
}

func TestFileTypeString(t *testing.T) {
	if Object.String() != "object" {
		t.Errorf("Object.String() = %q", Object.String())
	}
	if IncludedPCHFile.String() != "included_pch_file" {
		t.Errorf("IncludedPCHFile.String() = %q", IncludedPCHFile.String())
	}
}
