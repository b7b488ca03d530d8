//go:build !windows

package manifest

import (
	"fmt"

	"github.com/mutagen-io/extstat"

	"github.com/compilecache/ccache/pkg/hash"
)

// StatFile resolves an include file's current fingerprint from disk,
// suitable as the Stat argument to Store.Get and Store.Put's caller.
// Both halves of FileFingerprint are always populated: the (mtime, ctime,
// size) tuple needed when sloppiness.FileStatMatches is set, and a
// content digest needed otherwise (spec.md §3 "File fingerprint"). Ctime
// is POSIX-only, grounded on the teacher's use of
// github.com/mutagen-io/extstat for cross-platform extended stat info
// (pkg/agent/housekeeping.go).
func StatFile(path string) (FileFingerprint, error) {
	info, err := extstat.NewFromFileName(path)
	if err != nil {
		return FileFingerprint{}, fmt.Errorf("manifest: unable to stat %q: %w", path, err)
	}

	digest, err := digestFile(path)
	if err != nil {
		return FileFingerprint{}, err
	}

	return FileFingerprint{
		Path:      path,
		HasDigest: true,
		Digest:    digest,
		Mtime:     info.ModificationTime.UnixNano(),
		Ctime:     info.ChangeTime.UnixNano(),
		Size:      info.Size,
	}, nil
}

func digestFile(path string) (hash.Digest, error) {
	ctx := hash.New()
	if err := ctx.UpdateFromFile(path); err != nil {
		var zero hash.Digest
		return zero, err
	}
	return ctx.Digest(), nil
}
