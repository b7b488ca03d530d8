//go:build windows

package manifest

import (
	"fmt"
	"os"

	"github.com/compilecache/ccache/pkg/hash"
)

// StatFile is the Windows counterpart to the POSIX implementation. Windows
// has no ctime equivalent, so the ctime field mirrors mtime; callers that
// care about that distinction should rely on sloppiness.IncludeFileCtime
// or a content digest instead (spec.md §3 "File fingerprint").
func StatFile(path string) (FileFingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileFingerprint{}, fmt.Errorf("manifest: unable to stat %q: %w", path, err)
	}

	ctx := hash.New()
	if err := ctx.UpdateFromFile(path); err != nil {
		return FileFingerprint{}, err
	}

	mtime := info.ModTime().UnixNano()
	return FileFingerprint{
		Path:      path,
		HasDigest: true,
		Digest:    ctx.Digest(),
		Mtime:     mtime,
		Ctime:     mtime,
		Size:      info.Size(),
	}, nil
}
