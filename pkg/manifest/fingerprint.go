package manifest

import (
	"github.com/compilecache/ccache/pkg/hash"
	"github.com/compilecache/ccache/pkg/sloppiness"
)

// FileFingerprint is the tuple stored per include file in a manifest entry
// (spec.md §3 "File fingerprint"): a path plus either a content digest or a
// (mtime, ctime, size) stat tuple, depending on the sloppiness policy in
// effect when the entry was written.
type FileFingerprint struct {
	Path string

	HasDigest bool
	Digest    hash.Digest

	Mtime int64
	Ctime int64
	Size  int64
}

// Matches reports whether current, observed during a later lookup, still
// satisfies fp under sloppy. Digest comparison is used unless
// sloppiness.FileStatMatches is set, in which case a stat-tuple comparison
// is used instead (spec.md §4.2 "get").
func (fp FileFingerprint) Matches(current FileFingerprint, sloppy sloppiness.Set) bool {
	if sloppy.IsEnabled(sloppiness.FileStatMatches) {
		if fp.Size != current.Size {
			return false
		}
		if fp.Mtime != current.Mtime && !sloppy.IsEnabled(sloppiness.IncludeFileMtime) {
			return false
		}
		ignoreCtime := sloppy.IsEnabled(sloppiness.IncludeFileCtime) || sloppy.IsEnabled(sloppiness.FileStatMatchesCtime)
		if fp.Ctime != current.Ctime && !ignoreCtime {
			return false
		}
		return true
	}

	if !fp.HasDigest || !current.HasDigest {
		return false
	}
	return fp.Digest.Equal(current.Digest)
}
