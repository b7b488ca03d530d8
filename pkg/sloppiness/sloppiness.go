// Package sloppiness implements the bitset of opt-in cache-exactness
// relaxations described in spec.md §3 "Sloppiness set", with bit positions
// grounded on ccache's own core/sloppiness.hpp.
package sloppiness

// Flag identifies a single sloppiness relaxation. Bit positions match
// ccache's core::Sloppy enum so that a Sloppiness value round-trips through
// the same bitmask ccache itself would compute for an equivalent
// configuration.
type Flag uint32

const (
	// IncludeFileMtime ignores include-file mtime when matching manifest
	// fingerprints.
	IncludeFileMtime Flag = 1 << iota
	// IncludeFileCtime ignores include-file ctime when matching manifest
	// fingerprints.
	IncludeFileCtime
	// TimeMacros ignores use of __DATE__/__TIME__ in source.
	TimeMacros
	// PCHDefines ignores precompiled-header macro-definition mismatches.
	PCHDefines
	// FileStatMatches allows matching include files by stat tuple
	// (mtime, ctime, size) instead of content digest.
	FileStatMatches
	// SystemHeaders excludes system headers from the manifest include set.
	SystemHeaders
	// FileStatMatchesCtime ignores ctime specifically when FileStatMatches
	// is in effect, so faked mtimes still match.
	FileStatMatchesCtime
	// ClangIndexStore excludes -index-store-path from the manifest hash.
	ClangIndexStore
	// Locale ignores locale environment variables in the common hash.
	Locale
	// Modules allows caching even when -fmodules is used.
	Modules
	// IVFSOverlay ignores the virtual file system overlay file.
	IVFSOverlay
	// GCNOCwd allows an incorrect working directory in .gcno files.
	GCNOCwd
	// RandomSeed ignores -frandom-seed=*.
	RandomSeed
	// Incbin enables sloppy handling of .incbin directives.
	Incbin
)

// names maps each flag to its canonical lower_snake_case name, matching
// spec.md §3's enumeration.
var names = map[Flag]string{
	IncludeFileMtime:     "include_file_mtime",
	IncludeFileCtime:     "include_file_ctime",
	TimeMacros:           "time_macros",
	PCHDefines:           "pch_defines",
	FileStatMatches:      "file_stat_matches",
	SystemHeaders:        "system_headers",
	FileStatMatchesCtime: "file_stat_matches_ctime",
	ClangIndexStore:      "clang_index_store",
	Locale:               "locale",
	Modules:              "modules",
	IVFSOverlay:          "ivfsoverlay",
	GCNOCwd:              "gcno_cwd",
	RandomSeed:           "random_seed",
	Incbin:               "incbin",
}

// allFlags lists every flag in a stable order, used for String and parsing.
var allFlags = []Flag{
	IncludeFileMtime, IncludeFileCtime, TimeMacros, PCHDefines,
	FileStatMatches, SystemHeaders, FileStatMatchesCtime, ClangIndexStore,
	Locale, Modules, IVFSOverlay, GCNOCwd, RandomSeed, Incbin,
}

// Set is a bitmask of Flags in effect for one cache lookup or write.
type Set uint32

// None is the empty sloppiness set.
const None Set = 0

// NewSet constructs a Set from individual flags.
func NewSet(flags ...Flag) Set {
	var s Set
	for _, f := range flags {
		s = s.Enable(f)
	}
	return s
}

// Enable returns a new Set with the given flag added.
func (s Set) Enable(f Flag) Set {
	return s | Set(f)
}

// IsEnabled reports whether the given flag is present in the set.
func (s Set) IsEnabled(f Flag) bool {
	return Set(f)&s != 0
}

// ToBitmask returns the raw bitmask, suitable for storing in a cache-entry
// header or config struct (spec.md §3).
func (s Set) ToBitmask() uint32 {
	return uint32(s)
}

// FromBitmask reconstructs a Set from a raw bitmask.
func FromBitmask(v uint32) Set {
	return Set(v)
}

// Subsumes reports whether s is "at least as sloppy as" other: every flag
// enabled in other is also enabled in s. This implements spec.md §8's
// "Sloppiness subset rule" — a manifest entry written under sloppiness S1
// can be matched under S2 iff S2 is a superset of S1 for the fields that
// matter to fingerprint comparison.
func (s Set) Subsumes(other Set) bool {
	return other&^s == 0
}

// String renders the set as a comma-separated list of flag names in
// canonical order, for diagnostics and cache-entry debug dumps.
func (s Set) String() string {
	if s == None {
		return ""
	}
	var out []byte
	first := true
	for _, f := range allFlags {
		if s.IsEnabled(f) {
			if !first {
				out = append(out, ',')
			}
			out = append(out, names[f]...)
			first = false
		}
	}
	return string(out)
}
