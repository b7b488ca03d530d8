// Package ccacheinfo holds process-wide identity constants: the producer
// version string stamped into every cache entry header (spec.md §3,
// "ccache_version_length... then N bytes of producer version string") and
// the debug-logging toggle consulted by pkg/logging.
package ccacheinfo

import (
	"fmt"
	"os"
)

const (
	// VersionMajor is the major version of the cache engine.
	VersionMajor = 1
	// VersionMinor is the minor version of the cache engine.
	VersionMinor = 0
	// VersionPatch is the patch version of the cache engine.
	VersionPatch = 0
	// FormatVersion is the binary cache-entry format version (spec.md §3,
	// "format_version... bumped on incompatible change").
	FormatVersion = 1
)

// Version is the producer version string recorded in every cache entry
// header so that a later reader can tell which build produced an entry.
var Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)

// DebugEnabled controls whether pkg/logging emits Debug-level output. It is
// set automatically from the CCACHE_DEBUG environment variable.
var DebugEnabled bool

func init() {
	DebugEnabled = os.Getenv("CCACHE_DEBUG") == "1"
}
