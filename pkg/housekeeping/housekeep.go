// Package housekeeping drives the periodic maintenance spec.md §4.4 calls
// out as "on demand" or implicitly scheduled: per-shard LRU cleanup and,
// optionally, cache-wide recompression. It is grounded on the teacher's
// own pkg/housekeeping, adapted from "sweep several unrelated on-disk
// directories for stale entries" (agent binaries, sync caches, staging
// roots) to "sweep the local cache's 256 shards for size/count overrun".
package housekeeping

import (
	"github.com/compilecache/ccache/pkg/compress"
	"github.com/compilecache/ccache/pkg/localstore"
	"github.com/compilecache/ccache/pkg/logging"
)

// Housekeep runs one pass of shard cleanup across store (spec.md §4.4
// "Cleanup (eviction)"). Errors from individual shards are logged and
// skipped rather than aborting the whole pass, since a housekeeping sweep
// is maintenance, never load-bearing for cache correctness.
func Housekeep(store *localstore.Store, logger *logging.Logger) {
	if err := store.CleanupAll(); err != nil {
		logger.Warn(err)
	}
}

// Recompress runs one on-demand recompression pass across store, rewriting
// every manifest/result entry through codec (spec.md §4.4
// "Recompression").
func Recompress(store *localstore.Store, codec compress.Codec, logger *logging.Logger) {
	if err := store.Recompress(codec); err != nil {
		logger.Warn(err)
	}
}
