package filesystem

const (
	// TemporaryNamePrefix is the file name prefix used for all temporary
	// files created under the cache root. A leading dot keeps these out
	// of any shard listing that doesn't explicitly ask for dotfiles, and
	// the eviction sweep (pkg/localstore) skips names carrying this
	// prefix so a write in progress is never mistaken for a stale entry.
	TemporaryNamePrefix = ".ccache-temporary-"
)
