package remotestore

import "context"

// Backend is the narrow contract a remote/secondary storage implementation
// must satisfy (spec.md §4.5 "Backend interface"):
//
//	get(key) -> Option<bytes>
//	put(key, bytes, only_if_missing) -> bool
//	remove(key) -> bool
//
// Implementations are expected to be safe for concurrent use from multiple
// goroutines, since Policy may issue a Get and a Put for the same key from
// different goroutines without external synchronization.
type Backend interface {
	// Get fetches the bytes stored under key. It returns ok=false (with a
	// nil error) if no entry exists for key, mirroring the local store's
	// miss convention rather than returning a sentinel error.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Put stores data under key. If onlyIfMissing is true and an entry
	// already exists for key, Put is a no-op and returns ok=false. Returns
	// ok=true if this call stored data under key.
	Put(ctx context.Context, key string, data []byte, onlyIfMissing bool) (ok bool, err error)

	// Remove deletes the entry stored under key, if any. It returns
	// ok=true if an entry was removed, ok=false if none existed.
	Remove(ctx context.Context, key string) (ok bool, err error)

	// Name identifies the backend for logging and for RemoteError's
	// Backend field (e.g. "http://cache.example.com").
	Name() string
}
