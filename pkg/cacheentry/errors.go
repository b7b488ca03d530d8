package cacheentry

import "errors"

// ErrCorruptEntry is returned by Read when the trailer checksum does not
// match the decompressed header+payload bytes (spec.md §4.3: "mismatch
// raises CorruptEntry and the cache entry is evicted"). Callers are
// expected to remove the offending file and treat the request as a miss.
var ErrCorruptEntry = errors.New("cacheentry: checksum mismatch, entry is corrupt")
