package random

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// CollisionResistantLength is the byte length used for identifiers that
	// must not collide across concurrent processes, such as the random
	// suffix on a cache store's temporary files (spec.md §4.4 "Put" step 2:
	// "a random suffix").
	CollisionResistantLength = 16
)

// New returns a byte slice of the specified length with cryptographically
// random conents.
func New(length int) ([]byte, error) {
	// Create the buffer.
	result := make([]byte, length)

	// Read random data.
	if _, err := rand.Read(result[:]); err != nil {
		return nil, fmt.Errorf("unable to read random data: %w", err)
	}

	// Success.
	return result, nil
}

// HexString returns a random hex-encoded string whose decoded length is
// CollisionResistantLength, suitable as a temporary-file suffix where
// os.CreateTemp's own randomness isn't in view (spec.md §4.4 "Put" step 2).
func HexString() (string, error) {
	data, err := New(CollisionResistantLength)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(data), nil
}
