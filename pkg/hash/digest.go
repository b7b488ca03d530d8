// Package hash computes the content-addressed keys described in spec.md
// §4.1: a streaming XXH3-128 hash context, a "common hash" derived from
// compiler identity and output-affecting arguments, and the direct-mode and
// preprocessor-mode keys derived from it.
package hash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// Size is the width, in bytes, of a Digest (spec.md §3: "a 20-byte value,
// rendered as 40 lowercase hex characters").
const Size = 20

// Digest is a content-addressed key. See Ctx.Digest for how it's derived
// from a single XXH3-128 streaming hash.
type Digest [Size]byte

// String renders the digest as 40 lowercase hex characters.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Equal reports whether two digests are byte-equal (spec.md §3: "Two
// digests compare byte-equal").
func (d Digest) Equal(other Digest) bool {
	return d == other
}

// IsZero reports whether the digest is the zero value (never a valid
// computed digest, used as a sentinel for "not yet set").
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ShardPrefix returns the two hex characters used to select the two-level
// shard directory for this digest (spec.md §3 "Storage entity").
func (d Digest) ShardPrefix() (byte, byte) {
	const hexDigits = "0123456789abcdef"
	return hexDigits[d[0]>>4], hexDigits[d[0]&0xf]
}

// Rest returns the hex-encoded remainder of the key after the two shard
// prefix characters have been carved off.
func (d Digest) Rest() string {
	s := d.String()
	return s[2:]
}

// ParseDigest decodes a 40-character hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != Size*2 {
		return d, fmt.Errorf("digest string has wrong length: %d", len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("unable to decode digest: %w", err)
	}
	copy(d[:], decoded)
	return d, nil
}

// Ctx is the append-only absorbing state of the streaming hash (spec.md
// §4.1 "Hasher" contract: new/update/update_from_file/digest).
//
// A single github.com/zeebo/xxh3.Hasher backs both halves of the resulting
// 20-byte Digest: the first 16 bytes come from its 128-bit sum, and the
// last 4 bytes come from the low 32 bits of the same state's 64-bit sum
// (hash.Hash's Sum). Both reads are non-destructive, so Digest can be
// called mid-stream without disturbing further Update calls — this is how
// the common hash is shared as a prefix of both the direct-mode and
// preprocessor-mode keys (spec.md §4.1).
type Ctx struct {
	h *xxh3.Hasher
}

// New creates a fresh hash context.
func New() *Ctx {
	return &Ctx{h: xxh3.New()}
}

// Update appends bytes to the absorbing state.
func (c *Ctx) Update(b []byte) {
	c.h.Write(b)
}

// UpdateString is a convenience wrapper around Update for string data.
func (c *Ctx) UpdateString(s string) {
	io.WriteString(c.h, s)
}

// UpdateFromFile reads a file's contents and updates the hash with them.
// It fails with an error wrapping the underlying I/O error if the file
// cannot be read (spec.md §4.1: "fails with IoFailed on unreadable file").
func (c *Ctx) UpdateFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open file for hashing: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(c.h, file); err != nil {
		return fmt.Errorf("unable to read file for hashing: %w", err)
	}
	return nil
}

// Digest returns the current digest without consuming the context: further
// Update calls continue to accumulate from the current state.
func (c *Ctx) Digest() Digest {
	var d Digest
	sum128 := c.h.Sum128().Bytes()
	copy(d[:16], sum128[:])

	var sum64 [8]byte
	c.h.Sum(sum64[:0])
	copy(d[16:], sum64[4:8])

	return d
}

// Clone returns an independent copy of the context, sharing no state with
// the original. This is how the common hash is "forked" into a direct-mode
// branch and a preprocessor-mode branch without re-hashing the shared
// prefix (spec.md §4.1: "start from the common-hash state and
// additionally hash...").
func (c *Ctx) Clone() *Ctx {
	clone := *c.h
	return &Ctx{h: &clone}
}
