// Package sha256 provides SHA-256 digests for URLs and file names.
package sha256

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Hasher digests strings with SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of s.
func (h *Hasher) Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Bucket maps s onto [0, n) using the first eight digest bytes read
// big-endian. The result is stable across processes.
func (h *Hasher) Bucket(s string, n uint64) uint64 {
	if n == 0 {
		return 0
	}
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8]) % n
}
