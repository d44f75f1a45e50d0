// Package integrity provides an optional heap-consistency checksum
// used by debug-mode self-checks and tests: a running hash over the
// words a component chooses to fold in. Both consumers fold block
// sizes and tag bytes but no addresses, so two snapshots of the same
// logical state compare equal regardless of which addresses the
// allocator happened to pick.
//
// Built on golang.org/x/crypto/blake2b rather than the stdlib's
// crypto/sha256, preferring the ecosystem hash package already present
// in this module's dependency graph over a stdlib substitute.
package integrity

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Hasher accumulates a checksum over a sequence of (address, size)
// pairs and other small integers describing allocator-internal state.
// It is not a general-purpose hashing API: the only consumers are the
// memsource free list and the medium free pool's debug self-checks.
type Hasher struct {
	sum hash.Hash
	buf [8]byte
}

// New creates a ready-to-use Hasher.
func New() *Hasher {
	sum, err := blake2b.New256(nil)
	if err != nil {
		// New256 with a nil key only fails if the key is too long;
		// nil never is. Unreachable in practice.
		panic(err)
	}
	return &Hasher{sum: sum}
}

// WriteUintptr folds one address- or size-valued word into the hash.
func (h *Hasher) WriteUintptr(v uintptr) {
	binary.LittleEndian.PutUint64(h.buf[:], uint64(v))
	h.sum.Write(h.buf[:])
}

// WriteByte folds one tag byte into the hash, used to separate logical
// records (e.g. "start of free-list entry") so that reordered-but-
// identical multisets of words don't collide with a differently
// structured record sequence.
func (h *Hasher) WriteByte(b byte) {
	h.sum.Write([]byte{b})
}

// Sum returns the current checksum. It does not reset the Hasher.
func (h *Hasher) Sum() [32]byte {
	var out [32]byte
	copy(out[:], h.sum.Sum(nil))
	return out
}
