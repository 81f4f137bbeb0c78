package bitmap

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Helpers for the instrumentation step that chooses identities and decides
// which functions to instrument. Neither runs on the hit path.

// IdentityForName derives a function identity from a stable symbol name.
//
// Units compiled independently agree on the identity of a function without
// sharing a numbering.
func IdentityForName(name string) uint64 {
	return xxh3.HashString(name)
}

// Sampled reports whether the function with identity id should be
// instrumented when only a fraction rate of functions is.
//
// The decision is a deterministic function of id, so rebuilding with the same
// rate instruments the same functions. A rate >= 1 selects every function,
// a rate <= 0 none.
func Sampled(id uint64, rate float64) bool {
	if rate >= 1 {
		return true
	}

	if rate <= 0 {
		return false
	}

	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], id)

	// Top 53 bits as a uniform float in [0, 1).
	u := float64(xxh3.Hash(buf[:])>>11) / (1 << 53)

	return u < rate
}
