package bitmap

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPolicy indicates an unrecognized policy name or value.
var ErrUnknownPolicy = errors.New("bitmap: unknown policy")

// Policy selects how a function identity is mapped to a bit index.
//
// Instrumentation that numbers functions densely (0, 1, 2, ... per unit) gets
// no aliasing within a unit under [PolicyModulo] but aliases the same numbers
// across units. Instrumentation that draws identities at random, or derives
// them from names with [IdentityForName], spreads well under either policy.
// [PolicyMixed] scrambles identities first, so dense numbering from many units
// collides like random identities instead of stacking on the low bits.
type Policy uint8

const (
	// PolicyModulo maps id to id mod totalBits.
	PolicyModulo Policy = iota

	// PolicyMixed maps id to Mix(id) mod totalBits.
	PolicyMixed
)

// String returns the policy name accepted by [ParsePolicy].
func (p Policy) String() string {
	switch p {
	case PolicyModulo:
		return "modulo"
	case PolicyMixed:
		return "mixed"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

func (p Policy) valid() bool {
	return p == PolicyModulo || p == PolicyMixed
}

// ParsePolicy parses "modulo" or "mixed" (case-insensitive). The empty string
// is [PolicyModulo].
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "modulo":
		return PolicyModulo, nil
	case "mixed":
		return PolicyMixed, nil
	default:
		return PolicyModulo, fmt.Errorf("%q (want modulo or mixed): %w", s, ErrUnknownPolicy)
	}
}

// Mix is the splitmix64 finalizer. It is a bijection on uint64, so distinct
// identities stay distinct before the modulo.
func Mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31

	return x
}
