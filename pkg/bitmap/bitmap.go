// Package bitmap implements the coverage bitmap: a set of function identities
// laid out as one bit per slot over a caller-provided byte region.
//
// The region is usually a shared memory segment (see package shm), so a
// Bitmap never owns its memory and never copies it.
//
// # Consistency
//
// [Bitmap.Set] is a plain, non-atomic read-modify-write of one byte. Two
// goroutines or processes setting different bits of the same byte at the same
// instant can lose one of the updates. This is accepted: the bitmap is an
// approximate, monotonic "was this ever executed" signal, and atomic or locked
// bit setting on every hit would dominate the cost of instrumentation.
//
// # Aliasing
//
// Identities are mapped to bits with [Policy]. Distinct identities can map to
// the same bit, in which case coverage undercounts. This removes any need for
// independently compiled units to agree on a dense global numbering.
package bitmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"time"
)

// ErrInvalidSize indicates a region whose length is not a positive multiple of 8.
var ErrInvalidSize = errors.New("bitmap: invalid size")

// Bitmap is a view of a byte region as a bit vector of len(region)*8 bits.
//
// Bit i lives in byte i/8 at position i%8 (least significant bit first), the
// layout used by the C runtime as well, so segments can be shared with it.
type Bitmap struct {
	data   []byte
	total  uint64
	policy Policy
}

// New returns a Bitmap over data. The length of data must be a positive
// multiple of 8 so the region can be scanned in 64-bit words.
func New(data []byte, policy Policy) (Bitmap, error) {
	if len(data) == 0 || len(data)%8 != 0 {
		return Bitmap{}, fmt.Errorf("region of %d bytes: %w", len(data), ErrInvalidSize)
	}

	if !policy.valid() {
		return Bitmap{}, fmt.Errorf("policy %d: %w", policy, ErrUnknownPolicy)
	}

	return Bitmap{
		data:   data,
		total:  uint64(len(data)) * 8,
		policy: policy,
	}, nil
}

// TotalBits returns the number of bits in the bitmap.
func (b Bitmap) TotalBits() uint64 {
	return b.total
}

// Policy returns the identity mapping policy.
func (b Bitmap) Policy() Policy {
	return b.policy
}

// Index returns the bit index for id. The result is always < TotalBits.
func (b Bitmap) Index(id uint64) uint64 {
	if b.policy == PolicyMixed {
		id = Mix(id)
	}

	return id % b.total
}

// Set marks id as covered. See the package documentation for the
// consistency of concurrent calls.
func (b Bitmap) Set(id uint64) {
	b.SetIndex(b.Index(id))
}

// Test reports whether the bit for id is set.
func (b Bitmap) Test(id uint64) bool {
	return b.TestIndex(b.Index(id))
}

// SetIndex sets bit i. Panics if i >= TotalBits.
func (b Bitmap) SetIndex(i uint64) {
	b.data[i>>3] |= 1 << (i & 7)
}

// TestIndex reports whether bit i is set. Panics if i >= TotalBits.
func (b Bitmap) TestIndex(i uint64) bool {
	return b.data[i>>3]&(1<<(i&7)) != 0
}

// Count returns the number of set bits.
func (b Bitmap) Count() uint64 {
	var n int

	for off := 0; off < len(b.data); off += 8 {
		n += bits.OnesCount64(binary.NativeEndian.Uint64(b.data[off:]))
	}

	return uint64(n)
}

// Indices returns the indices of set bits in ascending order. A positive limit
// caps the number of indices returned.
func (b Bitmap) Indices(limit int) []uint64 {
	var out []uint64

	for off := 0; off < len(b.data); off += 8 {
		word := binary.LittleEndian.Uint64(b.data[off:])

		for word != 0 {
			bit := uint64(bits.TrailingZeros64(word))
			out = append(out, uint64(off)*8+bit)

			if limit > 0 && len(out) == limit {
				return out
			}

			word &= word - 1
		}
	}

	return out
}

// Scan counts the set bits and returns an immutable [Sample] stamped with now.
func (b Bitmap) Scan(now time.Time) Sample {
	covered := b.Count()

	return Sample{
		Timestamp: now,
		Covered:   covered,
		Total:     b.total,
		Ratio:     float64(covered) / float64(b.total),
	}
}

// Sample is a point-in-time coverage measurement. It holds no reference to
// the bitmap it was taken from.
type Sample struct {
	Timestamp time.Time
	Covered   uint64
	Total     uint64
	Ratio     float64
}

// Percent returns the ratio as a percentage.
func (s Sample) Percent() float64 {
	return s.Ratio * 100
}
