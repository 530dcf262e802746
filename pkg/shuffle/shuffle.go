/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package shuffle implements a reproducible permutation driven by a 32-bit
// seed. The generator constants and swap order are fixed: changing either
// changes every recorded draw.
package shuffle

const (
	// Multiplier and Increment are the Numerical Recipes LCG constants.
	Multiplier uint32 = 1664525
	Increment  uint32 = 1013904223
)

// LCG is a linear congruential generator modulo 2^32. The modulus comes
// from uint32 wrap-around.
type LCG struct {
	state uint32
}

// NewLCG returns a generator seeded with seed.
func NewLCG(seed uint32) *LCG {
	return &LCG{state: seed}
}

// Next advances the generator and returns the new state.
func (g *LCG) Next() uint32 {
	g.state = g.state*Multiplier + Increment
	return g.state
}

// Shuffle returns a permuted copy of items. The input is left untouched.
//
//	for i from len-1 down to 1:
//	    j = lcg.Next() mod (i+1)
//	    swap(i, j)
func Shuffle[T any](items []T, seed uint32) []T {
	out := make([]T, len(items))
	copy(out, items)

	g := NewLCG(seed)
	for i := len(out) - 1; i >= 1; i-- {
		j := int(g.Next() % uint32(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Draw returns the first k entries of Shuffle(items, seed). k is clamped to
// [0, len(items)].
func Draw[T any](items []T, seed uint32, k int) []T {
	if k < 0 {
		k = 0
	}
	if k > len(items) {
		k = len(items)
	}
	return Shuffle(items, seed)[:k]
}
