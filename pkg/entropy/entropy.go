/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package entropy builds the single-shot coin-flip request sent to the compute
// backend and turns the returned measurement histogram into a seed.
package entropy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chainguard-dev/clog"
)

const (
	// Shots is fixed: one sample yields exactly one bitstring.
	Shots = 1

	// MaxWidth is bounded by the width of the seed.
	MaxWidth = 32

	// DefaultWidth requests a full 32-bit seed.
	DefaultWidth = 32

	// Register is the classical register the measurements land in.
	Register = "meas"
)

var (
	// ErrMissing means the result carried no histogram at all.
	ErrMissing = errors.New("histogram missing from result")

	// ErrEmpty means the histogram had no entries.
	ErrEmpty = errors.New("histogram is empty")

	// ErrMalformed means the bitstring could not be parsed into a seed.
	ErrMalformed = errors.New("malformed bitstring")
)

// ValidateWidth reports whether w can be requested.
func ValidateWidth(w int) error {
	if w < 1 || w > MaxWidth {
		return fmt.Errorf("entropy width %d out of range [1, %d]", w, MaxWidth)
	}
	return nil
}

// Circuit renders an OpenQASM 3 program measuring w independent fair coin
// flips: a Hadamard on each qubit followed by a measurement into Register.
func Circuit(w int) (string, error) {
	if err := ValidateWidth(w); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("OPENQASM 3.0;\n")
	b.WriteString("include \"stdgates.inc\";\n")
	fmt.Fprintf(&b, "bit[%d] %s;\n", w, Register)
	fmt.Fprintf(&b, "qubit[%d] q;\n", w)
	for i := range w {
		fmt.Fprintf(&b, "h q[%d];\n", i)
	}
	fmt.Fprintf(&b, "%s = measure q;\n", Register)
	return b.String(), nil
}

// Result is the entropy derived from one completed job.
type Result struct {
	Bitstring     string
	ObservedCount int
	Seed          uint32
}

// Extract picks the observed bitstring out of histogram and parses it into a
// seed, most significant bit first: "00000001" is 1 and "10000000" is 128.
//
// A single shot should produce a single key. If more than one is present the
// smallest bitstring is used, so the choice does not depend on map order.
func Extract(ctx context.Context, histogram map[string]int) (Result, error) {
	if histogram == nil {
		return Result{}, ErrMissing
	}
	if len(histogram) == 0 {
		return Result{}, ErrEmpty
	}

	keys := make([]string, 0, len(histogram))
	for k := range histogram {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 1 {
		clog.FromContext(ctx).Warn("expected a single bitstring from a one-shot request, using the smallest",
			"distinct", len(keys), "chosen", keys[0])
	}

	bits := keys[0]
	seed, err := ParseSeed(bits)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Bitstring:     bits,
		ObservedCount: histogram[bits],
		Seed:          seed,
	}, nil
}

// ParseSeed interprets bits as an unsigned big-endian binary number.
func ParseSeed(bits string) (uint32, error) {
	if bits == "" {
		return 0, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if len(bits) > MaxWidth {
		return 0, fmt.Errorf("%w: %d bits exceeds %d", ErrMalformed, len(bits), MaxWidth)
	}
	v, err := strconv.ParseUint(bits, 2, MaxWidth)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, bits)
	}
	return uint32(v), nil
}
