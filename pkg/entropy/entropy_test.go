/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package entropy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtract(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		in      map[string]int
		want    Result
		wantErr error
	}{{
		name: "single shot",
		in:   map[string]int{"00000001": 1},
		want: Result{Bitstring: "00000001", ObservedCount: 1, Seed: 1},
	}, {
		name: "msb first",
		in:   map[string]int{"10000000": 1},
		want: Result{Bitstring: "10000000", ObservedCount: 1, Seed: 128},
	}, {
		name: "full width",
		in:   map[string]int{strings.Repeat("1", 32): 1},
		want: Result{Bitstring: strings.Repeat("1", 32), ObservedCount: 1, Seed: 0xFFFFFFFF},
	}, {
		name: "several bitstrings uses the smallest",
		in:   map[string]int{"0110": 1, "0011": 2, "1111": 1},
		want: Result{Bitstring: "0011", ObservedCount: 2, Seed: 3},
	}, {
		name:    "missing",
		in:      nil,
		wantErr: ErrMissing,
	}, {
		name:    "empty",
		in:      map[string]int{},
		wantErr: ErrEmpty,
	}, {
		name:    "not binary",
		in:      map[string]int{"0x1": 1},
		wantErr: ErrMalformed,
	}, {
		name:    "too wide",
		in:      map[string]int{strings.Repeat("0", 33): 1},
		wantErr: ErrMalformed,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(ctx, tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Extract() = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract() = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract() (-want +got): %s", diff)
			}
		})
	}
}

func TestCircuit(t *testing.T) {
	got, err := Circuit(3)
	if err != nil {
		t.Fatalf("Circuit() = %v", err)
	}
	want := `OPENQASM 3.0;
include "stdgates.inc";
bit[3] meas;
qubit[3] q;
h q[0];
h q[1];
h q[2];
meas = measure q;
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Circuit(3) (-want +got): %s", diff)
	}

	for _, w := range []int{0, -1, 33} {
		if _, err := Circuit(w); err == nil {
			t.Errorf("Circuit(%d) succeeded, want error", w)
		}
	}
}
