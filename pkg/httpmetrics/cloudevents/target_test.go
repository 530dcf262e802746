/*
Copyright 2023 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package cloudevents

import "testing"

func TestWithTarget(t *testing.T) {
	for _, target := range []string{"http://localhost:8080", "https://broker.example.com/ingest"} {
		opts, err := WithTarget(target)
		if err != nil {
			t.Errorf("WithTarget(%q) = %v", target, err)
		}
		if len(opts) != 1 {
			t.Errorf("WithTarget(%q) returned %d options, want 1", target, len(opts))
		}
	}

	for _, target := range []string{"ftp://example.com", "://nope", "localhost:8080"} {
		if _, err := WithTarget(target); err == nil {
			t.Errorf("WithTarget(%q) succeeded, want error", target)
		}
	}
}
