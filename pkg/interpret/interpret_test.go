/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package interpret

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var spread = []string{"The Empress", "Knight of Wands", "Eight of Pentacles"}

func newReader(t *testing.T, handler http.HandlerFunc) (*Interpreter, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	i, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "test-model"})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return i, &calls
}

func TestInterpret(t *testing.T) {
	var got completionRequest
	i, calls := newReader(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  A bright road ahead.\n"}}]}`))
	})

	out := i.Interpret(context.Background(), "Will the move go well?", spread)
	if out != "A bright road ahead." {
		t.Errorf("Interpret() = %q", out)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	system, user := BuildPrompt("Will the move go well?", spread)
	want := completionRequest{
		Model:       "test-model",
		Temperature: 0.7,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request (-want +got): %s", diff)
	}
}

func TestInterpretCaches(t *testing.T) {
	i, calls := newReader(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"Patience."}}]}`))
	})
	ctx := context.Background()
	hits := testutil.ToFloat64(mCache.WithLabelValues("hit"))

	for range 3 {
		if got := i.Interpret(ctx, "q", spread); got != "Patience." {
			t.Errorf("Interpret() = %q", got)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if got := testutil.ToFloat64(mCache.WithLabelValues("hit")) - hits; got != 2 {
		t.Errorf("cache hits = %v, want 2", got)
	}

	// Order matters.
	reversed := []string{spread[2], spread[1], spread[0]}
	i.Interpret(ctx, "q", reversed)
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestInterpretWithoutKey(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	defer srv.Close()

	i, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if got := i.Interpret(context.Background(), "q", spread); got != UnavailableMessage {
		t.Errorf("Interpret() = %q, want %q", got, UnavailableMessage)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestInterpretDegrades(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{{
		name: "server error",
		handler: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		},
	}, {
		name: "no choices",
		handler: func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		},
	}, {
		name: "empty content",
		handler: func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
		},
	}, {
		name: "garbage",
		handler: func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`<html>`))
		},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, calls := newReader(t, tt.handler)
			for range 2 {
				if got := i.Interpret(context.Background(), "q", spread); got != FailedMessage {
					t.Errorf("Interpret() = %q, want %q", got, FailedMessage)
				}
			}
			// Failures are not cached.
			if calls.Load() != 2 {
				t.Errorf("calls = %d, want 2", calls.Load())
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	_, user := BuildPrompt("  Will it work?  ", spread)
	for _, want := range []string{"Question: Will it work?", "- Past: The Empress", "- Present: Knight of Wands", "- Future: Eight of Pentacles"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt %q is missing %q", user, want)
		}
	}

	_, user = BuildPrompt("", []string{"The Fool"})
	if !strings.Contains(user, "general reading") {
		t.Errorf("prompt %q does not ask for a general reading", user)
	}
	if !strings.Contains(user, "- 1. The Fool") {
		t.Errorf("prompt %q is missing the card", user)
	}
}
