/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pnckt1/quantum-coin/pkg/backend"
	"github.com/pnckt1/quantum-coin/pkg/backend/fake"
)

func TestSubmit(t *testing.T) {
	h := newHarness(t, PollerOptions{}, nil)

	rec, err := h.submitter.Submit(context.Background(), "what now?")
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	if rec.ID == "" || rec.ExternalID == "" {
		t.Errorf("Submit() = %+v, want ids set", rec)
	}
	if rec.Question != "what now?" {
		t.Errorf("Question = %q", rec.Question)
	}
	if h.registry.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.registry.Len())
	}
	if got := h.client.Jobs(); len(got) != 1 || got[0] != rec.ExternalID {
		t.Errorf("backend jobs = %v, want [%s]", got, rec.ExternalID)
	}
}

func TestSubmitFailure(t *testing.T) {
	h := newHarness(t, PollerOptions{}, nil)
	if _, err := h.submitter.Submit(context.Background(), ""); err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	if got := h.client.Calls(fake.OpBackends); got != 1 {
		t.Fatalf("Backends calls = %d, want 1", got)
	}

	h.client.SetError(fake.OpSubmit, errors.New("403 forbidden"))
	if _, err := h.submitter.Submit(context.Background(), ""); !errors.Is(err, ErrSubmission) {
		t.Fatalf("Submit() = %v, want ErrSubmission", err)
	}
	if h.registry.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.registry.Len())
	}

	// The failed submission dropped the cached choice.
	h.client.SetError(fake.OpSubmit, nil)
	if _, err := h.submitter.Submit(context.Background(), ""); err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	if got := h.client.Calls(fake.OpBackends); got != 2 {
		t.Errorf("Backends calls = %d, want 2", got)
	}
}

func TestSubmitNoBackend(t *testing.T) {
	client := fake.New(backend.Backend{Name: "down", Operational: false})
	registry := NewRegistry(WithClock(clockwork.NewFakeClockAt(epoch)))
	s, err := NewSubmitter(client, backend.NewSelector(client, backend.PolicyPerRequest), registry, SubmitterOptions{})
	if err != nil {
		t.Fatalf("NewSubmitter() = %v", err)
	}

	if _, err := s.Submit(context.Background(), ""); !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Submit() = %v, want ErrServiceUnavailable", err)
	}
	if registry.Len() != 0 {
		t.Errorf("Len() = %d, want 0", registry.Len())
	}
}

// slowClient never finishes a submission before its context does.
type slowClient struct {
	*fake.Client
}

func (s slowClient) Submit(ctx context.Context, _ string, _ backend.Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSubmitTimeout(t *testing.T) {
	client := slowClient{fake.New()}
	registry := NewRegistry(WithClock(clockwork.NewFakeClockAt(epoch)))
	s, err := NewSubmitter(client, backend.NewSelector(client, backend.PolicyCached), registry, SubmitterOptions{
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSubmitter() = %v", err)
	}

	_, err = s.Submit(context.Background(), "")
	if !errors.Is(err, ErrSubmission) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() = %v, want ErrSubmission wrapping a deadline", err)
	}
}

func TestNewSubmitterWidth(t *testing.T) {
	client := fake.New()
	sel := backend.NewSelector(client, backend.PolicyCached)
	for _, w := range []int{-1, 33} {
		if _, err := NewSubmitter(client, sel, NewRegistry(), SubmitterOptions{Width: w}); err == nil {
			t.Errorf("NewSubmitter(width=%d) succeeded, want error", w)
		}
	}
}
