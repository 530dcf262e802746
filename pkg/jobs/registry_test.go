/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
)

var epoch = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestRegistryCreateGet(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := NewRegistry(WithClock(clock))

	rec := r.Create("ext-1", "ibm_a", "will it rain?")
	got, ok := r.Get(rec.ID)
	if !ok {
		t.Fatalf("Get(%q) not found", rec.ID)
	}
	want := Record{
		ID:          rec.ID,
		ExternalID:  "ext-1",
		Backend:     "ibm_a",
		Question:    "will it rain?",
		State:       StatePending,
		SubmittedAt: epoch,
		UpdatedAt:   epoch,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get() (-want +got): %s", diff)
	}

	// Copies do not alias the stored record.
	got.State = StateDone
	if again, _ := r.Get(rec.ID); again.State != StatePending {
		t.Errorf("stored state changed through a copy: %v", again.State)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) found a record")
	}
}

func TestRegistryIDs(t *testing.T) {
	// A frozen clock puts every id in the same millisecond.
	r := NewRegistry(WithClock(clockwork.NewFakeClockAt(epoch)))

	ids := make([]string, 500)
	for i := range ids {
		ids[i] = r.Create("ext", "b", "").ID
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
		if len(id) != 26 {
			t.Errorf("id %q has length %d, want 26", id, len(id))
		}
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("ids are not in creation order")
	}
}

func TestRegistryAdvance(t *testing.T) {
	tests := []struct {
		name        string
		path        []State
		want        State
		wantChanged bool
	}{
		{name: "pending to running", path: []State{StateRunning}, want: StateRunning, wantChanged: true},
		{name: "pending to done", path: []State{StateDone}, want: StateDone, wantChanged: true},
		{name: "pending to error", path: []State{StateError}, want: StateError, wantChanged: true},
		{name: "running to done", path: []State{StateRunning, StateDone}, want: StateDone, wantChanged: true},
		{name: "running to error", path: []State{StateRunning, StateError}, want: StateError, wantChanged: true},
		{name: "same state", path: []State{StateRunning, StateRunning}, want: StateRunning},
		{name: "running back to pending", path: []State{StateRunning, StatePending}, want: StateRunning},
		{name: "done stays done", path: []State{StateDone, StateRunning}, want: StateDone},
		{name: "done never errors", path: []State{StateDone, StateError}, want: StateDone},
		{name: "error never completes", path: []State{StateError, StateDone}, want: StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(WithClock(clockwork.NewFakeClockAt(epoch)))
			id := r.Create("ext", "b", "").ID

			var (
				got     Record
				changed bool
				err     error
			)
			for _, s := range tt.path {
				got, changed, err = r.Advance(id, s, "because")
				if err != nil {
					t.Fatalf("Advance() = %v", err)
				}
			}
			if got.State != tt.want {
				t.Errorf("state = %v, want %v", got.State, tt.want)
			}
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if stored, _ := r.Get(id); stored.State != tt.want {
				t.Errorf("stored state = %v, want %v", stored.State, tt.want)
			}
		})
	}
}

func TestRegistryAdvanceStamps(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := NewRegistry(WithClock(clock))
	id := r.Create("ext", "b", "").ID

	clock.Advance(time.Second)
	rec, _, _ := r.Advance(id, StateRunning, "")
	if !rec.FinishedAt.IsZero() {
		t.Errorf("FinishedAt set on a running job: %v", rec.FinishedAt)
	}

	clock.Advance(time.Second)
	rec, _, _ = r.Advance(id, StateError, "exploded")
	if want := epoch.Add(2 * time.Second); !rec.FinishedAt.Equal(want) {
		t.Errorf("FinishedAt = %v, want %v", rec.FinishedAt, want)
	}
	if rec.Detail != "exploded" {
		t.Errorf("Detail = %q, want exploded", rec.Detail)
	}

	if _, _, err := r.Advance("missing", StateDone, ""); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Advance(missing) = %v, want ErrUnknownJob", err)
	}
}

func TestRegistryConcurrentAdvance(t *testing.T) {
	r := NewRegistry(WithClock(clockwork.NewFakeClockAt(epoch)))
	id := r.Create("ext", "b", "").ID

	var wg sync.WaitGroup
	var mu sync.Mutex
	changes := 0
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			to := StateRunning
			if i%2 == 0 {
				to = StateDone
			}
			_, changed, err := r.Advance(id, to, "")
			if err != nil {
				t.Errorf("Advance() = %v", err)
			}
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if rec, _ := r.Get(id); rec.State != StateDone {
		t.Errorf("state = %v, want done", rec.State)
	}
	// At most pending->running->done.
	if changes < 1 || changes > 2 {
		t.Errorf("changes = %d, want 1 or 2", changes)
	}
}

func TestRegistrySweep(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	r := NewRegistry(WithClock(clock), WithTTL(time.Hour), WithMaxAge(3*time.Hour))

	finished := r.Create("ext-1", "b", "").ID
	failed := r.Create("ext-2", "b", "").ID
	running := r.Create("ext-3", "b", "").ID
	r.Advance(finished, StateDone, "")
	r.Advance(running, StateRunning, "")

	clock.Advance(30 * time.Minute)
	r.Advance(failed, StateError, "boom")

	clock.Advance(45 * time.Minute)
	// finished is 75m past completion, failed only 45m.
	if n := r.Sweep(ctx); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if _, ok := r.Get(finished); ok {
		t.Error("expired record survived the sweep")
	}
	if _, ok := r.Get(failed); !ok {
		t.Error("fresh error record was swept")
	}

	clock.Advance(30 * time.Minute)
	if n := r.Sweep(ctx); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}

	// running has been in flight for 1h45m; under the max age.
	if _, ok := r.Get(running); !ok {
		t.Fatal("in-flight record was swept early")
	}
	clock.Advance(2 * time.Hour)
	if n := r.Sweep(ctx); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryCounts(t *testing.T) {
	r := NewRegistry(WithClock(clockwork.NewFakeClockAt(epoch)))
	a := r.Create("a", "b", "").ID
	b := r.Create("b", "b", "").ID
	r.Create("c", "b", "")
	r.Advance(a, StateRunning, "")
	r.Advance(b, StateDone, "")

	want := map[State]int{StatePending: 1, StateRunning: 1, StateDone: 1}
	if diff := cmp.Diff(want, r.Counts()); diff != "" {
		t.Errorf("Counts() (-want +got): %s", diff)
	}
}

func TestRegistryRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(epoch)
	r := NewRegistry(WithClock(clock), WithTTL(time.Minute))
	id := r.Create("ext", "b", "").ID
	r.Advance(id, StateDone, "")

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx, 10*time.Minute) }()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext() = %v", err)
	}
	clock.Advance(10 * time.Minute)

	deadline := time.Now().Add(5 * time.Second)
	for r.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("record was not swept")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestPollFailures(t *testing.T) {
	r := NewRegistry(WithClock(clockwork.NewFakeClockAt(epoch)))
	id := r.Create("ext", "b", "").ID

	for want := 1; want <= 3; want++ {
		rec, err := r.PollFailed(id)
		if err != nil {
			t.Fatalf("PollFailed() = %v", err)
		}
		if rec.PollFailures != want {
			t.Errorf("PollFailures = %d, want %d", rec.PollFailures, want)
		}
	}
	r.PollSucceeded(id)
	if rec, _ := r.Get(id); rec.PollFailures != 0 {
		t.Errorf("PollFailures = %d after success, want 0", rec.PollFailures)
	}
	if _, err := r.PollFailed("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("PollFailed(missing) = %v, want ErrUnknownJob", err)
	}
}
