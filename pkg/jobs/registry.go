/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid"
)

const (
	DefaultTTL    = time.Hour
	DefaultMaxAge = 24 * time.Hour
)

// Registry holds job records in process memory. Nothing survives a restart.
type Registry struct {
	clock  clockwork.Clock
	ttl    time.Duration
	maxAge time.Duration

	mu      sync.RWMutex
	records map[string]*Record

	// idMu guards entropy, which ulid.Monotonic does not make safe for
	// concurrent use.
	idMu    sync.Mutex
	entropy io.Reader
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock sets the clock used for timestamps and the sweep ticker.
func WithClock(c clockwork.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithTTL sets how long a finished record is kept.
func WithTTL(d time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = d }
}

// WithMaxAge sets how long an unfinished record is kept before it is treated
// as abandoned.
func WithMaxAge(d time.Duration) RegistryOption {
	return func(r *Registry) { r.maxAge = d }
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		clock:   clockwork.NewRealClock(),
		ttl:     DefaultTTL,
		maxAge:  DefaultMaxAge,
		records: make(map[string]*Record),
	}
	for _, o := range opts {
		o(r)
	}
	r.entropy = ulid.Monotonic(rand.New(rand.NewSource(r.clock.Now().UnixNano())), 0)
	return r
}

// newID returns a lowercase ULID. Ids sort by creation time and never repeat
// within the process.
func (r *Registry) newID() string {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(r.clock.Now()), r.entropy).String())
}

// Create stores a new Pending record and returns a copy of it.
func (r *Registry) Create(externalID, backend, question string) Record {
	now := r.clock.Now()
	rec := &Record{
		ID:          r.newID(),
		ExternalID:  externalID,
		Backend:     backend,
		Question:    question,
		State:       StatePending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	r.records[rec.ID] = rec
	r.mu.Unlock()

	mRecords.WithLabelValues(StatePending.String()).Inc()
	return *rec
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Advance moves the record for id to state to, if that is a forward move.
// Backward moves and moves out of a terminal state are ignored. It returns
// the resulting record and whether the stored state changed.
func (r *Registry) Advance(id string, to State, detail string) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, false, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	from := rec.State
	if from == to || !canAdvance(from, to) {
		return *rec, false, nil
	}

	now := r.clock.Now()
	rec.State = to
	rec.UpdatedAt = now
	if to == StateError {
		rec.Detail = detail
	}
	if to.Terminal() {
		rec.FinishedAt = now
	}

	mTransitions.WithLabelValues(from.String(), to.String()).Inc()
	mRecords.WithLabelValues(from.String()).Dec()
	mRecords.WithLabelValues(to.String()).Inc()
	return *rec, true, nil
}

// PollFailed records a poll that could not reach the backend and returns the
// updated record.
func (r *Registry) PollFailed(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	rec.PollFailures++
	rec.UpdatedAt = r.clock.Now()
	return *rec, nil
}

// PollSucceeded clears the consecutive failure count for id.
func (r *Registry) PollSucceeded(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.PollFailures = 0
	}
}

// Len returns the number of records held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Counts returns the number of records in each state.
func (r *Registry) Counts() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[State]int, 4)
	for _, rec := range r.records {
		out[rec.State]++
	}
	return out
}

// Sweep removes finished records older than the TTL and unfinished records
// older than the max age. It returns how many were removed.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.clock.Now()

	r.mu.Lock()
	var expired, abandoned int
	for id, rec := range r.records {
		switch {
		case rec.State.Terminal() && now.Sub(rec.FinishedAt) > r.ttl:
			expired++
		case !rec.State.Terminal() && now.Sub(rec.SubmittedAt) > r.maxAge:
			abandoned++
		default:
			continue
		}
		delete(r.records, id)
		mRecords.WithLabelValues(rec.State.String()).Dec()
	}
	remaining := len(r.records)
	r.mu.Unlock()

	mSwept.WithLabelValues("expired").Add(float64(expired))
	mSwept.WithLabelValues("abandoned").Add(float64(abandoned))
	if expired+abandoned > 0 {
		clog.FromContext(ctx).Info("swept job records",
			"expired", expired, "abandoned", abandoned, "remaining", remaining)
	}
	return expired + abandoned
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			r.Sweep(ctx)
		}
	}
}
