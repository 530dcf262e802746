/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// Policy controls how often the device list is consulted.
type Policy string

const (
	// PolicyCached selects once and reuses the choice until Invalidate is
	// called. Cheap per submission, but the choice can go stale as queues
	// move.
	PolicyCached Policy = "cached"

	// PolicyPerRequest lists devices on every selection. Fresher, at the
	// cost of an extra round trip per submission.
	PolicyPerRequest Policy = "per-request"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyCached, PolicyPerRequest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown selection policy %q", s)
	}
}

// selectTimeout bounds a shared device listing. The listing runs detached
// from whichever caller started it, so it needs a deadline of its own.
const selectTimeout = 30 * time.Second

var mSelections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "backend_selections_total",
		Help: "The number of times a backend was chosen from a fresh device listing.",
	},
	[]string{"backend", "policy"},
)

// Pick returns the operational candidate with the fewest pending jobs. Ties
// go to whichever candidate appears first.
func Pick(candidates []Backend) (Backend, error) {
	best := -1
	for i, c := range candidates {
		if !c.Operational {
			continue
		}
		if best < 0 || c.PendingJobs < candidates[best].PendingJobs {
			best = i
		}
	}
	if best < 0 {
		return Backend{}, ErrNoOperationalBackend
	}
	return candidates[best], nil
}

// Selector chooses the device a submission goes to.
type Selector struct {
	client Client
	policy Policy
	allow  map[string]struct{}

	// mu guards cached.
	mu     sync.RWMutex
	cached *Backend

	// group collapses concurrent listings into one call.
	group singleflight.Group
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithAllowList restricts selection to the named devices. An empty list
// allows everything.
func WithAllowList(names ...string) SelectorOption {
	return func(s *Selector) {
		if len(names) == 0 {
			return
		}
		s.allow = make(map[string]struct{}, len(names))
		for _, n := range names {
			s.allow[n] = struct{}{}
		}
	}
}

// NewSelector returns a Selector over client's devices.
func NewSelector(client Client, policy Policy, opts ...SelectorOption) *Selector {
	s := &Selector{
		client: client,
		policy: policy,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the configured policy.
func (s *Selector) Policy() Policy { return s.policy }

// Select returns the device the next submission should use.
func (s *Selector) Select(ctx context.Context) (Backend, error) {
	if b, ok := s.fromCache(); ok {
		return b, nil
	}

	ch := s.group.DoChan("select", func() (any, error) {
		// Another caller may have filled the slot while we waited.
		if b, ok := s.fromCache(); ok {
			return b, nil
		}
		// Waiters share this listing, so one caller going away must not
		// fail it for the rest.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), selectTimeout)
		defer cancel()
		b, err := s.choose(lctx)
		if err != nil {
			return nil, err
		}
		if s.policy == PolicyCached {
			s.mu.Lock()
			s.cached = &b
			s.mu.Unlock()
		}
		return b, nil
	})
	select {
	case <-ctx.Done():
		return Backend{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Backend{}, res.Err
		}
		return res.Val.(Backend), nil
	}
}

// Invalidate drops any cached choice so the next Select lists again.
func (s *Selector) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

// Current returns the live status of the device Select would return.
func (s *Selector) Current(ctx context.Context) (Backend, error) {
	b, err := s.Select(ctx)
	if err != nil {
		return Backend{}, err
	}
	return s.client.BackendStatus(ctx, b.Name)
}

func (s *Selector) fromCache() (Backend, bool) {
	if s.policy != PolicyCached {
		return Backend{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return Backend{}, false
	}
	return *s.cached, true
}

func (s *Selector) choose(ctx context.Context) (Backend, error) {
	all, err := s.client.Backends(ctx)
	if err != nil {
		return Backend{}, fmt.Errorf("listing backends: %w", err)
	}

	candidates := all
	if s.allow != nil {
		candidates = make([]Backend, 0, len(all))
		for _, b := range all {
			if _, ok := s.allow[b.Name]; ok {
				candidates = append(candidates, b)
			}
		}
	}

	b, err := Pick(candidates)
	if err != nil {
		clog.FromContext(ctx).Warn("no backend to select", "listed", len(all), "candidates", len(candidates))
		return Backend{}, err
	}
	clog.FromContext(ctx).Info("selected backend",
		"backend", b.Name, "pending_jobs", b.PendingJobs, "policy", string(s.policy))
	mSelections.WithLabelValues(b.Name, string(s.policy)).Inc()
	return b, nil
}
