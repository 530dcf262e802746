/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/pnckt1/quantum-coin/pkg/backend"
	"github.com/pnckt1/quantum-coin/pkg/entropy"
)

// DefaultBackendTimeout bounds a single call to the backend.
const DefaultBackendTimeout = 30 * time.Second

// SubmitterOptions tunes a Submitter. Zero values take defaults.
type SubmitterOptions struct {
	// Width is the number of random bits requested per job.
	Width int

	// Timeout bounds the submission call.
	Timeout time.Duration

	Events *Events
}

// Submitter turns a draw request into a backend job and a Pending record.
type Submitter struct {
	client   backend.Client
	selector *backend.Selector
	registry *Registry
	events   *Events

	width   int
	circuit string
	timeout time.Duration
}

// NewSubmitter returns a Submitter. It fails if the width cannot be
// requested.
func NewSubmitter(client backend.Client, selector *backend.Selector, registry *Registry, opts SubmitterOptions) (*Submitter, error) {
	if opts.Width == 0 {
		opts.Width = entropy.DefaultWidth
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBackendTimeout
	}
	circuit, err := entropy.Circuit(opts.Width)
	if err != nil {
		return nil, err
	}
	return &Submitter{
		client:   client,
		selector: selector,
		registry: registry,
		events:   opts.Events,
		width:    opts.Width,
		circuit:  circuit,
		timeout:  opts.Timeout,
	}, nil
}

// Submit sends one entropy request and records it. It returns as soon as the
// backend has accepted the job.
func (s *Submitter) Submit(ctx context.Context, question string) (Record, error) {
	b, err := s.selector.Select(ctx)
	if err != nil {
		if errors.Is(err, backend.ErrNoOperationalBackend) {
			return Record{}, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}
		return Record{}, fmt.Errorf("%w: selecting backend: %w", ErrServiceUnavailable, err)
	}
	log := clog.FromContext(ctx).With("backend", b.Name)

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	externalID, err := s.client.Submit(sctx, b.Name, backend.Request{
		Circuit: s.circuit,
		Shots:   entropy.Shots,
		Width:   s.width,
	})
	mBackendLatency.WithLabelValues("submit", outcome(err)).Observe(time.Since(start).Seconds())
	mSubmitted.WithLabelValues(b.Name, outcome(err)).Inc()
	if err != nil {
		// The device may be gone or saturated; choose afresh next time.
		s.selector.Invalidate()
		log.Warn("submission failed", "error", err)
		return Record{}, fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	rec := s.registry.Create(externalID, b.Name, question)
	log.Info("job submitted", "job_id", rec.ID, "external_job_id", externalID)
	s.events.Submitted(ctx, rec)
	return rec, nil
}
