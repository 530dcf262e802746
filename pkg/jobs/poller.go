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

	"github.com/avast/retry-go"
	"github.com/chainguard-dev/clog"

	"github.com/pnckt1/quantum-coin/pkg/backend"
	"github.com/pnckt1/quantum-coin/pkg/catalog"
	"github.com/pnckt1/quantum-coin/pkg/entropy"
	"github.com/pnckt1/quantum-coin/pkg/shuffle"
)

// Outcome statuses reported to callers.
const (
	StatusRunning = "running"
	StatusError   = "error"
	StatusDone    = "done"
)

const (
	DefaultDrawCount   = 3
	DefaultAttempts    = 3
	DefaultRetryDelay  = 200 * time.Millisecond
	DefaultMaxFailures = 20
)

// Card is one drawn catalog entry as shown to callers.
type Card struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Outcome is the answer to a poll.
type Outcome struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Cards   []Card `json:"cards,omitempty"`
}

// PollerOptions tunes a Poller. Zero values take defaults.
type PollerOptions struct {
	// DrawCount is how many cards a finished job yields.
	DrawCount int

	// Attempts and RetryDelay bound the retries of each backend call
	// within one poll.
	Attempts   uint
	RetryDelay time.Duration

	// Timeout bounds each backend call attempt.
	Timeout time.Duration

	// MaxFailures is how many consecutive failed polls a job tolerates
	// before it is marked as failed.
	MaxFailures int

	Events *Events
}

// Poller checks jobs against the backend and, once a job is done, turns its
// result into a draw.
type Poller struct {
	client   backend.Client
	registry *Registry
	deck     []catalog.Entry
	resolver *catalog.Resolver
	events   *Events

	drawCount   int
	attempts    uint
	retryDelay  time.Duration
	timeout     time.Duration
	maxFailures int
}

// NewPoller returns a Poller drawing from the standard deck.
func NewPoller(client backend.Client, registry *Registry, opts PollerOptions) *Poller {
	if opts.DrawCount <= 0 {
		opts.DrawCount = DefaultDrawCount
	}
	if opts.Attempts == 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBackendTimeout
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	return &Poller{
		client:      client,
		registry:    registry,
		deck:        catalog.Deck(),
		resolver:    catalog.NewResolver(),
		events:      opts.Events,
		drawCount:   opts.DrawCount,
		attempts:    opts.Attempts,
		retryDelay:  opts.RetryDelay,
		timeout:     opts.Timeout,
		maxFailures: opts.MaxFailures,
	}
}

// Poll reports where job id stands. A finished job's cards are derived
// afresh from the backend's result on every call; if that result can no
// longer be drawn from, the job stays done and Poll returns ErrData.
func (p *Poller) Poll(ctx context.Context, id string) (Outcome, error) {
	rec, ok := p.registry.Get(id)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With(
		"job_id", rec.ID, "external_job_id", rec.ExternalID, "backend", rec.Backend))

	switch rec.State {
	case StateError:
		return errorOutcome(rec), nil
	case StateDone:
		return p.complete(ctx, rec)
	}

	var token string
	if err := p.call(ctx, "status", func(ctx context.Context) (err error) {
		token, err = p.client.JobStatus(ctx, rec.ExternalID)
		return err
	}); err != nil {
		if errors.Is(err, backend.ErrMalformedResult) {
			return p.fail(ctx, rec.ID, fmt.Errorf("%w: %w", ErrData, err).Error())
		}
		return p.failed(ctx, rec, err)
	}
	p.registry.PollSucceeded(rec.ID)

	state, known := MapStatus(token)
	if !known {
		clog.FromContext(ctx).Debug("unrecognised backend status, treating as running", "status", token)
		mUnknownStatus.WithLabelValues(token).Inc()
	}

	switch state {
	case StateDone:
		return p.complete(ctx, rec)
	case StateError:
		return p.fail(ctx, rec.ID, fmt.Sprintf("backend reported job %s", token))
	default:
		rec, _, err := p.registry.Advance(rec.ID, StateRunning, "")
		if err != nil {
			return Outcome{}, err
		}
		// A concurrent poll may already have finished the job.
		if rec.State == StateError {
			return errorOutcome(rec), nil
		}
		return Outcome{Status: StatusRunning, Backend: rec.Backend}, nil
	}
}

// complete fetches the result of a finished job and draws from it.
func (p *Poller) complete(ctx context.Context, rec Record) (Outcome, error) {
	var counts map[string]int
	if err := p.call(ctx, "result", func(ctx context.Context) (err error) {
		counts, err = p.client.JobResult(ctx, rec.ExternalID)
		return err
	}); err != nil {
		if errors.Is(err, backend.ErrMalformedResult) {
			return p.unusable(ctx, rec, fmt.Errorf("%w: %w", ErrData, err))
		}
		return p.failed(ctx, rec, err)
	}
	p.registry.PollSucceeded(rec.ID)

	cards, err := p.draw(ctx, counts)
	if err != nil {
		return p.unusable(ctx, rec, err)
	}

	done, changed, err := p.registry.Advance(rec.ID, StateDone, "")
	if err != nil {
		return Outcome{}, err
	}
	if done.State == StateError {
		return errorOutcome(done), nil
	}
	if changed {
		clog.FromContext(ctx).Info("job done")
		p.events.Finished(ctx, done, cards)
	}
	return Outcome{Status: StatusDone, Backend: done.Backend, Cards: cards}, nil
}

// draw turns a measurement histogram into cards.
func (p *Poller) draw(ctx context.Context, counts map[string]int) ([]Card, error) {
	res, err := entropy.Extract(ctx, counts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrData, err)
	}
	picked := shuffle.Draw(p.deck, res.Seed, p.drawCount)
	cards := make([]Card, 0, len(picked))
	for _, e := range picked {
		img, err := p.resolver.Image(e.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrData, err)
		}
		cards = append(cards, Card{Name: e.Name, Image: img})
	}
	return cards, nil
}

// unusable handles a result that cannot be drawn from. A job still in
// flight fails with the data error. A job already done stays done and only
// this poll reports the error.
func (p *Poller) unusable(ctx context.Context, rec Record, cause error) (Outcome, error) {
	clog.FromContext(ctx).Warn("result cannot be drawn from", "error", cause)
	if rec.State == StateDone {
		return Outcome{}, cause
	}
	return p.fail(ctx, rec.ID, cause.Error())
}

// fail moves a job to Error and reports it.
func (p *Poller) fail(ctx context.Context, id, detail string) (Outcome, error) {
	rec, changed, err := p.registry.Advance(id, StateError, detail)
	if err != nil {
		return Outcome{}, err
	}
	if changed {
		clog.FromContext(ctx).Warn("job failed", "detail", detail)
		p.events.Finished(ctx, rec, nil)
	}
	if rec.State == StateDone {
		// A concurrent poll finished the job first; its draw stands and the
		// next poll reports it.
		return Outcome{}, fmt.Errorf("%w: %s", ErrData, detail)
	}
	return errorOutcome(rec), nil
}

// failed handles a backend call that did not go through. The job survives
// until it has failed too many polls in a row.
func (p *Poller) failed(ctx context.Context, rec Record, cause error) (Outcome, error) {
	mPollFailures.Inc()
	rec, err := p.registry.PollFailed(rec.ID)
	if err != nil {
		return Outcome{}, err
	}
	if rec.PollFailures >= p.maxFailures && !rec.State.Terminal() {
		return p.fail(ctx, rec.ID, fmt.Sprintf("backend unreachable: %v", cause))
	}
	clog.FromContext(ctx).Warn("poll failed", "error", cause, "failures", rec.PollFailures)
	return Outcome{}, fmt.Errorf("%w: %w", ErrPoll, cause)
}

// call runs fn with per-attempt timeouts and bounded retries.
func (p *Poller) call(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := retry.Do(
		func() error {
			actx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			return fn(actx)
		},
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(p.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			clog.FromContext(ctx).Debug("retrying backend call", "op", op, "attempt", n+1, "error", err)
		}),
	)
	mBackendLatency.WithLabelValues(op, outcome(err)).Observe(time.Since(start).Seconds())
	return err
}

// retryable reports whether an error may clear up on its own. Malformed
// replies never do; other errors that know better say so through Temporary.
func retryable(err error) bool {
	if errors.Is(err, backend.ErrMalformedResult) {
		return false
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

func errorOutcome(rec Record) Outcome {
	return Outcome{Status: StatusError, Backend: rec.Backend, Detail: rec.Detail}
}
