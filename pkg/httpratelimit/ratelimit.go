/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package httpratelimit

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/time/rate"
)

// HeaderRetryAfter indicates how long to wait before retrying, either in
// seconds or as an HTTP date.
const HeaderRetryAfter = "Retry-After"

// DefaultMaxRetries bounds how many times a throttled request is replayed.
const DefaultMaxRetries = 3

// Transport wraps an http.RoundTripper with a steady request budget and
// pauses all traffic when the remote side asks it to back off (429, or 503
// with a Retry-After).
type Transport struct {
	base              http.RoundTripper
	limiter           *limiter
	defaultRetryAfter time.Duration
	maxRetries        int
}

// Option configures a Transport.
type Option func(*Transport)

// WithRate limits outgoing requests to rps per second with the given burst.
// A non-positive rps disables the steady limit.
func WithRate(rps float64, burst int) Option {
	return func(t *Transport) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter.base = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxRetries sets how many times a throttled request is replayed before
// the throttled response is returned to the caller.
func WithMaxRetries(n int) Option {
	return func(t *Transport) { t.maxRetries = n }
}

// NewTransport creates a new rate limiting transport wrapper.
// The defaultRetryAfter specifies how long to wait when throttled but no
// Retry-After header is provided (defaults to 1 minute).
func NewTransport(base http.RoundTripper, defaultRetryAfter time.Duration, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if defaultRetryAfter == 0 {
		defaultRetryAfter = time.Minute
	}

	t := &Transport{
		base: base,
		limiter: &limiter{
			base: rate.NewLimiter(rate.Inf, 100),
		},
		defaultRetryAfter: defaultRetryAfter,
		maxRetries:        DefaultMaxRetries,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// NewClient creates a new HTTP client with rate limiting enabled.
// This is a convenience function that wraps the given base transport.
func NewClient(base http.RoundTripper, opts ...Option) *http.Client {
	return &http.Client{
		Transport: NewTransport(base, time.Minute, opts...),
	}
}

// RoundTrip implements http.RoundTripper and adds rate limiting logic.
func (rt *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		// Wait if we're currently paused due to throttling
		if err := rt.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		r, err := rewind(req, attempt)
		if err != nil {
			return nil, err
		}

		resp, err := rt.base.RoundTrip(r)
		if err != nil {
			return resp, err
		}

		if attempt >= rt.maxRetries || !rt.processRateLimit(ctx, resp) {
			return resp, nil
		}
		if !replayable(req) {
			return resp, nil
		}

		// Drain so the connection can be reused.
		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}
}

// processRateLimit checks if the response indicates throttling and pauses
// future requests. Returns true if the request should be retried after the
// pause.
func (rt *Transport) processRateLimit(ctx context.Context, resp *http.Response) bool {
	log := clog.FromContext(ctx)

	retryAfter, hasHeader := parseRetryAfter(ctx, resp.Header.Get(HeaderRetryAfter))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
	case http.StatusServiceUnavailable:
		// A 503 only means "back off" when the server says for how long.
		if !hasHeader {
			return false
		}
	default:
		return false
	}

	if retryAfter <= 0 {
		retryAfter = rt.defaultRetryAfter
		log.With("retry_after", retryAfter, "status", resp.StatusCode).
			Warn("Throttled without a usable retry-after, using default pause")
	} else {
		log.With("retry_after", retryAfter, "status", resp.StatusCode).
			Warn("Throttled, pausing requests")
	}
	rt.limiter.PauseFor(retryAfter)
	return true
}

func parseRetryAfter(ctx context.Context, v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at), true
	}
	clog.FromContext(ctx).Warnf("Failed to parse retry-after header: %q", v)
	return 0, true
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// rewind returns the request to send on the given attempt, with a fresh body
// for replays.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.GetBody == nil {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

// limiter provides a pausable rate limiter that can temporarily block all requests.
type limiter struct {
	base       *rate.Limiter
	mu         sync.Mutex
	pauseUntil time.Time
	pauseCh    chan struct{}
}

// Wait blocks until the limiter allows a request to proceed.
// It respects both the underlying rate limiter and any active pause.
func (l *limiter) Wait(ctx context.Context) error {
	// A pause that gets extended closes its old channel, so look again
	// after every wake-up.
	for {
		l.mu.Lock()
		pauseCh := l.pauseCh
		l.mu.Unlock()
		if pauseCh == nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pauseCh:
		}
	}

	// Wait for rate limiter to allow the request
	return l.base.Wait(ctx)
}

// PauseFor pauses all requests for the specified duration.
// If already paused, extends the pause only if the new duration is longer.
func (l *limiter) PauseFor(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until := time.Now().Add(d)

	// Only update if this extends the current pause
	if until.After(l.pauseUntil) {
		l.pauseUntil = until

		// Close existing pause channel if any
		if l.pauseCh != nil {
			close(l.pauseCh)
		}
		l.pauseCh = make(chan struct{})

		// Start goroutine to end the pause after duration
		go func(ch chan struct{}) {
			timer := time.NewTimer(d)
			defer timer.Stop()

			<-timer.C

			l.mu.Lock()
			// Only clear if this is still the active pause channel
			if ch == l.pauseCh {
				close(ch)
				l.pauseCh = nil
				l.pauseUntil = time.Time{}
			}
			l.mu.Unlock()
		}(l.pauseCh)
	}
}
