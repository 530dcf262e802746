/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package fake is an in-process stand-in for the compute service. Jobs walk
// a scripted sequence of status tokens, one step per status query, and
// complete with a single-shot histogram.
//
// It backs the lifecycle tests and the service's local mode. The bits it
// produces come from math/rand and carry no quantum provenance.
package fake

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/pnckt1/quantum-coin/pkg/backend"
)

// Op names a Client operation, for error injection and call counting.
type Op string

const (
	OpBackends      Op = "backends"
	OpBackendStatus Op = "backend_status"
	OpSubmit        Op = "submit"
	OpJobStatus     Op = "job_status"
	OpJobResult     Op = "job_result"
)

// DefaultSequence is what a job reports on successive status queries. The
// last token repeats once reached.
var DefaultSequence = []string{"QUEUED", "RUNNING", "DONE"}

type job struct {
	backend   string
	width     int
	polls     int
	sequence  []string
	status    string // overrides sequence when set
	histogram map[string]int
}

// Client implements backend.Client in memory.
type Client struct {
	mu       sync.Mutex
	backends []backend.Backend
	jobs     map[string]*job
	order    []string
	sequence []string
	bits     func(width int) string
	errs     map[Op]error
	calls    map[Op]int
}

var _ backend.Client = (*Client)(nil)

// New returns a Client exposing the given devices. With none, a single
// operational "fake_simulator" is provided.
func New(backends ...backend.Backend) *Client {
	if len(backends) == 0 {
		backends = []backend.Backend{{Name: "fake_simulator", Operational: true}}
	}
	return &Client{
		backends: backends,
		jobs:     make(map[string]*job),
		sequence: DefaultSequence,
		bits:     randomBits,
		errs:     make(map[Op]error),
		calls:    make(map[Op]int),
	}
}

// SetSequence changes the status script for jobs submitted afterwards.
func (c *Client) SetSequence(statuses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequence = statuses
}

// SetBits replaces the source of measured bitstrings for jobs submitted
// afterwards.
func (c *Client) SetBits(f func(width int) string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bits = f
}

// SetError makes every call to op fail with err until cleared with nil.
func (c *Client) SetError(op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.errs, op)
		return
	}
	c.errs[op] = err
}

// SetStatus pins the status token reported for a job.
func (c *Client) SetStatus(externalID, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[externalID]; ok {
		j.status = status
	}
}

// SetResult replaces the histogram of a job.
func (c *Client) SetResult(externalID string, histogram map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[externalID]; ok {
		j.histogram = histogram
	}
}

// SetPending updates the queue depth reported for a device.
func (c *Client) SetPending(name string, pending int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.backends {
		if c.backends[i].Name == name {
			c.backends[i].PendingJobs = pending
		}
	}
}

// Calls reports how many times op has been invoked.
func (c *Client) Calls(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Jobs returns the external ids submitted so far, oldest first.
func (c *Client) Jobs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Backends implements backend.Client.
func (c *Client) Backends(_ context.Context) ([]backend.Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpBackends); err != nil {
		return nil, err
	}
	out := make([]backend.Backend, 0, len(c.backends))
	for _, b := range c.backends {
		if b.Operational {
			out = append(out, b)
		}
	}
	return out, nil
}

// BackendStatus implements backend.Client.
func (c *Client) BackendStatus(_ context.Context, name string) (backend.Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpBackendStatus); err != nil {
		return backend.Backend{}, err
	}
	for _, b := range c.backends {
		if b.Name == name {
			return b, nil
		}
	}
	return backend.Backend{}, fmt.Errorf("backend %q not found", name)
}

// Submit implements backend.Client.
func (c *Client) Submit(_ context.Context, name string, req backend.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpSubmit); err != nil {
		return "", err
	}
	if req.Shots != 1 {
		return "", fmt.Errorf("fake backend only supports single-shot requests, got %d", req.Shots)
	}
	id := fmt.Sprintf("fake-%04d", len(c.order)+1)
	c.jobs[id] = &job{
		backend:   name,
		width:     req.Width,
		sequence:  c.sequence,
		histogram: map[string]int{c.bits(req.Width): 1},
	}
	c.order = append(c.order, id)
	for i := range c.backends {
		if c.backends[i].Name == name {
			c.backends[i].PendingJobs++
		}
	}
	return id, nil
}

// JobStatus implements backend.Client. Each call advances the job one step
// along its script.
func (c *Client) JobStatus(_ context.Context, externalID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpJobStatus); err != nil {
		return "", err
	}
	j, ok := c.jobs[externalID]
	if !ok {
		return "", fmt.Errorf("job %q not found", externalID)
	}
	if j.status != "" {
		return j.status, nil
	}
	if len(j.sequence) == 0 {
		return "DONE", nil
	}
	idx := min(j.polls, len(j.sequence)-1)
	j.polls++
	return j.sequence[idx], nil
}

// JobResult implements backend.Client.
func (c *Client) JobResult(_ context.Context, externalID string) (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpJobResult); err != nil {
		return nil, err
	}
	j, ok := c.jobs[externalID]
	if !ok {
		return nil, fmt.Errorf("job %q not found", externalID)
	}
	if j.histogram == nil {
		return nil, nil
	}
	out := make(map[string]int, len(j.histogram))
	for k, v := range j.histogram {
		out[k] = v
	}
	return out, nil
}

// enter records a call and returns any injected error. c.mu must be held.
func (c *Client) enter(op Op) error {
	c.calls[op]++
	return c.errs[op]
}

// FixedBits returns a bit source that always yields bits.
func FixedBits(bits string) func(int) string {
	return func(int) string { return bits }
}

func randomBits(width int) string {
	var b strings.Builder
	for range width {
		if rand.IntN(2) == 1 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
