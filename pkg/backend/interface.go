/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package backend describes the external compute service that runs entropy
// requests, and how one of its devices is chosen for a submission.
package backend

import (
	"context"
	"errors"
)

// ErrNoOperationalBackend is returned when no candidate can take work.
var ErrNoOperationalBackend = errors.New("no operational backend available")

// ErrMalformedResult marks a reply that arrived intact but cannot be
// understood. Asking again will not change it.
var ErrMalformedResult = errors.New("malformed backend reply")

// Backend is a snapshot of one compute device.
type Backend struct {
	Name        string `json:"name"`
	Operational bool   `json:"operational"`
	PendingJobs int    `json:"pendingJobs"`
}

// Request is a single entropy request.
type Request struct {
	// Circuit is the program to run, in OpenQASM 3.
	Circuit string

	// Shots is the number of samples to take.
	Shots int

	// Width is the number of measured bits.
	Width int
}

// Client is the contract the job lifecycle depends on. Implementations talk
// to a real service or simulate one; either way they are handed to each
// component explicitly.
type Client interface {
	// Backends lists the devices that currently report as operational.
	Backends(ctx context.Context) ([]Backend, error)

	// BackendStatus returns the live status of a single device.
	BackendStatus(ctx context.Context, name string) (Backend, error)

	// Submit enqueues req on the named device and returns the external
	// job id without waiting for it to run.
	Submit(ctx context.Context, backend string, req Request) (string, error)

	// JobStatus returns the external system's status token for a job,
	// verbatim. Interpretation is left to the caller.
	JobStatus(ctx context.Context, externalID string) (string, error)

	// JobResult returns the measurement histogram of a finished job,
	// mapping each observed bitstring to the number of times it was seen.
	JobResult(ctx context.Context, externalID string) (map[string]int, error)
}
