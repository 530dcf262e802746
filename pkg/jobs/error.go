/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import "errors"

// The failure taxonomy of the draw lifecycle. Callers classify with
// errors.Is; the wrapped cause carries the detail.
var (
	// ErrServiceUnavailable means no backend can take the request.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrSubmission means the backend rejected or failed the entropy request.
	ErrSubmission = errors.New("submission failed")

	// ErrUnknownJob means the job id was never issued, or has been swept.
	ErrUnknownJob = errors.New("unknown job")

	// ErrPoll is a transient fault talking to the backend while polling.
	// Retrying the poll later may succeed.
	ErrPoll = errors.New("polling backend failed")

	// ErrData means the backend returned a result that cannot be turned
	// into a draw.
	ErrData = errors.New("invalid result data")
)
