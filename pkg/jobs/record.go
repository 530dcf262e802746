/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import "time"

// State is where a job is in its lifecycle.
type State int

const (
	StatePending State = iota
	StateRunning
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// canAdvance reports whether from -> to moves the job forward. Writing the
// current state again is allowed and changes nothing.
func canAdvance(from, to State) bool {
	if from == to {
		return true
	}
	switch from {
	case StatePending:
		return to == StateRunning || to == StateDone || to == StateError
	case StateRunning:
		return to == StateDone || to == StateError
	default:
		return false
	}
}

// Record is one submitted draw. The registry hands out copies; only the
// registry mutates the stored value.
type Record struct {
	ID         string
	ExternalID string
	Backend    string
	Question   string

	State State
	// Detail explains an Error state.
	Detail string

	SubmittedAt time.Time
	UpdatedAt   time.Time
	FinishedAt  time.Time

	// PollFailures counts consecutive polls that could not reach the
	// backend.
	PollFailures int
}
