/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import "strings"

// externalStates maps the backend's status vocabulary, lowercased, onto
// lifecycle states.
var externalStates = map[string]State{
	"queued":       StateRunning,
	"running":      StateRunning,
	"initializing": StateRunning,
	"validating":   StateRunning,
	"pending":      StateRunning,

	"error":                    StateError,
	"cancelled":                StateError,
	"canceled":                 StateError,
	"failed":                   StateError,
	"cancelled - ran too long": StateError,

	"completed": StateDone,
	"done":      StateDone,
}

// MapStatus translates an external status token. Unrecognised tokens map to
// StateRunning with known == false: a new word from the backend means "ask
// again later", not a failure.
func MapStatus(token string) (s State, known bool) {
	key := strings.ToLower(strings.TrimSpace(token))
	// Some clients report enum names like "JobStatus.DONE".
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	if s, ok := externalStates[key]; ok {
		return s, true
	}
	return StateRunning, false
}
