/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent types emitted over a job's life.
const (
	EventSubmitted = "dev.quantumcoin.draw.submitted"
	EventCompleted = "dev.quantumcoin.draw.completed"
	EventFailed    = "dev.quantumcoin.draw.failed"
)

const (
	eventRetryDelay = 10 * time.Millisecond
	eventMaxRetry   = 3
)

// Events publishes lifecycle events. A nil *Events publishes nothing.
type Events struct {
	client cloudevents.Client
	source string

	wg sync.WaitGroup
}

// NewEvents returns a publisher sending through client. Events carry source
// as their origin.
func NewEvents(client cloudevents.Client, source string) *Events {
	return &Events{client: client, source: source}
}

type eventData struct {
	JobID      string    `json:"jobId"`
	ExternalID string    `json:"externalJobId"`
	Backend    string    `json:"backend"`
	State      string    `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	Question   string    `json:"question,omitempty"`
	Cards      []Card    `json:"cards,omitempty"`
	When       time.Time `json:"when"`
}

// Submitted announces a newly created job.
func (e *Events) Submitted(ctx context.Context, rec Record) {
	e.publish(ctx, EventSubmitted, rec, nil)
}

// Finished announces a job reaching a terminal state.
func (e *Events) Finished(ctx context.Context, rec Record, cards []Card) {
	t := EventCompleted
	if rec.State == StateError {
		t = EventFailed
	}
	e.publish(ctx, t, rec, cards)
}

// Wait blocks until every event handed to the publisher has been sent or
// given up on.
func (e *Events) Wait() {
	if e == nil {
		return
	}
	e.wg.Wait()
}

func (e *Events) publish(ctx context.Context, eventType string, rec Record, cards []Card) {
	if e == nil || e.client == nil {
		return
	}
	log := clog.FromContext(ctx).With("job_id", rec.ID, "event_type", eventType)

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetType(eventType)
	event.SetSource(e.source)
	event.SetSubject(rec.ID)
	event.SetExtension("backend", rec.Backend)
	if err := event.SetData(cloudevents.ApplicationJSON, eventData{
		JobID:      rec.ID,
		ExternalID: rec.ExternalID,
		Backend:    rec.Backend,
		State:      rec.State.String(),
		Detail:     rec.Detail,
		Question:   rec.Question,
		Cards:      cards,
		When:       rec.UpdatedAt,
	}); err != nil {
		log.Errorf("failed to set data: %v", err)
		return
	}

	// Delivery must not hold up the request that triggered it.
	rctx := cloudevents.ContextWithRetriesExponentialBackoff(context.WithoutCancel(ctx), eventRetryDelay, eventMaxRetry)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if ceresult := e.client.Send(rctx, event); cloudevents.IsUndelivered(ceresult) || cloudevents.IsNACK(ceresult) {
			log.Errorf("Failed to deliver event: %v", ceresult)
			return
		}
		log.Debug("event delivered")
	}()
}
