/*
Copyright 2022 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package cloudevents

import (
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"

	metrics "github.com/pnckt1/quantum-coin/pkg/httpmetrics"
)

// sendTimeout caps one delivery attempt to the sink.
const sendTimeout = 10 * time.Second

// NewClient returns a client that posts job lifecycle events to target.
// Deliveries go through the instrumented transport, so they show up in the
// outbound request metrics under the sink's host and carry the trace of
// the draw that caused them. opts are applied after the target.
func NewClient(target string, opts ...cehttp.Option) (cloudevents.Client, error) {
	topts, err := WithTarget(target)
	if err != nil {
		return nil, err
	}
	// Left unset, the SDK falls back to http.DefaultClient and swaps its
	// Transport.
	hc := http.Client{
		Transport: metrics.Transport,
		Timeout:   sendTimeout,
	}
	all := append([]cehttp.Option{cehttp.WithClient(hc)}, topts...)
	return cloudevents.NewClientHTTP(append(all, opts...)...)
}
