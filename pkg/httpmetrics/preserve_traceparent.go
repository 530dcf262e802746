/*
Copyright 2024 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package httpmetrics

import (
	"net/http"
)

func newPreserveTraceparentTransport(rt http.RoundTripper) http.RoundTripper {
	return &preserveTraceparentTransport{rt}
}

type preserveTraceparentTransport struct {
	http.RoundTripper
}

// preserveTraceparentHeader stashes the inbound traceparent before otelhttp
// overwrites it with its own span.
func preserveTraceparentHeader(r *http.Request) {
	if v := r.Header.Get("traceparent"); v != "" {
		r.Header.Set(OriginalTraceHeader, v)
	}
}

// restoreTraceparentHeader lets a caller-supplied trace id win over the one
// the Google client libraries would generate.
func restoreTraceparentHeader(r *http.Request) {
	if v := r.Header.Get(GoogClientTraceHeader); v != "" {
		r.Header.Set("traceparent", v)
		r.Header.Del(GoogClientTraceHeader)
	}
}

func preserveTraceparentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		preserveTraceparentHeader(r)
		next.ServeHTTP(w, r)
	})
}

func (pt *preserveTraceparentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	preserveTraceparentHeader(r)
	return pt.RoundTripper.RoundTrip(r)
}
