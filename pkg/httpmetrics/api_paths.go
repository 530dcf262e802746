// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpmetrics

import (
	"regexp"
)

type pathPattern struct {
	pattern *regexp.Regexp
	bucket  string
}

// Endpoint patterns of the services this module calls out to. Patterns are
// anchored at the end so a versioned prefix (e.g. /api/v1) is tolerated.
var apiPatterns = []pathPattern{{
	pattern: regexp.MustCompile(`/backends$`),
	bucket:  "/backends",
}, {
	pattern: regexp.MustCompile(`/backends/[^/]+/status$`),
	bucket:  "/backends/{name}/status",
}, {
	pattern: regexp.MustCompile(`/jobs$`),
	bucket:  "/jobs",
}, {
	pattern: regexp.MustCompile(`/jobs/[^/]+/results$`),
	bucket:  "/jobs/{id}/results",
}, {
	pattern: regexp.MustCompile(`/jobs/[^/]+$`),
	bucket:  "/jobs/{id}",
}, {
	pattern: regexp.MustCompile(`/chat/completions$`),
	bucket:  "/chat/completions",
}, {
	pattern: regexp.MustCompile(`/identity/token$`),
	bucket:  "/identity/token",
}}

// bucketizePath maps a request path onto a bounded set of label values.
// Unknown paths map to "".
func bucketizePath(path string) string {
	for _, p := range apiPatterns {
		if p.pattern.MatchString(path) {
			return p.bucket
		}
	}
	return ""
}
