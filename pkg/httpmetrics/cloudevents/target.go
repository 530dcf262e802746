/*
Copyright 2023 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package cloudevents

import (
	"fmt"
	"net/url"

	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
)

// WithTarget validates url and wraps cehttp.WithTarget.
func WithTarget(target string) ([]cehttp.Option, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing event target: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("event target %q must be an http(s) URL", target)
	}
	return []cehttp.Option{cehttp.WithTarget(target)}, nil
}
