/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package runtime talks to a Qiskit-Runtime-style REST service: it lists
// devices and their queues, submits sampler jobs, and reads job status and
// results.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/oauth2"

	"github.com/pnckt1/quantum-coin/pkg/backend"
	"github.com/pnckt1/quantum-coin/pkg/httpmetrics"
	"github.com/pnckt1/quantum-coin/pkg/httpratelimit"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://quantum.cloud.ibm.com/api/v1"

	// DefaultAPIVersion is sent as IBM-API-Version.
	DefaultAPIVersion = "2025-05-01"

	// DefaultRegister is the classical register results are read from.
	DefaultRegister = "meas"

	maxBody = 4 << 20
)

// HTTPError is a non-2xx reply from the service.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), strings.TrimSpace(body))
}

// Temporary reports whether retrying the same request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config describes how to reach the service.
type Config struct {
	// BaseURL is the API root, including any version prefix.
	BaseURL string

	// Instance is the service instance CRN, sent as Service-CRN.
	Instance string

	// APIKey is exchanged for bearer tokens at IAMURL. Empty disables auth.
	APIKey string
	IAMURL string

	// APIVersion is sent as IBM-API-Version.
	APIVersion string

	// RPS caps outgoing requests per second. Zero means unlimited.
	RPS float64
}

// Client implements backend.Client over HTTP.
type Client struct {
	base       *url.URL
	instance   string
	apiVersion string
	register   string
	http       *http.Client
}

var _ backend.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRegister reads results from the named classical register.
func WithRegister(name string) Option {
	return func(c *Client) { c.register = name }
}

// WithBaseTransport replaces the innermost transport, under the rate
// limiter, metrics and auth layers.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// New returns a Client for cfg. ctx bounds token refreshes.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must be http(s)", cfg.BaseURL)
	}

	c := &Client{
		base:       u,
		instance:   cfg.Instance,
		apiVersion: cfg.APIVersion,
		register:   DefaultRegister,
		http:       &http.Client{Transport: http.DefaultTransport},
	}
	for _, o := range opts {
		o(c)
	}

	// Innermost first: throttling, then metrics, then auth on top so every
	// retry carries a valid token.
	var rt http.RoundTripper = httpratelimit.NewTransport(c.http.Transport, 5*time.Second, httpratelimit.WithRate(cfg.RPS, 1))
	rt = httpmetrics.WrapTransport(rt)
	if cfg.APIKey != "" {
		iamClient := &http.Client{Transport: httpmetrics.WrapTransport(c.http.Transport)}
		rt = &oauth2.Transport{
			Source: NewIAMTokenSource(ctx, cfg.IAMURL, cfg.APIKey, iamClient),
			Base:   rt,
		}
	}
	c.http = &http.Client{Transport: rt}
	return c, nil
}

type statusReply struct {
	State       bool   `json:"state"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	LengthQueue int    `json:"length_queue"`
}

// Backends implements backend.Client. Simulators are skipped.
func (c *Client) Backends(ctx context.Context) ([]backend.Backend, error) {
	var list struct {
		Devices []string `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, "/backends", nil, &list); err != nil {
		return nil, err
	}

	out := make([]backend.Backend, 0, len(list.Devices))
	for _, name := range list.Devices {
		if strings.Contains(name, "simulator") {
			continue
		}
		b, err := c.BackendStatus(ctx, name)
		if err != nil {
			// One unreachable device should not hide the others.
			clog.FromContext(ctx).Warn("skipping backend", "backend", name, "error", err)
			continue
		}
		if b.Operational {
			out = append(out, b)
		}
	}
	return out, nil
}

// BackendStatus implements backend.Client.
func (c *Client) BackendStatus(ctx context.Context, name string) (backend.Backend, error) {
	var st statusReply
	if err := c.do(ctx, http.MethodGet, "/backends/"+url.PathEscape(name)+"/status", nil, &st); err != nil {
		return backend.Backend{}, err
	}
	return backend.Backend{
		Name:        name,
		Operational: st.State && (st.Status == "" || strings.EqualFold(st.Status, "active")),
		PendingJobs: st.LengthQueue,
	}, nil
}

type jobRequest struct {
	ProgramID string    `json:"program_id"`
	Backend   string    `json:"backend"`
	Params    jobParams `json:"params"`
}

type jobParams struct {
	// Each pub is [circuit, parameter values, shots].
	Pubs    [][]any `json:"pubs"`
	Version int     `json:"version"`
}

// Submit implements backend.Client.
func (c *Client) Submit(ctx context.Context, name string, req backend.Request) (string, error) {
	body := jobRequest{
		ProgramID: "sampler",
		Backend:   name,
		Params: jobParams{
			Pubs:    [][]any{{req.Circuit, nil, req.Shots}},
			Version: 2,
		},
	}
	var reply struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs", body, &reply); err != nil {
		return "", err
	}
	if reply.ID == "" {
		return "", errors.New("submission reply carried no job id")
	}
	clog.FromContext(ctx).Info("submitted job", "backend", name, "external_id", reply.ID)
	return reply.ID, nil
}

// JobStatus implements backend.Client.
func (c *Client) JobStatus(ctx context.Context, externalID string) (string, error) {
	var reply struct {
		Status string `json:"status"`
		State  struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		} `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(externalID), nil, &reply); err != nil {
		return "", err
	}
	if reply.Status != "" {
		return reply.Status, nil
	}
	return reply.State.Status, nil
}

type samplerResult struct {
	Results []struct {
		Data map[string]struct {
			Samples []string `json:"samples"`
			NumBits int      `json:"num_bits"`
		} `json:"data"`
	} `json:"results"`
}

// JobResult implements backend.Client. Hex samples are expanded to
// zero-padded bitstrings and counted.
func (c *Client) JobResult(ctx context.Context, externalID string) (map[string]int, error) {
	var reply samplerResult
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(externalID)+"/results", nil, &reply); err != nil {
		return nil, err
	}
	if len(reply.Results) == 0 {
		return nil, nil
	}

	data := reply.Results[0].Data
	reg, ok := data[c.register]
	if !ok {
		if len(data) != 1 {
			return nil, fmt.Errorf("%w: result has no register %q", backend.ErrMalformedResult, c.register)
		}
		for _, r := range data {
			reg = r
		}
	}

	counts := make(map[string]int, len(reg.Samples))
	for _, s := range reg.Samples {
		bits, err := hexToBits(s, reg.NumBits)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", backend.ErrMalformedResult, err)
		}
		counts[bits]++
	}
	return counts, nil
}

func hexToBits(sample string, width int) (string, error) {
	if width < 1 || width > 64 {
		return "", fmt.Errorf("unsupported register width %d", width)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(sample), "0x"), 16, 64)
	if err != nil {
		return "", fmt.Errorf("parsing sample %q: %w", sample, err)
	}
	if width < 64 && v>>uint(width) != 0 {
		return "", fmt.Errorf("sample %q exceeds %d bits", sample, width)
	}
	return fmt.Sprintf("%0*b", width, v), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	// Path segments are escaped by the callers.
	endpoint := c.base.String() + path

	var body io.Reader
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.instance != "" {
		req.Header.Set("Service-CRN", c.instance)
	}
	req.Header.Set("IBM-API-Version", c.apiVersion)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}
	clog.FromContext(ctx).Debug("backend call",
		"method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: %s %s: decoding reply: %w", backend.ErrMalformedResult, method, path, err)
	}
	return nil
}
