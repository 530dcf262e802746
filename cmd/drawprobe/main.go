/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/sethvargo/go-envconfig"

	"github.com/pnckt1/quantum-coin/pkg/httpmetrics"
	"github.com/pnckt1/quantum-coin/pkg/prober"
)

type config struct {
	Target  string        `env:"TARGET_URL, required"`
	Timeout time.Duration `env:"PROBE_TIMEOUT, default=20s"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	env := envconfig.MustProcess(ctx, &config{})

	go httpmetrics.ServeMetrics()
	defer httpmetrics.SetupTracer(ctx)()

	client := &http.Client{
		Transport: httpmetrics.WrapTransport(http.DefaultTransport, httpmetrics.WithSkipBucketize(true)),
		Timeout:   env.Timeout,
	}
	prober.Go(ctx, prober.Func(func(ctx context.Context) error {
		return probe(ctx, client, env.Target)
	}))
}

// probe checks that the service is up and can see a backend to draw from.
func probe(ctx context.Context, client *http.Client, target string) error {
	base := strings.TrimRight(target, "/")

	var health struct {
		Status string `json:"status"`
		Jobs   int    `json:"jobs"`
	}
	if err := get(ctx, client, base+"/healthz", &health); err != nil {
		return err
	}
	if health.Status != "ok" {
		return fmt.Errorf("healthz reported %q", health.Status)
	}

	var status struct {
		Backend     string `json:"backend"`
		PendingJobs int    `json:"pendingJobs"`
	}
	if err := get(ctx, client, base+"/status", &status); err != nil {
		return err
	}
	clog.FromContext(ctx).Info("probe succeeded", "backend", status.Backend, "pending_jobs", status.PendingJobs, "jobs", health.Jobs)
	return nil
}

func get(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: decoding: %w", url, err)
	}
	return nil
}
