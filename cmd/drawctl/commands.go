/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/pnckt1/quantum-coin/pkg/httpmetrics"
	"github.com/pnckt1/quantum-coin/pkg/jobs"
)

var errUnknownJob = errors.New("unknown job id")

// app carries what every subcommand needs.
type app struct {
	server string
	out    io.Writer
	client *http.Client
}

func rootCmd(out io.Writer) *cobra.Command {
	a := &app{
		out: out,
		client: &http.Client{
			Transport: httpmetrics.WrapTransport(http.DefaultTransport, httpmetrics.WithSkipBucketize(true)),
			Timeout:   time.Minute,
		},
	}
	cmd := &cobra.Command{
		Use:           "drawctl",
		Short:         "Draw cards from the quantum draw service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&a.server, "server", "http://localhost:8080", "base URL of the draw service")

	cmd.AddCommand(
		drawCmd(a),
		resultCmd(a),
		statusCmd(a),
	)
	return cmd
}

func drawCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "draw [question]",
		Short: "Submit a draw and print its job id",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"question": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			var resp struct {
				JobID string `json:"jobId"`
			}
			if err := a.do(cmd.Context(), http.MethodPost, "/draw", body, &resp); err != nil {
				return err
			}
			fmt.Fprintln(a.out, resp.JobID)
			return nil
		},
	}
}

func resultCmd(a *app) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Show where a draw stands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := "/result/" + url.PathEscape(args[0])
			for {
				var out jobs.Outcome
				if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
					return err
				}
				if out.Status != jobs.StatusRunning || !wait {
					return a.printOutcome(out)
				}
				clog.FromContext(ctx).Debug("job still running", "job_id", args[0], "backend", out.Backend)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the draw is done or has failed")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "time between polls with --wait")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the backend draws are sent to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Backend     string `json:"backend"`
				PendingJobs int    `json:"pendingJobs"`
			}
			if err := a.do(cmd.Context(), http.MethodGet, "/status", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "backend %s, %d pending jobs\n", resp.Backend, resp.PendingJobs)
			return nil
		},
	}
}

func (a *app) printOutcome(out jobs.Outcome) error {
	switch out.Status {
	case jobs.StatusDone:
		fmt.Fprintf(a.out, "done on %s\n", out.Backend)
		for i, c := range out.Cards {
			fmt.Fprintf(a.out, "%d. %s (%s)\n", i+1, c.Name, c.Image)
		}
	case jobs.StatusError:
		fmt.Fprintf(a.out, "failed: %s\n", out.Detail)
	default:
		fmt.Fprintf(a.out, "%s on %s\n", out.Status, out.Backend)
	}
	return nil
}

type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func (a *app) do(ctx context.Context, method, path string, body []byte, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.server, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/result/") {
		return errUnknownJob
	}
	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && (eb.Detail != "" || eb.Message != "") {
			return fmt.Errorf("%s %s: %d: %s%s", method, path, resp.StatusCode, eb.Detail, eb.Message)
		}
		return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
