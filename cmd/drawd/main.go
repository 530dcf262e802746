/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/pnckt1/quantum-coin/internal/server"
	"github.com/pnckt1/quantum-coin/pkg/backend"
	"github.com/pnckt1/quantum-coin/pkg/backend/fake"
	"github.com/pnckt1/quantum-coin/pkg/backend/runtime"
	"github.com/pnckt1/quantum-coin/pkg/httpmetrics"
	mce "github.com/pnckt1/quantum-coin/pkg/httpmetrics/cloudevents"
	"github.com/pnckt1/quantum-coin/pkg/interpret"
	"github.com/pnckt1/quantum-coin/pkg/jobs"
	"github.com/pnckt1/quantum-coin/pkg/profiler"
)

var env = envconfig.MustProcess(context.Background(), &struct {
	Port            int    `env:"PORT, default=8080"`
	StaticDir       string `env:"STATIC_DIR"`
	CORSAllowOrigin string `env:"CORS_ALLOW_ORIGIN, default=*"`

	BackendMode       string        `env:"BACKEND_MODE, default=runtime"`
	BackendURL        string        `env:"BACKEND_URL, default=https://quantum.cloud.ibm.com/api/v1"`
	BackendInstance   string        `env:"BACKEND_INSTANCE"`
	BackendAPIKey     string        `env:"BACKEND_API_KEY"`
	BackendIAMURL     string        `env:"BACKEND_IAM_URL, default=https://iam.cloud.ibm.com/identity/token"`
	BackendAPIVersion string        `env:"BACKEND_API_VERSION, default=2025-05-01"`
	BackendTimeout    time.Duration `env:"BACKEND_TIMEOUT, default=30s"`
	BackendRPS        float64       `env:"BACKEND_RPS, default=5"`
	BackendSelection  string        `env:"BACKEND_SELECTION, default=cached"`
	// If set, only these backends are ever chosen.
	BackendAllow []string `env:"BACKEND_ALLOW"`

	EntropyWidth int `env:"ENTROPY_WIDTH, default=32"`
	DrawCount    int `env:"DRAW_COUNT, default=3"`

	JobTTL        time.Duration `env:"JOB_TTL, default=1h"`
	JobMaxAge     time.Duration `env:"JOB_MAX_AGE, default=24h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL, default=1m"`

	PollAttempts    uint          `env:"POLL_ATTEMPTS, default=3"`
	PollRetryDelay  time.Duration `env:"POLL_RETRY_DELAY, default=200ms"`
	MaxPollFailures int           `env:"MAX_POLL_FAILURES, default=20"`

	OpenAIAPIKey       string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string        `env:"OPENAI_BASE_URL, default=https://api.openai.com/v1"`
	OpenAIModel        string        `env:"OPENAI_MODEL, default=gpt-4o-mini"`
	OpenAITimeout      time.Duration `env:"OPENAI_TIMEOUT, default=45s"`
	InterpretCacheSize int           `env:"INTERPRET_CACHE_SIZE, default=256"`

	EventsTarget string `env:"EVENTS_TARGET"`
}{})

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log := clog.FromContext(ctx)

	httpmetrics.SetBuckets(hostBuckets(map[string]string{
		env.BackendURL:    "backend",
		env.BackendIAMURL: "iam",
		env.OpenAIBaseURL: "openai",
		env.EventsTarget:  "events",
	}))
	go httpmetrics.ServeMetrics()
	defer httpmetrics.SetupTracer(ctx)()
	profiler.SetupProfiler(ctx)

	client, err := newBackendClient(ctx)
	if err != nil {
		clog.FatalContextf(ctx, "failed to create backend client: %v", err)
	}

	policy, err := backend.ParsePolicy(env.BackendSelection)
	if err != nil {
		clog.FatalContextf(ctx, "invalid BACKEND_SELECTION: %v", err)
	}
	selector := backend.NewSelector(client, policy, backend.WithAllowList(env.BackendAllow...))

	var events *jobs.Events
	if env.EventsTarget != "" {
		ceclient, err := mce.NewClient(env.EventsTarget)
		if err != nil {
			clog.FatalContextf(ctx, "invalid EVENTS_TARGET: %v", err)
		}
		events = jobs.NewEvents(ceclient, "drawd")
		defer events.Wait()
	}

	registry := jobs.NewRegistry(jobs.WithTTL(env.JobTTL), jobs.WithMaxAge(env.JobMaxAge))
	submitter, err := jobs.NewSubmitter(client, selector, registry, jobs.SubmitterOptions{
		Width:   env.EntropyWidth,
		Timeout: env.BackendTimeout,
		Events:  events,
	})
	if err != nil {
		clog.FatalContextf(ctx, "invalid ENTROPY_WIDTH: %v", err)
	}
	poller := jobs.NewPoller(client, registry, jobs.PollerOptions{
		DrawCount:   env.DrawCount,
		Attempts:    env.PollAttempts,
		RetryDelay:  env.PollRetryDelay,
		Timeout:     env.BackendTimeout,
		MaxFailures: env.MaxPollFailures,
		Events:      events,
	})

	interp, err := interpret.New(interpret.Config{
		APIKey:    env.OpenAIAPIKey,
		BaseURL:   env.OpenAIBaseURL,
		Model:     env.OpenAIModel,
		Timeout:   env.OpenAITimeout,
		CacheSize: env.InterpretCacheSize,
	})
	if err != nil {
		clog.FatalContextf(ctx, "failed to create interpreter: %v", err)
	}
	if env.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY is not set, interpretations are disabled")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", env.Port),
		ReadHeaderTimeout: 10 * time.Second,
		Handler: server.NewServer(submitter, poller, selector, registry, server.ServerOptions{
			AllowOrigin: env.CORSAllowOrigin,
			StaticDir:   env.StaticDir,
			Interpreter: interp,
		}),
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return registry.Run(ctx, env.SweepInterval)
	})
	eg.Go(func() error {
		log.Infof("listening on %s (backend mode %s, selection %s)", srv.Addr, env.BackendMode, policy)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		clog.FatalContextf(ctx, "drawd exited: %v", err)
	}
}

// hostBuckets maps the host of each configured URL to its metrics bucket.
func hostBuckets(urls map[string]string) map[string]string {
	out := make(map[string]string, len(urls))
	for raw, bucket := range urls {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			out[u.Host] = bucket
		}
	}
	return out
}

func newBackendClient(ctx context.Context) (backend.Client, error) {
	switch env.BackendMode {
	case "fake":
		clog.FromContext(ctx).Warn("using the in-process fake backend")
		return fake.New(), nil
	case "runtime":
		return runtime.New(ctx, runtime.Config{
			BaseURL:    env.BackendURL,
			Instance:   env.BackendInstance,
			APIKey:     env.BackendAPIKey,
			IAMURL:     env.BackendIAMURL,
			APIVersion: env.BackendAPIVersion,
			RPS:        env.BackendRPS,
		})
	default:
		return nil, fmt.Errorf("unknown BACKEND_MODE %q", env.BackendMode)
	}
}
