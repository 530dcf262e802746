/*
Copyright 2024 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package profiler starts Cloud Profiler when ENABLE_PROFILER is set.
package profiler

import (
	"context"

	"cloud.google.com/go/profiler"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"google.golang.org/api/option"
)

type config struct {
	EnableProfiler bool   `env:"ENABLE_PROFILER, default=false"`
	Service        string `env:"K_SERVICE, default=drawd"`
	Version        string `env:"K_REVISION"`
}

// SetupProfiler starts the profiler agent if it is enabled.
func SetupProfiler(ctx context.Context) {
	cfg := envconfig.MustProcess(ctx, &config{})
	if err := start(ctx, cfg, profiler.Start); err != nil {
		clog.FatalContextf(ctx, "failed to start profiler: %v", err)
	}
}

func start(ctx context.Context, cfg *config, startFn func(profiler.Config, ...option.ClientOption) error) error {
	if !cfg.EnableProfiler {
		return nil
	}
	clog.FromContext(ctx).Info("starting profiler", "service", cfg.Service)
	return startFn(profiler.Config{Service: cfg.Service, ServiceVersion: cfg.Version})
}
