/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draw_jobs_submitted_total",
			Help: "The number of entropy jobs submitted, by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)
	mTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draw_job_transitions_total",
			Help: "The number of lifecycle transitions applied to jobs.",
		},
		[]string{"from", "to"},
	)
	mRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "draw_job_records",
			Help: "The number of job records held in memory, by state.",
		},
		[]string{"state"},
	)
	mSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draw_job_records_swept_total",
			Help: "The number of job records removed by the sweeper.",
		},
		[]string{"reason"},
	)
	mBackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draw_backend_call_duration_seconds",
			Help:    "The latency of calls to the compute backend, including retries.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op", "outcome"},
	)
	mPollFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "draw_poll_failures_total",
			Help: "The number of polls that could not reach the backend after retries.",
		},
	)
	mUnknownStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draw_unknown_backend_status_total",
			Help: "The number of status tokens from the backend with no known mapping.",
		},
		[]string{"token"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
