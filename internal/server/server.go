/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package server exposes the draw lifecycle over JSON/HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chainguard-dev/clog"

	"github.com/pnckt1/quantum-coin/pkg/backend"
	"github.com/pnckt1/quantum-coin/pkg/catalog"
	"github.com/pnckt1/quantum-coin/pkg/httpmetrics"
	"github.com/pnckt1/quantum-coin/pkg/jobs"
)

const maxBody = 64 << 10

// Interpreter reads a spread. It never fails.
type Interpreter interface {
	Interpret(ctx context.Context, question string, cards []string) string
}

type Server struct {
	submitter *jobs.Submitter
	poller    *jobs.Poller
	selector  *backend.Selector
	registry  *jobs.Registry
	interp    Interpreter
	resolver  *catalog.Resolver

	allowOrigin string
	handler     http.Handler
}

type ServerOptions struct {
	// AllowOrigin is sent as Access-Control-Allow-Origin. Empty disables
	// CORS headers.
	AllowOrigin string

	// StaticDir, if set, is served at /.
	StaticDir string

	Interpreter Interpreter
}

func NewServer(submitter *jobs.Submitter, poller *jobs.Poller, selector *backend.Selector, registry *jobs.Registry, opts ServerOptions) *Server {
	s := &Server{
		submitter:   submitter,
		poller:      poller,
		selector:    selector,
		registry:    registry,
		interp:      opts.Interpreter,
		resolver:    catalog.NewResolver(),
		allowOrigin: opts.AllowOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /draw", httpmetrics.HandlerFunc("draw", s.draw))
	mux.HandleFunc("GET /result/{jobId}", httpmetrics.HandlerFunc("result", s.result))
	mux.HandleFunc("GET /status", httpmetrics.HandlerFunc("status", s.status))
	mux.HandleFunc("POST /interpret", httpmetrics.HandlerFunc("interpret", s.interpret))
	mux.HandleFunc("GET /healthz", httpmetrics.HandlerFunc("healthz", s.healthz))
	if opts.StaticDir != "" {
		mux.Handle("GET /", httpmetrics.Handler("static", http.FileServer(http.Dir(opts.StaticDir))))
	}
	s.handler = s.cors(mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.allowOrigin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", s.allowOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type drawRequest struct {
	Question string `json:"question"`
}

type drawResponse struct {
	JobID string `json:"jobId"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (s *Server) draw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := clog.FromContext(ctx)

	var req drawRequest
	if err := decode(r, &req); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Status: jobs.StatusError, Detail: err.Error()})
		return
	}

	rec, err := s.submitter.Submit(ctx, req.Question)
	switch {
	case err == nil:
		writeJSON(ctx, w, http.StatusOK, drawResponse{JobID: rec.ID})
	case errors.Is(err, jobs.ErrServiceUnavailable):
		log.Warnf("no backend for draw: %v", err)
		writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Status: jobs.StatusError, Detail: err.Error()})
	case errors.Is(err, jobs.ErrSubmission):
		log.Errorf("draw submission failed: %v", err)
		writeJSON(ctx, w, http.StatusBadGateway, errorResponse{Status: jobs.StatusError, Detail: err.Error()})
	default:
		log.Errorf("draw failed: %v", err)
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Status: jobs.StatusError, Detail: err.Error()})
	}
}

func (s *Server) result(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	out, err := s.poller.Poll(ctx, r.PathValue("jobId"))
	switch {
	case err == nil:
		writeJSON(ctx, w, http.StatusOK, out)
	case errors.Is(err, jobs.ErrUnknownJob):
		writeJSON(ctx, w, http.StatusNotFound, errorResponse{Status: jobs.StatusError, Message: "Invalid job_id"})
	case errors.Is(err, jobs.ErrPoll):
		writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Status: jobs.StatusError, Detail: err.Error(), Retryable: true})
	case errors.Is(err, jobs.ErrData):
		writeJSON(ctx, w, http.StatusBadGateway, errorResponse{Status: jobs.StatusError, Detail: err.Error()})
	default:
		clog.FromContext(ctx).Errorf("poll failed: %v", err)
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Status: jobs.StatusError, Detail: err.Error()})
	}
}

type statusResponse struct {
	Backend     string `json:"backend"`
	PendingJobs int    `json:"pendingJobs"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := s.selector.Current(ctx)
	if err != nil {
		clog.FromContext(ctx).Warnf("backend status unavailable: %v", err)
		writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Status: jobs.StatusError, Detail: err.Error()})
		return
	}
	writeJSON(ctx, w, http.StatusOK, statusResponse{Backend: b.Name, PendingJobs: b.PendingJobs})
}

type interpretRequest struct {
	Question string   `json:"question"`
	Cards    []string `json:"cards"`
}

type interpretResponse struct {
	Interpretation string `json:"interpretation"`
}

func (s *Server) interpret(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req interpretRequest
	if err := decode(r, &req); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Status: jobs.StatusError, Detail: err.Error()})
		return
	}
	if len(req.Cards) == 0 {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Status: jobs.StatusError, Detail: "no cards to interpret"})
		return
	}
	for _, c := range req.Cards {
		if _, err := s.resolver.AssetID(c); err != nil {
			writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Status: jobs.StatusError, Detail: err.Error()})
			return
		}
	}
	writeJSON(ctx, w, http.StatusOK, interpretResponse{Interpretation: s.interp.Interpret(ctx, req.Question, req.Cards)})
}

type healthResponse struct {
	Status string `json:"status"`
	Jobs   int    `json:"jobs"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok", Jobs: s.registry.Len()})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if len(body) > maxBody {
		return fmt.Errorf("body exceeds %d bytes", maxBody)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("malformed request: %w", err)
	}
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		clog.FromContext(ctx).Warnf("failed to write response: %v", err)
	}
}
