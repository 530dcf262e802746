/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package interpret asks an OpenAI-compatible chat completion endpoint to
// read a drawn spread. It never fails: problems are logged and the caller
// gets a fixed message instead.
package interpret

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pnckt1/quantum-coin/pkg/httpmetrics"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultTimeout   = 45 * time.Second
	DefaultCacheSize = 256

	// UnavailableMessage is returned when no API key is configured.
	UnavailableMessage = "Interpretation is unavailable: no reader has been configured."

	// FailedMessage is returned when the reader could not be reached or
	// gave no answer.
	FailedMessage = "The cards could not be read right now. Please try again later."
)

var (
	mCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interpret_cache_lookups_total",
			Help: "The number of interpretation cache lookups, by result.",
		},
		[]string{"result"},
	)
	mRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interpret_requests_total",
			Help: "The number of completion requests sent, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Config describes the completion endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	CacheSize   int
	Temperature float64
}

// Interpreter turns a question and a spread into prose.
type Interpreter struct {
	cfg   Config
	http  *http.Client
	cache *lru.Cache
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithHTTPClient replaces the client used for completion calls.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Interpreter) { i.http = c }
}

// New returns an Interpreter for cfg.
func New(cfg Config, opts ...Option) (*Interpreter, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating interpretation cache: %w", err)
	}
	i := &Interpreter{
		cfg:   cfg,
		cache: cache,
		http: &http.Client{
			Transport: httpmetrics.WrapTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// Interpret reads cards, in draw order, against question.
func (i *Interpreter) Interpret(ctx context.Context, question string, cards []string) string {
	if i.cfg.APIKey == "" {
		return UnavailableMessage
	}

	key := cacheKey(question, cards)
	if v, ok := i.cache.Get(key); ok {
		mCache.WithLabelValues("hit").Inc()
		return v.(string)
	}
	mCache.WithLabelValues("miss").Inc()

	answer, err := i.complete(ctx, question, cards)
	mRequests.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		clog.FromContext(ctx).Warn("interpretation failed", "error", err)
		return FailedMessage
	}
	i.cache.Add(key, answer)
	return answer
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func cacheKey(question string, cards []string) string {
	return strings.TrimSpace(question) + "\x00" + strings.Join(cards, "\x1f")
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

func (i *Interpreter) complete(ctx context.Context, question string, cards []string) (string, error) {
	reqID := uuid.NewString()
	log := clog.FromContext(ctx).With("req_id", reqID, "model", i.cfg.Model)
	start := time.Now()

	system, user := BuildPrompt(question, cards)
	b, err := json.Marshal(completionRequest{
		Model:       i.cfg.Model,
		Temperature: i.cfg.Temperature,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimRight(i.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+i.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)

	resp, err := i.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	log.Debug("completion response", "status", resp.StatusCode, "bytes", len(raw), "elapsed", time.Since(start))
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("completion status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var cc struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty completion")
	}
	return content, nil
}

// BuildPrompt returns the system and user messages for a reading. Three
// cards are read as past, present and future.
func BuildPrompt(question string, cards []string) (system, user string) {
	system = "You are a thoughtful tarot reader. Give a warm, concise reading " +
		"of the spread in at most three short paragraphs. Do not make medical, " +
		"legal or financial predictions."

	var b strings.Builder
	q := strings.TrimSpace(question)
	if q == "" {
		b.WriteString("This is a general reading with no specific question.\n")
	} else {
		fmt.Fprintf(&b, "Question: %s\n", q)
	}
	b.WriteString("Cards drawn:\n")
	positions := []string{"Past", "Present", "Future"}
	for n, c := range cards {
		if len(cards) == len(positions) {
			fmt.Fprintf(&b, "- %s: %s\n", positions[n], c)
		} else {
			fmt.Fprintf(&b, "- %d. %s\n", n+1, c)
		}
	}
	return system, b.String()
}
