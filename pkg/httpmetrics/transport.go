package httpmetrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const (
	CeTypeHeader          string = "ce-type"
	GoogClientTraceHeader string = "googclient_traceparent"
	OriginalTraceHeader   string = "original-traceparent"
)

var (
	mReqCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_request_count",
			Help: "The total number of HTTP requests",
		},
		[]string{"code", "method", "host", "service_name", "revision_name", "ce_type", "path"},
	)
	mReqInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_client_request_in_flight",
			Help: "The number of outgoing HTTP requests currently inflight",
		},
		[]string{"method", "host", "service_name", "revision_name", "ce_type", "path"},
	)
	mReqDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_client_request_duration_seconds",
			Help:    "The duration of HTTP requests",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
		[]string{"code", "method", "host", "service_name", "revision_name", "ce_type", "path"},
	)
	seenHostMap = sync.Map{}
)

var buckets = map[string]string{}
var bucketSuffixes = map[string]string{}

func SetBuckets(b map[string]string)         { buckets = b }
func SetBucketSuffixes(bs map[string]string) { bucketSuffixes = bs }

// Transport is an http.RoundTripper that records metrics for each request.
var Transport = WrapTransport(http.DefaultTransport)

type MetricsTransport struct {
	http.RoundTripper

	inner http.RoundTripper
}

type transportOptions struct {
	skipBucketize bool
}

// TransportOption configures WrapTransport.
type TransportOption func(*transportOptions)

// WithSkipBucketize records every host as "unbucketized" instead of
// resolving it against SetBuckets.
func WithSkipBucketize(skip bool) TransportOption {
	return func(o *transportOptions) { o.skipBucketize = skip }
}

// WrapTransport wraps an http.RoundTripper with instrumentation.
func WrapTransport(t http.RoundTripper, opts ...TransportOption) http.RoundTripper {
	o := &transportOptions{}
	for _, opt := range opts {
		opt(o)
	}
	host := func(ctx context.Context, h string) string {
		if o.skipBucketize {
			return "unbucketized"
		}
		return bucketize(ctx, h)
	}
	return &MetricsTransport{
		RoundTripper: useGoogClientTraceparent(
			instrumentRoundTripperCounter(host,
				instrumentRoundTripperInFlight(host,
					instrumentRoundTripperDuration(host,
						otelhttp.NewTransport(
							newPreserveTraceparentTransport(t)))))),
		inner: t,
	}
}

func ExtractInnerTransport(rt http.RoundTripper) http.RoundTripper {
	if mt, ok := rt.(*MetricsTransport); ok {
		return mt.inner
	}
	return rt
}

func mapErrorToLabel(err error) string {
	if strings.Contains(err.Error(), "no route to host") {
		return "no-route-to_host"
	}
	if strings.Contains(err.Error(), "i/o timeout") {
		return "io-timeout"
	}
	if strings.Contains(err.Error(), "TLS handshake timeout") {
		return "tls-handshake-timeout"
	}
	if strings.Contains(err.Error(), "TLS handshake error") {
		return "tls-handshake-error"
	}
	if strings.Contains(err.Error(), "unexpected EOF") {
		return "unexpected-eof"
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return "deadline-exceeded"
	}
	return "unknown-error"
}

type hostFunc func(context.Context, string) string

// These instrument methods based on promhttp, with bucketized host and Knative labels added:
// https://pkg.go.dev/github.com/prometheus/client_golang/prometheus/promhttp

func useGoogClientTraceparent(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		restoreTraceparentHeader(r)
		return next.RoundTrip(r)
	}
}

func instrumentRoundTripperCounter(hf hostFunc, next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		tracer := otel.Tracer("httpmetrics")
		host := hf(r.Context(), r.URL.Host)
		ctx, span := tracer.Start(r.Context(), fmt.Sprintf("http-%s-%s", r.Method, host))
		// Ensure that outgoing requests are nested under this span.
		r = r.WithContext(ctx)
		defer span.End()

		labels := prometheus.Labels{
			"method":        r.Method,
			"host":          host,
			"service_name":  env.Service,
			"revision_name": env.Revision,
			"ce_type":       r.Header.Get(CeTypeHeader),
			"path":          bucketizePath(r.URL.Path),
		}
		resp, err := next.RoundTrip(r)
		if err == nil {
			labels["code"] = fmt.Sprintf("%d", resp.StatusCode)
		} else {
			labels["code"] = mapErrorToLabel(err)
		}
		mReqCount.With(labels).Inc()
		return resp, err
	}
}

func instrumentRoundTripperInFlight(hf hostFunc, next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		g := mReqInFlight.With(prometheus.Labels{
			"method":        r.Method,
			"host":          hf(r.Context(), r.URL.Host),
			"service_name":  env.Service,
			"revision_name": env.Revision,
			"ce_type":       r.Header.Get(CeTypeHeader),
			"path":          bucketizePath(r.URL.Path),
		})
		g.Inc()
		defer g.Dec()
		return next.RoundTrip(r)
	}
}

func instrumentRoundTripperDuration(hf hostFunc, next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		if err == nil {
			mReqDuration.With(prometheus.Labels{
				"code":          fmt.Sprintf("%d", resp.StatusCode),
				"method":        r.Method,
				"host":          hf(r.Context(), r.URL.Host),
				"service_name":  env.Service,
				"revision_name": env.Revision,
				"ce_type":       r.Header.Get(CeTypeHeader),
				"path":          bucketizePath(r.URL.Path),
			}).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

func bucketize(ctx context.Context, host string) string {
	// Check the exact matches first.
	if b, ok := buckets[host]; ok {
		return b
	}
	// Then check the suffixes.
	for k, v := range bucketSuffixes {
		if strings.HasSuffix(host, "."+k) {
			return v
		}
	}

	v, _ := seenHostMap.LoadOrStore(host, &atomic.Int64{})
	vInt := v.(*atomic.Int64)

	if seen := vInt.Add(1); (seen-1)%10 == 0 {
		clog.WarnContext(ctx, `bucketing host as "other", use httpmetrics.SetBucket{Suffixe}s`, "host", host, "seen", seen)
	}
	return "other"
}
