package httpmetrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// ServeMetrics exposes the Prometheus registry on METRICS_PORT, apart from
// the draw API's own listener so scrapes never queue behind draws. pprof
// is mounted alongside when ENABLE_PPROF is set. It blocks; drawd and
// drawprobe run it on its own goroutine.
func ServeMetrics() {
	var cfg struct {
		MetricsPort int  `env:"METRICS_PORT, default=2112"`
		EnablePprof bool `env:"ENABLE_PPROF, default=false"`
	}
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		slog.Error("metrics server config", "error", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if cfg.EnablePprof {
		registerPprof(mux)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server stopped", "port", cfg.MetricsPort, "error", err)
	}
}

var (
	inFlightGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests currently being served, per API route.",
		},
		[]string{"handler", "service_name", "revision_name"},
	)
	duration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time to answer a request, per API route. /result polls the backend inline, so its tail follows backend latency.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"handler", "method", "service_name", "revision_name"},
	)
	responseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of response bodies, per API route.",
			Buckets: []float64{50, 200, 500, 900, 1500, 4096},
		},
		[]string{"handler", "method", "service_name", "revision_name"},
	)
	counter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_status",
			Help: "The number of answered requests by route and response code.",
		},
		[]string{"handler", "method", "code", "service_name", "revision_name", "ce_type"},
	)
)

// env names the running deployment on every series and span. Cloud Run sets
// both variables; elsewhere they read "unknown".
var env struct {
	Service  string `env:"K_SERVICE, default=unknown"`
	Revision string `env:"K_REVISION, default=unknown"`
}

func init() {
	if err := envconfig.Process(context.Background(), &env); err != nil {
		slog.Warn("reading deployment labels", "error", err)
	}
}

// Handler instruments one route of the draw API. name becomes the handler
// label and the span name, so keep it stable across releases.
func Handler(name string, handler http.Handler) http.Handler {
	labels := prometheus.Labels{
		"handler":       name,
		"service_name":  env.Service,
		"revision_name": env.Revision,
	}
	return promhttp.InstrumentHandlerInFlight(
		inFlightGauge.With(labels),
		promhttp.InstrumentHandlerDuration(
			duration.MustCurryWith(labels),
			instrumentHandlerCounter(
				counter.MustCurryWith(labels),
				promhttp.InstrumentHandlerResponseSize(
					responseSize.MustCurryWith(labels),
					preserveTraceparentHandler(otelhttp.NewHandler(handler, name)),
				),
			),
		),
	)
}

// HandlerFunc is Handler for a plain function, the shape the server's
// routes are written in.
func HandlerFunc(name string, f func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return Handler(name, http.HandlerFunc(f)).ServeHTTP
}

// SetupTracer exports spans over OTLP/HTTP, configured by the usual
// OTEL_EXPORTER_OTLP_* variables, tagged with the K_SERVICE name. Spans
// from the API routes and from the backend, interpretation and event
// transports all join the same trace. The returned func flushes.
//
//	defer httpmetrics.SetupTracer(ctx)()
func SetupTracer(ctx context.Context) func() {
	traceExporter, err := otlptracehttp.New(ctx)
	if err != nil {
		clog.FromContext(ctx).Fatalf("creating span exporter: %v", err)
	}
	bsp := trace.NewBatchSpanProcessor(traceExporter)
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", env.Service)))
	if err != nil {
		// Only a schema conflict fails the merge; the defaults still serve.
		res = resource.Default()
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(tp)

	prp := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prp)

	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("flushing spans", "error", err)
		}
	}
}

// statusRecorder remembers the code a route answered with. Routes that
// never call WriteHeader answered 200.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func instrumentHandlerCounter(counter *prometheus.CounterVec, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		counter.With(prometheus.Labels{
			"method":  r.Method,
			"code":    strconv.Itoa(rec.code),
			"ce_type": r.Header.Get(CeTypeHeader),
		}).Inc()
	}
}
