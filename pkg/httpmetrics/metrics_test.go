package httpmetrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServerMetrics(t *testing.T) {
	handler := "test"
	srv := httptest.NewServer(Handler(handler, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want Accepted, got %s", resp.Status)
	}

	// Sample a metric to make sure labels are being properly applied.
	if got := testutil.ToFloat64(counter.With(prometheus.Labels{
		"handler":       handler,
		"method":        http.MethodGet,
		"code":          "202",
		"service_name":  "unknown",
		"revision_name": "unknown",
		"ce_type":       "",
	})); got != 1 {
		t.Errorf("want metric count = 1, got %f", got)
	}
}

func TestPreserveTraceparent(t *testing.T) {
	const tp = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	var got string
	srv := httptest.NewServer(Handler("trace", http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(OriginalTraceHeader)
	})))
	defer srv.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("traceparent", tp)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got != tp {
		t.Errorf("%s = %q, want %q", OriginalTraceHeader, got, tp)
	}
}

func TestBucketize(t *testing.T) {
	SetBuckets(map[string]string{
		"quantum.cloud.ibm.com": "Quantum API",
		"iam.cloud.ibm.com":     "IAM",
		"api.openai.com":        "OpenAI",
	})
	SetBucketSuffixes(map[string]string{
		"googleapis.com": "Google API",
		"cloud.ibm.com":  "IBM Cloud",
	})
	defer func() {
		SetBuckets(map[string]string{})
		SetBucketSuffixes(map[string]string{})
	}()

	for _, c := range []struct{ host, bucket string }{
		{"quantum.cloud.ibm.com", "Quantum API"},
		{"iam.cloud.ibm.com", "IAM"},
		{"us-east.quantum-computing.cloud.ibm.com", "IBM Cloud"},
		{"api.openai.com", "OpenAI"},
		{"cloudprofiler.googleapis.com", "Google API"},
		{"googleapis.com", "other"}, // only as a suffix
		{"notcloud.ibm.com", "other"},
		{"example.com", "other"},
	} {
		if got := bucketize(context.Background(), c.host); got != c.bucket {
			t.Errorf("bucketize(%q) = %q, want %q", c.host, got, c.bucket)
		}
	}
}
