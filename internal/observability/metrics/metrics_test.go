package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

func TestHTTPServerMetricsJobLifecycle(t *testing.T) {
	m := NewHTTPServerMetrics("api")

	m.StartJob()
	if got := testutil.ToFloat64(m.jobsInFlight); got != 1 {
		t.Fatalf("expected 1 in-flight job, got %v", got)
	}
	m.ObservePoll("queued")
	m.ObservePoll("")
	m.FinishJob(domain.PhaseDone, 3*time.Second)

	if got := testutil.ToFloat64(m.jobsInFlight); got != 0 {
		t.Fatalf("expected 0 in-flight jobs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues("api", "done")); got != 1 {
		t.Fatalf("expected 1 done job, got %v", got)
	}
	if got := testutil.ToFloat64(m.pollsTotal.WithLabelValues("api", "unknown")); got != 1 {
		t.Fatalf("expected empty status to be labelled unknown, got %v", got)
	}
}

func TestHTTPServerMetricsBreakerState(t *testing.T) {
	m := NewHTTPServerMetrics("api")

	m.ObserveBreakerState("backend.status", gobreaker.StateClosed, gobreaker.StateOpen)
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("api", "backend.status")); got != 2 {
		t.Fatalf("expected open state 2, got %v", got)
	}
	m.ObserveBreakerState("backend.status", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("api", "backend.status")); got != 1 {
		t.Fatalf("expected half-open state 1, got %v", got)
	}
}

func TestMiddlewareNormalizesAnalysisPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	for _, path := range []string{"/v1/analyses/an-1", "/v1/analyses/an-2"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/analyses/an-1/export", nil))

	if got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/analyses/{analysis_id}", "202")); got != 2 {
		t.Fatalf("expected 2 normalized requests, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `path="/v1/analyses/{analysis_id}/export"`) {
		t.Fatalf("expected export path series in exposition")
	}
}

func TestWorkerMetricsFinishAnalysis(t *testing.T) {
	m := NewWorkerMetrics("worker")

	m.StartAnalysis()
	m.FinishAnalysis(time.Second, nil)
	m.StartAnalysis()
	m.FinishAnalysis(time.Second, errTest)
	m.ObserveEventLag(-time.Second)

	if got := testutil.ToFloat64(m.completeTotal.WithLabelValues("worker", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(m.completeInFlight); got != 0 {
		t.Fatalf("expected nothing in flight, got %v", got)
	}
	if got := testutil.CollectAndCount(m.eventLag); got != 0 {
		t.Fatalf("negative lag must be ignored, got %d series", got)
	}
}

var errTest = errors.New("report wait timed out")
