package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

const namespace = "docverify"

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	jobsInFlight   prometheus.Gauge
	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	pollsTotal     *prometheus.CounterVec
	reportsTotal   *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	sseSubscribers prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "upload",
			Name:        "jobs_in_flight",
			Help:        "Number of upload jobs between submit and a terminal phase.",
			ConstLabels: constLabels,
		},
	)
	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "jobs_total",
			Help:      "Total finished upload jobs by terminal phase.",
		},
		[]string{"service", "phase"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "job_duration_seconds",
			Help:      "Upload job duration from submit to terminal phase.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 120},
		},
		[]string{"service", "phase"},
	)
	pollsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "status_polls_total",
			Help:      "Total processing status polls by backend status.",
		},
		[]string{"service", "status"},
	)
	reportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "requests_total",
			Help:      "Total report reads by outcome.",
		},
		[]string{"service", "outcome"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)
	sseSubscribers := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "sse_subscribers",
			Help:        "Number of open progress event streams.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		jobsInFlight,
		jobsTotal,
		jobDuration,
		pollsTotal,
		reportsTotal,
		breakerState,
		sseSubscribers,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		service:         service,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		jobsInFlight:    jobsInFlight,
		jobsTotal:       jobsTotal,
		jobDuration:     jobDuration,
		pollsTotal:      pollsTotal,
		reportsTotal:    reportsTotal,
		breakerState:    breakerState,
		sseSubscribers:  sseSubscribers,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/v1/analyses/") {
		return path
	}
	if strings.HasSuffix(path, "/export") {
		return "/v1/analyses/{analysis_id}/export"
	}
	return "/v1/analyses/{analysis_id}"
}

func (m *HTTPServerMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *HTTPServerMetrics) FinishJob(phase domain.Phase, duration time.Duration) {
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(m.service, string(phase)).Inc()
	m.jobDuration.WithLabelValues(m.service, string(phase)).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) ObservePoll(status string) {
	if status == "" {
		status = "unknown"
	}
	m.pollsTotal.WithLabelValues(m.service, status).Inc()
}

// RecordReport counts one report read; outcome is report, pending, degraded or error.
func (m *HTTPServerMetrics) RecordReport(outcome string) {
	m.reportsTotal.WithLabelValues(m.service, outcome).Inc()
}

// ObserveBreakerState matches resilience.StateObserver.
func (m *HTTPServerMetrics) ObserveBreakerState(operation string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(m.service, operation).Set(breakerStateValue(to))
}

func (m *HTTPServerMetrics) SSESubscribed() {
	m.sseSubscribers.Inc()
}

func (m *HTTPServerMetrics) SSEUnsubscribed() {
	m.sseSubscribers.Dec()
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
