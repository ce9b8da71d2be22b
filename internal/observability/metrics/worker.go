package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
)

// WorkerMetrics covers the history worker that completes analysis records.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	completeTotal    *prometheus.CounterVec
	completeDuration *prometheus.HistogramVec
	completeInFlight prometheus.Gauge
	eventLag         *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	completeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "analysis_complete_total",
			Help:      "Total handled analysis events by status.",
		},
		[]string{"service", "status"},
	)
	completeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "analysis_complete_duration_seconds",
			Help:      "Time from event receipt to a stored history outcome.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "status"},
	)
	completeInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "analysis_complete_in_flight",
			Help:      "Number of analysis events being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "event_lag_seconds",
			Help:      "Delay between analysis start and event handling.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
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

	registry.MustRegister(completeTotal, completeDuration, completeInFlight, eventLag, breakerState)

	return &WorkerMetrics{
		registry:         registry,
		service:          service,
		completeTotal:    completeTotal,
		completeDuration: completeDuration,
		completeInFlight: completeInFlight,
		eventLag:         eventLag,
		breakerState:     breakerState,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartAnalysis() {
	m.completeInFlight.Inc()
}

func (m *WorkerMetrics) FinishAnalysis(duration time.Duration, err error) {
	m.completeInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.completeTotal.WithLabelValues(m.service, status).Inc()
	m.completeDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveEventLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveBreakerState(operation string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(m.service, operation).Set(breakerStateValue(to))
}
