package httpadapter

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/routers"

	"github.com/kirillkom/document-verifier/internal/config"
	"github.com/kirillkom/document-verifier/internal/core/ports"
	"github.com/kirillkom/document-verifier/internal/observability/metrics"
)

const (
	eventsPath        = "/v1/uploads/current/events"
	backpressureWait  = 250 * time.Millisecond
	multipartOverhead = 1 << 20
)

type Deps struct {
	Sessions  *SessionRegistry
	Reports   ports.ReportReader
	History   ports.HistoryReader
	Storage   ports.ObjectStorage
	Inspector ports.FileInspector
	Metrics   *metrics.HTTPServerMetrics
	Logger    *slog.Logger
}

type Router struct {
	sessions  *SessionRegistry
	reports   ports.ReportReader
	history   ports.HistoryReader
	storage   ports.ObjectStorage
	inspector ports.FileInspector
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
	openapi   routers.Router

	maxUploadBytes int64
	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int
}

func NewRouter(cfg config.Config, deps Deps) (*Router, error) {
	openapiRouter, err := loadOpenAPIRouter()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxUpload := cfg.UploadMaxBytes
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	return &Router{
		sessions:       deps.Sessions,
		reports:        deps.Reports,
		history:        deps.History,
		storage:        deps.Storage,
		inspector:      deps.Inspector,
		metrics:        deps.Metrics,
		logger:         logger,
		openapi:        openapiRouter,
		maxUploadBytes: maxUpload,
		rateLimitRPS:   cfg.APIRateLimitRPS,
		rateLimitBurst: cfg.APIRateLimitBurst,
		maxInFlight:    cfg.APIMaxInFlight,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/uploads", rt.createUpload)
	mux.HandleFunc("GET /v1/uploads/current", rt.getCurrentUpload)
	mux.HandleFunc("DELETE /v1/uploads/current", rt.removeCurrentUpload)
	mux.HandleFunc("POST /v1/uploads/current/reset", rt.resetCurrentUpload)
	mux.HandleFunc("GET "+eventsPath, rt.streamUploadEvents)
	mux.HandleFunc("GET /v1/analyses", rt.listAnalyses)
	mux.HandleFunc("GET /v1/analyses/{analysis_id}", rt.getAnalysisReport)
	mux.HandleFunc("GET /v1/analyses/{analysis_id}/export", rt.exportAnalysisReport)

	// Event streams stay open for minutes and must not hold in-flight slots.
	limited := backpressureMiddleware(mux, rt.maxInFlight, backpressureWait)
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == eventsPath {
			mux.ServeHTTP(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	})

	handler = openAPIValidationMiddleware(rt.openapi, rt.logger, handler)
	handler = sessionMiddleware(handler)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) recordReport(outcome string) {
	if rt.metrics != nil {
		rt.metrics.RecordReport(outcome)
	}
}
