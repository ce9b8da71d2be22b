package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/document-verifier/internal/bootstrap"
	"github.com/kirillkom/document-verifier/internal/config"
	"github.com/kirillkom/document-verifier/internal/observability/logging"
	"github.com/kirillkom/document-verifier/internal/observability/metrics"
)

// handlerGrace covers history writes after the report wait gives up.
const handlerGrace = 30 * time.Second

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("docverify-worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:          logger,
		BreakerObserver: workerMetrics.ObserveBreakerState,
		History:         true,
		Events:          true,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	d := newDispatcher(ctx, cfg.WorkerWaitParallel, cfg.ReportWaitTimeout+handlerGrace, app.History.HandleAnalysisStarted, workerMetrics, logger)

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "parallel", cfg.WorkerWaitParallel, "metrics_port", cfg.WorkerMetricsPort)
	if err := app.Bus.SubscribeAnalysisStarted(ctx, d.Handle); err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}
	d.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("worker_stopped")
}
