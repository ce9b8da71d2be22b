package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/document-verifier/internal/adapters/http"
	"github.com/kirillkom/document-verifier/internal/bootstrap"
	"github.com/kirillkom/document-verifier/internal/config"
	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/core/ports"
	"github.com/kirillkom/document-verifier/internal/observability/logging"
	"github.com/kirillkom/document-verifier/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("docverify-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:          logger,
		BreakerObserver: httpMetrics.ObserveBreakerState,
		History:         true,
		Events:          true,
		Spool:           true,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	sessions := httpadapter.NewSessionRegistry(func(session domain.Session, emitter ports.ProgressEmitter) ports.UploadRunner {
		return app.Orchestrator(session, emitter, httpMetrics)
	})

	router, err := httpadapter.NewRouter(cfg, httpadapter.Deps{
		Sessions:  sessions,
		Reports:   app.Reports,
		History:   app.History,
		Storage:   app.Storage,
		Inspector: app.Inspector,
		Metrics:   httpMetrics,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("api_listen_failed", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	server := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,

		// Request contexts end on SIGTERM so open event streams let Shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Warn("upload_runs_shutdown_failed", "error", err)
	}
	logger.Info("api_stopped")
}
