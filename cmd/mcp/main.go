package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/document-verifier/internal/adapters/mcp"
	"github.com/kirillkom/document-verifier/internal/bootstrap"
	"github.com/kirillkom/document-verifier/internal/config"
	"github.com/kirillkom/document-verifier/internal/observability/logging"
)

var version = "dev"

func main() {
	cfg := config.Load()
	// stdout carries the protocol; logs go to stderr.
	logger := logging.New(os.Stderr, "docverify-mcp", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger, History: true})
	if err != nil {
		// Reports alone are still useful without the history database.
		logger.Warn("mcp_history_unavailable", "error", err)
		app, err = bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
	}
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// A nil *HistoryService must not reach the adapter as a non-nil interface.
	tools := mcpadapter.New(app.Reports, nil, logger)
	if app.History != nil {
		tools = mcpadapter.New(app.Reports, app.History, logger)
	}

	logger.Info("mcp_server_starting", "history_enabled", app.History != nil)
	if err := server.ServeStdio(tools.MCPServer(version)); err != nil {
		logger.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
