package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/document-verifier/internal/config"
	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/core/ports"
	"github.com/kirillkom/document-verifier/internal/core/report"
	"github.com/kirillkom/document-verifier/internal/core/usecase"
	"github.com/kirillkom/document-verifier/internal/infrastructure/backend"
	"github.com/kirillkom/document-verifier/internal/infrastructure/cache/memory"
	"github.com/kirillkom/document-verifier/internal/infrastructure/inspect"
	"github.com/kirillkom/document-verifier/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/document-verifier/internal/infrastructure/queue/nats"
	"github.com/kirillkom/document-verifier/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/document-verifier/internal/infrastructure/resilience"
	"github.com/kirillkom/document-verifier/internal/infrastructure/storage/localfs"
)

// Options select which stateful dependencies a process needs. The CLI runs
// without Postgres and NATS; the API and worker need both.
type Options struct {
	Logger          *slog.Logger
	BreakerObserver resilience.StateObserver
	History         bool
	Events          bool
	Spool           bool
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Backend   *backend.Client
	Reports   *usecase.ReportService
	History   *usecase.HistoryService
	Bus       *nats.Bus
	Storage   *localfs.Storage
	Inspector *inspect.Inspector

	// Files is what orchestrators read upload bytes from; the spool by default.
	Files ports.FileOpener

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger, Inspector: inspect.New()}

	backendExec := resilience.NewExecutor(backendResilience(cfg), logger.With("component", "backend"))
	if opts.BreakerObserver != nil {
		backendExec.WithStateObserver(opts.BreakerObserver)
	}
	app.Backend = backend.New(cfg.BackendBaseURL, backend.Options{
		Timeout:       cfg.BackendTimeout,
		UploadTimeout: cfg.BackendUploadTimeout,
		Executor:      backendExec,
	})

	mapping, err := report.DefaultMapping()
	if err != nil {
		return nil, fmt.Errorf("load report mapping: %w", err)
	}

	var recommender ports.RecommendationGenerator
	if cfg.RecommendationsEnabled {
		llmExec := resilience.NewExecutor(resilience.Background(), logger.With("component", "ollama"))
		if opts.BreakerObserver != nil {
			llmExec.WithStateObserver(opts.BreakerObserver)
		}
		recommender = ollama.NewRecommender(ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, llmExec))
	}

	app.Reports = usecase.NewReportService(
		app.Backend,
		report.NewNormalizer(mapping),
		recommender,
		memory.NewReportCache(cfg.ReportCacheTTL),
		usecase.ReportServiceConfig{
			WaitInterval: cfg.PollInterval,
			WaitTimeout:  cfg.ReportWaitTimeout,
		},
		logger,
	)

	if opts.History {
		db, err := openHistory(ctx, cfg.PostgresDSN)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
		app.History = usecase.NewHistoryService(postgres.NewHistoryRepository(db), app.Reports)
	}

	if opts.Events {
		busExec := resilience.NewExecutor(resilience.Background(), logger.With("component", "nats"))
		bus, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: busExec,
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init event bus: %w", err)
		}
		app.closers = append(app.closers, bus.Close)
		app.Bus = bus
	}

	if opts.Spool {
		storage, err := localfs.New(cfg.SpoolPath)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init upload spool: %w", err)
		}
		app.Storage = storage
		app.Files = storage
	}

	return app, nil
}

func openHistory(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := postgres.OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.NewHistoryRepository(db).EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// Orchestrator builds a per-session upload runner over the app's backend,
// file opener and event bus.
func (a *App) Orchestrator(session domain.Session, emitter ports.ProgressEmitter, jobMetrics ports.JobMetrics) *usecase.UploadOrchestrator {
	deps := usecase.OrchestratorDeps{
		Backend: a.Backend,
		Emitter: emitter,
		Logger:  a.Logger.With("user_id", session.UserID),
	}
	if a.Files != nil {
		deps.Files = a.Files
	}
	if a.Bus != nil {
		deps.Publisher = a.Bus
	}
	if jobMetrics != nil {
		deps.Metrics = jobMetrics
	}
	return usecase.NewUploadOrchestrator(session, usecase.OrchestratorConfig{
		MaxFileBytes:     a.Config.UploadMaxBytes,
		AllowedMIMETypes: a.Config.AllowedMIMETypes,
		PollInterval:     a.Config.PollInterval,
		PollTimeout:      a.Config.PollTimeout,
	}, deps)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// backendResilience keeps the user's critical path retry-free; only the
// breaker is configurable.
func backendResilience(cfg config.Config) resilience.Config {
	rc := resilience.CriticalPath()
	rc.BreakerEnabled = cfg.BackendBreakerEnabled
	if cfg.BackendBreakerMinRequests > 0 {
		rc.BreakerMinRequests = uint32(cfg.BackendBreakerMinRequests)
	}
	rc.BreakerFailureRatio = cfg.BackendBreakerFailRatio
	rc.BreakerOpenTimeout = cfg.BackendBreakerOpenTimeout
	return rc
}
