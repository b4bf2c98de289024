package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/notarial-intake/internal/config"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
	"github.com/kirillkom/notarial-intake/internal/core/usecase"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/archive"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/cache/memory"
	rediscache "github.com/kirillkom/notarial-intake/internal/infrastructure/cache/redis"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/classifier/heuristic"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/extraction/httpclient"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/queue/nats"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/resilience"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/splitter/pdfpages"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/notarial-intake/internal/observability/metrics"
)

// Options tune the composition for the process being started.
type Options struct {
	Logger *slog.Logger
	// Registry receives pipeline metrics; a private one is used when nil.
	Registry *prometheus.Registry
	// LocalStatus receives status events when no message queue is configured.
	LocalStatus ports.StatusPublisher
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Intake   *usecase.IntakeUseCase
	Exporter *xlsx.Exporter
	Storage  *localfs.Storage
	// Queue is nil when NATS_URL is empty.
	Queue   *nats.Queue
	Metrics *metrics.PipelineMetrics

	checks  map[string]func(context.Context) error
	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, error) {
		closeAll()
		return nil, err
	}
	checks := map[string]func(context.Context) error{}

	db, err := postgres.OpenDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closers = append(closers, func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fail(fmt.Errorf("ensure schema: %w", err))
	}
	checks["postgres"] = pingDB(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fail(fmt.Errorf("init object storage: %w", err))
	}

	classifier, err := heuristic.New(cfg.ClassifierRulesPath)
	if err != nil {
		return fail(fmt.Errorf("init classifier: %w", err))
	}

	pipelineMetrics := metrics.NewPipelineMetrics(cfg.ServiceName, opts.Registry)

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		Operations: map[string]resilience.Policy{
			// The cache check only flags pages for reprocessing.
			"extraction.cache_check": {MaxAttempts: 1},
		},
		BreakerEnabled:     cfg.BreakerEnabled,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	}, logger).WithObserver(pipelineMetrics)

	extraction := httpclient.New(cfg.ExtractionURL, httpclient.Options{
		APIKey:             cfg.ExtractionAPIKey,
		Timeout:            cfg.ExtractionTimeout,
		ResilienceExecutor: executor,
	})

	var cache ports.FingerprintStore
	if cfg.RedisURL != "" {
		store, err := rediscache.Connect(ctx, cfg.RedisURL, cfg.FingerprintTTL)
		if err != nil {
			return fail(fmt.Errorf("init fingerprint cache: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })
		checks["redis"] = store.Health
		cache = store
	} else {
		cache = memory.New(cfg.FingerprintCacheSize)
	}

	var queue *nats.Queue
	status := opts.LocalStatus
	if cfg.NATSURL != "" {
		queue, err = nats.New(cfg.NATSURL, nats.Options{
			Name: cfg.ServiceName,
			Subjects: nats.Subjects{
				Batches:    cfg.NATSBatchSubject,
				Cancel:     cfg.NATSCancelSubject,
				Status:     cfg.NATSStatusSubject,
				QueueGroup: cfg.NATSQueueGroup,
			},
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return fail(fmt.Errorf("init message queue: %w", err))
		}
		closers = append(closers, queue.Close)
		checks["nats"] = func(context.Context) error { return queue.Health() }
		status = queue
	}

	intake := usecase.NewIntakeUseCase(usecase.IntakeDependencies{
		Splitter:     pdfpages.New(cfg.MaxPagesPerFile, logger),
		Classifier:   classifier,
		Extractor:    extraction,
		Sessions:     postgres.NewSessionRepository(db),
		Cache:        cache,
		CacheChecker: extraction,
		Uploads:      archive.New(storage, postgres.NewDocumentRepository(db)),
		Storage:      storage,
		Status:       status,
		Metrics:      pipelineMetrics,
		Logger:       logger,
	}, usecase.IntakeConfig{
		ExtractionTimeout:   cfg.ExtractionTimeout,
		PersistDebounce:     cfg.PersistDebounce,
		IdentificationLimit: int64(cfg.IdentificationConcurrency),
		DocumentLimit:       int64(cfg.DocumentConcurrency),
		IncludeRawText:      cfg.IncludeRawText,
	})

	logger.Info("app_initialized",
		"redis_cache", cfg.RedisURL != "",
		"nats", queue != nil,
		"identification_concurrency", cfg.IdentificationConcurrency,
		"document_concurrency", cfg.DocumentConcurrency,
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Intake:   intake,
		Exporter: xlsx.New(logger),
		Storage:  storage,
		Queue:    queue,
		Metrics:  pipelineMetrics,
		checks:   checks,
		closeFn:  closeAll,
	}, nil
}

// Checks are the readiness probes of the connected backends.
func (a *App) Checks() map[string]func(context.Context) error {
	return a.checks
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func pingDB(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
