// Package server assembles the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/api"
	"github.com/gitscout/gitscout/internal/clock/system"
	"github.com/gitscout/gitscout/internal/config"
	"github.com/gitscout/gitscout/internal/dispatcher"
	"github.com/gitscout/gitscout/internal/extraction"
	collyfetcher "github.com/gitscout/gitscout/internal/fetcher/colly"
	headlessfetcher "github.com/gitscout/gitscout/internal/fetcher/headless"
	"github.com/gitscout/gitscout/internal/hash/sha256"
	"github.com/gitscout/gitscout/internal/headless/detector"
	"github.com/gitscout/gitscout/internal/id/uuid"
	"github.com/gitscout/gitscout/internal/logging"
	"github.com/gitscout/gitscout/internal/miner"
	"github.com/gitscout/gitscout/internal/policy/ratelimit"
	"github.com/gitscout/gitscout/internal/policy/simple"
	"github.com/gitscout/gitscout/internal/progress"
	progresssinks "github.com/gitscout/gitscout/internal/progress/sinks"
	memorypublisher "github.com/gitscout/gitscout/internal/publisher/memory"
	gcppublisher "github.com/gitscout/gitscout/internal/publisher/pubsub"
	queueMemory "github.com/gitscout/gitscout/internal/queue/memory"
	"github.com/gitscout/gitscout/internal/resolver"
	"github.com/gitscout/gitscout/internal/runner"
	gcsstorage "github.com/gitscout/gitscout/internal/storage/gcs"
	localstorage "github.com/gitscout/gitscout/internal/storage/local"
	memoryStorage "github.com/gitscout/gitscout/internal/storage/memory"
	pgstore "github.com/gitscout/gitscout/internal/storage/postgres"
	"github.com/gitscout/gitscout/internal/store"
	"github.com/gitscout/gitscout/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	progressHub     *progress.Hub
	queue           *queueMemory.Queue
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	statusStore     extraction.StatusStore
	runStore        store.RunRepository
	evidence        extraction.EvidenceStore
	tracerShutdown  func(context.Context) error
	metricShutdown  func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Define a struct for logging only non-sensitive config fields
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend,omitempty"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if pgStatus, ok := a.statusStore.(*pgstore.StatusStore); ok {
		pgStatus.Close()
	}
	if pgRuns, ok := a.runStore.(*pgstore.RunStore); ok {
		pgRuns.Close()
	}
	if pgEvidence, ok := a.evidence.(*pgstore.EvidenceStore); ok {
		pgEvidence.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.metricShutdown != nil {
		if err := a.metricShutdown(ctx); err != nil {
			a.logger.Warn("metric shutdown failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	tp, mp, err := telemetry.InitTelemetry(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.metricShutdown = mp.Shutdown

	app.logger.Info("building application dependencies")

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	if err = setupProgress(ctx, app); err != nil {
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Extraction.QueueDepth)
	app.dispatch, err = setupRunners(app, blobStore, publisher)
	if err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(
		app.statusStore,
		app.dispatch,
		api.NewRunsHandler(app.runStore, logger.Named("runs")),
		uuid.NewUUIDGenerator(),
		system.New(),
		*cfg,
		logger.Named("api"),
	)

	return app, nil
}

func setupStorage(ctx context.Context, app *App) (extraction.BlobStore, error) {
	var blobStore extraction.BlobStore
	var err error
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err = localstorage.New(localstorage.Config{
			BaseDir: app.cfg.Storage.LocalDir,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore = memoryStorage.NewBlobStore()
	}
	return blobStore, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory job store without run history")
		app.statusStore = memoryStorage.NewStatusStore()
		return nil
	}

	statusStore, err := pgstore.NewStatusStore(ctx, pgstore.StatusStoreConfig{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        int32(app.cfg.DB.MaxConns),
		MinConns:        int32(app.cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(app.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("status store init failed: %w", err)
	}
	if err := statusStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("status store schema failed: %w", err)
	}
	app.statusStore = statusStore
	app.logger.Info("postgres status store initialized")

	runStore, err := pgstore.NewRunStore(ctx, app.cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	if err := runStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run store schema failed: %w", err)
	}
	app.runStore = runStore
	app.logger.Info("postgres run store initialized")

	evidenceStore, err := pgstore.NewEvidenceStore(ctx, pgstore.EvidenceStoreConfig{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        int32(app.cfg.DB.MaxConns),
		MinConns:        int32(app.cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(app.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("evidence store init failed: %w", err)
	}
	if err := evidenceStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("evidence store schema failed: %w", err)
	}
	app.evidence = evidenceStore
	app.logger.Info("postgres evidence store initialized")
	return nil
}

func setupPublisher(ctx context.Context, app *App) (extraction.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupProgress(ctx context.Context, app *App) error {
	var sinkList []progress.Sink
	if app.runStore != nil {
		sinkList = append(
			sinkList,
			progresssinks.NewStoreSink(app.runStore, app.logger.Named("progress_store")),
		)
		app.logger.Debug("Added progress store sink")
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	app.logger.Debug("Added progress prometheus sink")
	if app.cfg.Logging.Development {
		sinkList = append(
			sinkList,
			progresssinks.NewLogSink(app.logger.Named("progress_log")),
		)
		app.logger.Debug("Added progress log sink")
	}

	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func setupRunners(
	app *App,
	blobStore extraction.BlobStore,
	publisher extraction.Publisher,
) (*dispatcher.Dispatcher, error) {
	hasher := sha256.New()
	clk := system.New()
	idGen := uuid.NewUUIDGenerator()
	detect := detector.NewHeuristic(app.cfg.Headless.PromotionThresh)

	probeFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     app.cfg.Resolver.UserAgent,
		RespectRobots: app.cfg.Resolver.RespectRobots,
		Timeout:       app.cfg.HTTPTimeout(),
	})
	app.logger.Info("using colly probe fetcher", zap.String("user_agent", app.cfg.Resolver.UserAgent))

	var headless extraction.Fetcher
	if app.cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       app.cfg.Headless.MaxParallel,
			UserAgent:         app.cfg.Resolver.UserAgent,
			NavigationTimeout: time.Duration(app.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = hf
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
		}
	}

	var throttle extraction.Throttle
	if app.cfg.RateLimit.Enabled {
		throttle = ratelimit.New(ratelimit.Config{
			DefaultRPS:   app.cfg.RateLimit.RequestsPerSecond,
			DefaultBurst: app.cfg.RateLimit.Burst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("requests_per_second", app.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", app.cfg.RateLimit.Burst),
		)
	} else {
		throttle = simple.New()
		app.logger.Info("rate limiter disabled, using simple policy")
	}

	mine := miner.New(miner.Config{
		BaseURL:      app.cfg.Miner.BaseURL,
		CloneTimeout: app.cfg.CloneTimeout(),
		WorkDir:      app.cfg.Miner.WorkDir,
	}, app.logger.Named("miner"))

	resolve := resolver.New(
		resolver.Config{
			MaxPapers:        app.cfg.Resolver.MaxPapers,
			MaxSearchResults: app.cfg.Resolver.MaxSearchResults,
			PDFMaxPages:      app.cfg.Resolver.PDFMaxPages,
			BlockedDomains:   app.cfg.Resolver.BlockedDomains,
			DBLPBaseURL:      app.cfg.Resolver.DBLPBaseURL,
			ArxivBaseURL:     app.cfg.Resolver.ArxivBaseURL,
			WebSearchBaseURL: app.cfg.Resolver.WebSearchBaseURL,
			HeadlessEnabled:  app.cfg.Headless.Enabled,
			BlobPrefix:       app.cfg.Storage.Prefix,
			BlobContentType:  app.cfg.Storage.ContentType,
			MaxRetries:       app.cfg.HTTP.MaxRetries,
			BackoffInitial:   time.Duration(app.cfg.HTTP.BackoffInitialMs) * time.Millisecond,
			BackoffMax:       time.Duration(app.cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		},
		probeFetcher,
		headless,
		detect,
		throttle,
		blobStore,
		app.evidence,
		hasher,
		clk,
		idGen,
		app.progressHub,
		app.logger.Named("resolver"),
	)

	runnerCfg := runner.Config{
		Topic:          app.cfg.PubSub.TopicName,
		RunTimeout:     app.cfg.RunTimeout(),
		ResolveTimeout: app.cfg.ResolveTimeout(),
	}
	app.logger.Info("runner config",
		zap.String("topic", runnerCfg.Topic),
		zap.Duration("run_timeout", runnerCfg.RunTimeout),
		zap.Duration("resolve_timeout", runnerCfg.ResolveTimeout),
	)

	var runners []*runner.Runner
	for i := 0; i < app.cfg.Extraction.Concurrency; i++ {
		runners = append(runners, runner.New(
			app.queue,
			app.statusStore,
			mine,
			resolve,
			publisher,
			clk,
			app.progressHub,
			runnerCfg,
			app.logger.Named("runner").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, runners), nil
}
