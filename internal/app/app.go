// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/alerts"
	"github.com/JakeFAU/evidence-ingest/internal/benchmark"
	"github.com/JakeFAU/evidence-ingest/internal/changes"
	"github.com/JakeFAU/evidence-ingest/internal/clock/system"
	"github.com/JakeFAU/evidence-ingest/internal/compliance"
	"github.com/JakeFAU/evidence-ingest/internal/config"
	"github.com/JakeFAU/evidence-ingest/internal/connector"
	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	collyfetcher "github.com/JakeFAU/evidence-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/evidence-ingest/internal/hash/sha256"
	"github.com/JakeFAU/evidence-ingest/internal/id/uuid"
	"github.com/JakeFAU/evidence-ingest/internal/metrics"
	"github.com/JakeFAU/evidence-ingest/internal/oracle"
	"github.com/JakeFAU/evidence-ingest/internal/orchestrator"
	"github.com/JakeFAU/evidence-ingest/internal/publisher/memory"
	"github.com/JakeFAU/evidence-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/evidence-ingest/internal/sources"
	"github.com/JakeFAU/evidence-ingest/internal/storage/gcs"
	"github.com/JakeFAU/evidence-ingest/internal/storage/local"
	storemem "github.com/JakeFAU/evidence-ingest/internal/storage/memory"
	"github.com/JakeFAU/evidence-ingest/internal/storage/postgres"
	"github.com/JakeFAU/evidence-ingest/internal/telemetry"
	"github.com/JakeFAU/evidence-ingest/internal/trends"
)

const tracerShutdownTimeout = 5 * time.Second

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and closed by a Cobra hook after the
// command finishes.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        evidence.Store
	blobs        evidence.BlobStore
	publisher    evidence.Publisher
	oracle       oracle.Oracle
	fetcher      evidence.Fetcher
	registry     *sources.Registry
	ids          *uuid.Generator
	clock        *system.Clock
	benchmarks   *benchmark.Generator
	trends       *trends.Detector
	alerts       *alerts.Sweeper
	orchestrator *orchestrator.Orchestrator
	closers      []func() error
}

// New creates and initializes the App from cfg. It fails fast if any
// critical service cannot be initialized; services opened before the
// failure are closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a = &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(),
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	logger.Info("initializing application services")

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return a, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		})
	}

	if a.registry, err = sources.Load(cfg.Sources.Path); err != nil {
		return a, fmt.Errorf("load sources: %w", err)
	}
	if a.store, err = a.openStore(ctx); err != nil {
		return a, err
	}
	if a.blobs, err = a.openArchive(ctx); err != nil {
		return a, err
	}
	if a.publisher, err = a.openPublisher(ctx); err != nil {
		return a, err
	}
	if a.oracle, err = oracle.New(ctx, oracle.Config{
		Provider:          cfg.Oracle.Provider,
		Model:             cfg.Oracle.Model,
		APIKey:            cfg.Oracle.APIKey,
		MaxTokens:         cfg.Oracle.MaxTokens,
		RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
	}, logger); err != nil {
		return a, fmt.Errorf("init oracle: %w", err)
	}
	a.fetcher = a.newFetcher()

	narrator := a.oracle
	if !cfg.Trends.Narratives {
		narrator = oracle.None{}
	}
	a.benchmarks = benchmark.NewGenerator(benchmark.Config{
		MinGroupSize:      cfg.Benchmark.MinGroupSize,
		MinPublishRecords: cfg.Benchmark.MinPublishRecords,
		MinSources:        cfg.Benchmark.MinSources,
		MinConfidence:     cfg.Benchmark.MinConfidence,
	}, a.store, a.ids, a.clock, logger)
	a.trends = trends.NewDetector(a.store, a.store, narrator, a.ids, a.clock, cfg.Trends.WindowDays, logger)

	deps := orchestrator.Deps{
		Store:      a.store,
		IDs:        a.ids,
		Clock:      a.clock,
		Changes:    changes.NewDetector(a.store, a.ids, a.clock, logger),
		Benchmarks: a.benchmarks,
		Trends:     a.trends,
		Snapshots:  sha256.New(),
		Logger:     logger,
	}
	if a.blobs != nil {
		deps.Blobs = a.blobs
	}
	if a.publisher != nil {
		a.alerts = alerts.NewSweeper(a.store, a.publisher, cfg.Alerts.Topic, logger)
		deps.Alerts = a.alerts
	}
	if a.orchestrator, err = orchestrator.New(orchestrator.Config{
		PoolSize:     cfg.Orchestrator.PoolSize,
		ArchiveRaw:   cfg.Orchestrator.ArchiveRaw,
		PreviewLimit: cfg.Orchestrator.PreviewLimit,
	}, deps); err != nil {
		return a, fmt.Errorf("init orchestrator: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("alerts", cfg.Alerts.Backend),
		zap.String("oracle", a.oracle.Name()),
		zap.Int("sources", a.registry.Len()),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (evidence.Store, error) {
	switch a.cfg.Store.Driver {
	case config.StoreMemory, "":
		a.logger.Info("using in-memory evidence store; data is discarded on exit")
		return storemem.NewEvidenceStore(), nil
	case config.StorePostgres:
		pgCfg := PostgresConfig(a.cfg)
		if a.cfg.Store.AutoMigrate {
			version, err := postgres.Migrate(ctx, pgCfg, a.logger)
			if err != nil {
				return nil, fmt.Errorf("migrate store: %w", err)
			}
			a.logger.Info("store migrated", zap.Int64("version", version))
		}
		store, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", a.cfg.Store.Driver)
	}
}

func (a *App) openArchive(ctx context.Context) (evidence.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return storemem.NewBlobStore(), nil
	case config.BackendLocal:
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return blobs, nil
	case config.BackendGCS:
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Archive.GCSBucket))
		blobs, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket, Prefix: a.cfg.Archive.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, blobs.Close)
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", a.cfg.Archive.Backend)
	}
}

func (a *App) openPublisher(ctx context.Context) (evidence.Publisher, error) {
	switch a.cfg.Alerts.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendPubSub:
		a.logger.Info("connecting to GCP Pub/Sub", zap.String("topic", a.cfg.Alerts.Topic))
		pub, err := pubsub.Dial(ctx, a.cfg.Alerts.ProjectID, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown alerts backend: %s", a.cfg.Alerts.Backend)
	}
}

func (a *App) newFetcher() *collyfetcher.Fetcher {
	f := a.cfg.Fetch
	robots := compliance.NewRobotsCache(compliance.RobotsConfig{
		TTL:        time.Duration(f.RobotsTTLMinutes) * time.Minute,
		MaxEntries: f.RobotsMaxEntries,
		Timeout:    time.Duration(f.RobotsTimeoutSecs) * time.Second,
	}, &http.Client{Timeout: time.Duration(f.RobotsTimeoutSecs) * time.Second}, a.logger)
	return collyfetcher.New(collyfetcher.Config{
		Timeout:           a.cfg.FetchTimeout(),
		DefaultPoliteness: time.Duration(f.PolitenessMs) * time.Millisecond,
		RespectRobots:     f.RespectRobots,
		Backoff: compliance.Backoff{
			MaxAttempts: f.MaxAttempts,
			Initial:     time.Duration(f.BackoffInitialMs) * time.Millisecond,
		},
	}, robots, compliance.NewUserAgentRotator(f.UserAgents), a.logger)
}

// PostgresConfig maps the store section onto the postgres package config.
func PostgresConfig(cfg config.Config) postgres.Config {
	return postgres.Config{
		DSN:             cfg.Store.DSN,
		Schema:          cfg.Store.Schema,
		MaxConns:        cfg.Store.MaxConns,
		MinConns:        cfg.Store.MinConns,
		MaxConnLifetime: time.Duration(cfg.Store.MaxConnLifetimeMinutes) * time.Minute,
	}
}

// Connector binds src to the shared fetcher and oracle.
func (a *App) Connector(src evidence.SourceDescriptor) (connector.Connector, error) {
	return connector.New(src, connector.Deps{
		Fetcher: a.fetcher,
		Oracle:  a.oracle,
		Clock:   a.clock,
		Logger:  a.logger,
	})
}

// Connectors builds connectors for the given source IDs, or for every
// enabled source in category when ids is empty.
func (a *App) Connectors(ctx context.Context, ids []string, category string) ([]connector.Connector, error) {
	var descs []evidence.SourceDescriptor
	if len(ids) == 0 {
		descs = a.registry.Enabled(category)
	} else {
		selected, err := a.registry.Select(ids)
		if err != nil {
			return nil, err
		}
		descs = selected
	}
	out := make([]connector.Connector, 0, len(descs))
	for _, d := range descs {
		if st, err := a.store.GetSourceState(ctx, d.ID); err == nil {
			d.LastSuccessfulFetch = st.LastSuccessfulFetch
			d.ConsecutiveFailures = st.ConsecutiveFailures
		}
		c, err := a.Connector(d)
		if err != nil {
			return nil, fmt.Errorf("build connector %s: %w", d.ID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config { return a.cfg }

// GetStore exposes the evidence store.
func (a *App) GetStore() evidence.Store { return a.store }

// GetPublisher returns the alert publisher, or nil when alerts are disabled.
func (a *App) GetPublisher() evidence.Publisher { return a.publisher }

// GetRegistry returns the source registry.
func (a *App) GetRegistry() *sources.Registry { return a.registry }

// GetIDs returns the identifier generator.
func (a *App) GetIDs() *uuid.Generator { return a.ids }

// GetClock returns the wall clock.
func (a *App) GetClock() *system.Clock { return a.clock }

// GetOrchestrator returns the ingestion orchestrator.
func (a *App) GetOrchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// GetBenchmarks returns the benchmark generator.
func (a *App) GetBenchmarks() *benchmark.Generator { return a.benchmarks }

// GetTrends returns the trend detector.
func (a *App) GetTrends() *trends.Detector { return a.trends }

// GetAlerts returns the alert sweeper, or nil when alerts are disabled.
func (a *App) GetAlerts() *alerts.Sweeper { return a.alerts }

// Close shuts down all services in reverse order of initialization.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	a.logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
