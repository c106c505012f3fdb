// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/clock/system"
	"github.com/openlegis/lexarc/internal/content"
	"github.com/openlegis/lexarc/internal/export"
	"github.com/openlegis/lexarc/internal/fetcher"
	collyfetcher "github.com/openlegis/lexarc/internal/fetcher/colly"
	"github.com/openlegis/lexarc/internal/fetcher/headless"
	"github.com/openlegis/lexarc/internal/hash/sha256"
	iduuid "github.com/openlegis/lexarc/internal/id/uuid"
	"github.com/openlegis/lexarc/internal/law"
	"github.com/openlegis/lexarc/internal/logging"
	"github.com/openlegis/lexarc/internal/metrics"
	"github.com/openlegis/lexarc/internal/notify"
	notifypubsub "github.com/openlegis/lexarc/internal/notify/pubsub"
	"github.com/openlegis/lexarc/internal/pipeline"
	"github.com/openlegis/lexarc/internal/policy/ratelimit"
	"github.com/openlegis/lexarc/internal/progress"
	"github.com/openlegis/lexarc/internal/progress/sinks"
	"github.com/openlegis/lexarc/internal/publisher/archive"
	"github.com/openlegis/lexarc/internal/publisher/gcs"
	"github.com/openlegis/lexarc/internal/source"
	"github.com/openlegis/lexarc/internal/source/rondonia"
	"github.com/openlegis/lexarc/internal/store/memory"
	"github.com/openlegis/lexarc/internal/store/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

// App holds all the shared, long-lived services for the application. It is
// initialized once at startup and injected into the commands that need it.
type App struct {
	logger     *zap.Logger
	records    law.RecordStore
	watermarks law.WatermarkStore
	registry   *source.Registry
	publisher  law.Publisher
	notifier   notify.Notifier
	cache      *content.Cache
	hub        *progress.Hub
	runner     *pipeline.Runner
	exporter   *export.Exporter

	closers []func()
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetRecords exposes the record store.
func (a *App) GetRecords() law.RecordStore { return a.records }

// GetWatermarks exposes the watermark store.
func (a *App) GetWatermarks() law.WatermarkStore { return a.watermarks }

// GetRegistry exposes the source adapter registry.
func (a *App) GetRegistry() *source.Registry { return a.registry }

// GetRunner exposes the configured pipeline runner.
func (a *App) GetRunner() *pipeline.Runner { return a.runner }

// GetExporter exposes the dataset exporter.
func (a *App) GetExporter() *export.Exporter { return a.exporter }

// NewApp creates and initializes a new App from the application's
// configuration. It reads values from Viper and instantiates the configured
// providers, failing fast when a critical service cannot be built.
func NewApp(ctx context.Context) (*App, error) {
	l := logging.L
	l.Info("Initializing application services...")
	metrics.Init()

	a := &App{logger: l}

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	if err := a.initCache(); err != nil {
		return nil, err
	}
	if err := a.initSources(); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initNotifier(ctx); err != nil {
		return nil, err
	}
	if err := a.initProgress(); err != nil {
		return nil, err
	}
	if err := a.initPipeline(); err != nil {
		return nil, err
	}
	if err := a.initExporter(); err != nil {
		return nil, err
	}

	l.Info("Application services initialized successfully.")
	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	switch provider := viper.GetString("database.provider"); provider {
	case "postgres":
		dsn := viper.GetString("database.postgres.dsn")
		if dsn == "" {
			return fmt.Errorf("database provider is 'postgres' but database.postgres.dsn is not set")
		}
		a.logger.Info("Connecting to PostgreSQL...")
		records, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      dsn,
			Table:    viper.GetString("database.postgres.records_table"),
			MaxConns: viper.GetInt32("database.postgres.max_conns"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize record store: %w", err)
		}
		if err := records.EnsureSchema(ctx); err != nil {
			records.Close()
			return fmt.Errorf("failed to ensure records schema: %w", err)
		}
		watermarks, err := postgres.NewWatermarkStore(ctx, postgres.WatermarkStoreConfig{
			DSN:   dsn,
			Table: viper.GetString("database.postgres.watermarks_table"),
		})
		if err != nil {
			records.Close()
			return fmt.Errorf("failed to initialize watermark store: %w", err)
		}
		if err := watermarks.EnsureSchema(ctx); err != nil {
			records.Close()
			watermarks.Close()
			return fmt.Errorf("failed to ensure watermarks schema: %w", err)
		}
		a.records = records
		a.watermarks = watermarks
		a.closers = append(a.closers, records.Close, watermarks.Close)
	case "memory":
		a.logger.Info("Using in-memory stores. State is lost on exit.")
		a.records = memory.NewRecordStore()
		a.watermarks = memory.NewWatermarkStore()
	default:
		return fmt.Errorf("unknown database provider: %s", provider)
	}
	return nil
}

func (a *App) initCache() error {
	cache, err := content.New(content.Config{BaseDir: viper.GetString("content.base_dir")})
	if err != nil {
		return fmt.Errorf("failed to initialize content cache: %w", err)
	}
	a.cache = cache
	return nil
}

func (a *App) initSources() error {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   viper.GetFloat64("sources.rate_limit_rps"),
		DefaultBurst: viper.GetInt("sources.rate_limit_burst"),
	})

	pageFetcher := fetcher.Fetcher(collyfetcher.New(collyfetcher.Config{
		UserAgent: viper.GetString("sources.user_agent"),
		Timeout:   viper.GetDuration("sources.fetch_timeout"),
	}))
	if viper.GetBool("sources.rondonia.headless") {
		a.logger.Info("Enabling headless fallback for script-gated pages")
		rendered, err := headless.NewChromedp(headless.Config{
			MaxParallel:       viper.GetInt("sources.rondonia.headless_max_parallel"),
			UserAgent:         viper.GetString("sources.user_agent"),
			NavigationTimeout: viper.GetDuration("sources.rondonia.headless_nav_timeout"),
			WaitSelector:      viper.GetString("sources.rondonia.headless_wait_selector"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize headless fetcher: %w", err)
		}
		a.closers = append(a.closers, rendered.Close)
		pageFetcher = fetcher.NewFallback(pageFetcher, rendered, fetcher.NewHeuristic(0))
	}

	a.registry = source.NewRegistry()
	conn := rondonia.New(rondonia.Config{
		BaseURL:              viper.GetString("sources.rondonia.base_url"),
		StartCoddoc:          viper.GetInt("sources.rondonia.start_coddoc"),
		MaxConsecutiveMisses: viper.GetInt("sources.rondonia.max_consecutive_misses"),
	}, pageFetcher, limiter)
	if err := a.registry.Register(conn); err != nil {
		return fmt.Errorf("failed to register rondonia source: %w", err)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch provider := viper.GetString("publisher.provider"); provider {
	case "archive":
		a.logger.Info("Using Internet Archive publisher")
		pub, err := archive.New(archive.Config{
			AccessKey:  viper.GetString("publisher.archive.access_key"),
			SecretKey:  viper.GetString("publisher.archive.secret_key"),
			Collection: viper.GetString("publisher.archive.collection"),
			Timeout:    viper.GetDuration("publisher.archive.timeout"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize archive publisher: %w", err)
		}
		a.publisher = pub
	case "gcs":
		bucket := viper.GetString("publisher.gcs.bucket_name")
		if bucket == "" {
			return fmt.Errorf("publisher provider is 'gcs' but publisher.gcs.bucket_name is not set")
		}
		a.logger.Info("Using GCS publisher", zap.String("bucket", bucket))
		pub, err := gcs.New(ctx, bucket)
		if err != nil {
			return fmt.Errorf("failed to initialize gcs publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, func() {
			if err := pub.Close(); err != nil {
				a.logger.Warn("Error closing gcs publisher", zap.Error(err))
			}
		})
	case "noop":
		a.logger.Info("No publisher configured. Publish phases will be rejected.")
		a.publisher = nil
	default:
		return fmt.Errorf("unknown publisher provider: %s", provider)
	}
	return nil
}

func (a *App) initNotifier(ctx context.Context) error {
	switch provider := viper.GetString("notify.provider"); provider {
	case "pubsub":
		projectID := viper.GetString("notify.gcp.project_id")
		topicID := viper.GetString("notify.gcp.topic_id")
		if projectID == "" || topicID == "" {
			return fmt.Errorf("notify provider is 'pubsub' but project_id or topic_id is not set")
		}
		a.logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", topicID))
		n, err := notifypubsub.New(ctx, projectID, topicID)
		if err != nil {
			return fmt.Errorf("failed to initialize pubsub notifier: %w", err)
		}
		a.notifier = n
		a.closers = append(a.closers, func() {
			if err := n.Close(); err != nil {
				a.logger.Warn("Error closing pubsub notifier", zap.Error(err))
			}
		})
	case "noop":
		a.notifier = notify.NoOp{}
	default:
		return fmt.Errorf("unknown notify provider: %s", provider)
	}
	return nil
}

// The progress collectors register against the default registry, which
// rejects duplicates; one registration per process.
var (
	promSinkOnce sync.Once
	promSink     *sinks.PrometheusSink
	promSinkErr  error
)

func (a *App) initProgress() error {
	promSinkOnce.Do(func() {
		promSink, promSinkErr = sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	})
	if promSinkErr != nil {
		return fmt.Errorf("failed to initialize prometheus progress sink: %w", promSinkErr)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger},
		sinks.NewLogSink(a.logger), promSink)
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("Error closing progress hub", zap.Error(err))
		}
	})
	return nil
}

func (a *App) initPipeline() error {
	runner, err := pipeline.NewRunner(pipeline.Deps{
		Records:    a.records,
		Watermarks: a.watermarks,
		Sources:    a.registry,
		Publisher:  a.publisher,
		Notifier:   a.notifier,
		Cache:      a.cache,
		Hub:        a.hub,
		Hasher:     sha256.New(),
		Clock:      system.New(),
		IDs:        iduuid.NewUUIDGenerator(),
	}, pipeline.Config{
		ItemDelay:       viper.GetDuration("pipeline.item_delay"),
		DiscoverTimeout: viper.GetDuration("pipeline.discover_timeout"),
		FetchTimeout:    viper.GetDuration("pipeline.fetch_timeout"),
		PublishTimeout:  viper.GetDuration("pipeline.publish_timeout"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline runner: %w", err)
	}
	a.runner = runner
	return nil
}

func (a *App) initExporter() error {
	exp, err := export.New(a.records, export.Config{
		Dir:          viper.GetString("export.dir"),
		DownloadBase: viper.GetString("export.download_base"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize exporter: %w", err)
	}
	a.exporter = exp
	return nil
}

// Close gracefully shuts down all services in the App container. It is
// called by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort; stderr may be gone already.
		a.logger.Warn("Error syncing logger on shutdown", zap.Error(err))
	}
}
