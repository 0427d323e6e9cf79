package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/config"
	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/export/objectstore"
	healthcheck "github.com/vladislavdragonenkov/reconciler/internal/health"
	"github.com/vladislavdragonenkov/reconciler/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/reconciler/internal/metrics"
	"github.com/vladislavdragonenkov/reconciler/internal/reconcile"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/memory"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/postgres"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/sqlite"
	"github.com/vladislavdragonenkov/reconciler/internal/version"
)

const bucketSetupTimeout = 5 * time.Second

type closer struct {
	name  string
	close func() error
}

// Dependencies содержит все зависимости сервиса.
type Dependencies struct {
	Engine  *reconcile.Engine
	Store   domain.RunStore
	Metrics *metrics.RunMetrics
	Health  *healthcheck.Registry
	Logger  *log.Entry

	closers []closer
}

// NewDependencies собирает движок, Run Store и получателей результата по конфигурации.
// Kafka и архив необязательны: ошибка их инициализации логируется, сервис стартует без них.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engineCfg, err := config.Load(cfg.EngineConfigPath)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.NewRunMetrics(),
		Health:  healthcheck.NewRegistry(version.Current().Version),
		Logger:  logger,
	}

	store, err := deps.initRunStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Store = store

	options := []reconcile.Option{
		reconcile.WithLogger(logger.WithField("layer", "engine")),
		reconcile.WithMetrics(deps.Metrics),
		reconcile.WithStore(store),
	}
	if sink := deps.initKafkaSink(cfg); sink != nil {
		options = append(options, reconcile.WithSink("kafka", sink))
	}
	if sink := deps.initArchive(ctx, cfg); sink != nil {
		options = append(options, reconcile.WithSink("archive", sink))
	}

	engine, err := reconcile.New(engineCfg, options...)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.Engine = engine
	return deps, nil
}

func (d *Dependencies) initRunStore(ctx context.Context, cfg Config) (domain.RunStore, error) {
	logger := d.Logger.WithField("storage_driver", cfg.StorageDriver)

	var (
		store domain.RunStore
		ping  func(ctx context.Context) error
	)
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store = memory.NewRunStore()
		ping = func(ctx context.Context) error {
			_, _, err := store.LatestSnapshot(ctx, "healthcheck")
			return err
		}
	case StorageDriverPostgres:
		pg, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("init postgres run store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate postgres run store: %w", err)
			}
		}
		d.closers = append(d.closers, closer{name: "postgres", close: pg.Close})
		store = postgres.NewRunStore(pg)
		ping = pg.Ping
	case StorageDriverSQLite:
		lite, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite run store: %w", err)
		}
		d.closers = append(d.closers, closer{name: "sqlite", close: lite.Close})
		store = lite
		ping = lite.Ping
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	d.Health.Add(healthcheck.Probe{Name: "run_store", Critical: true, Ping: ping})
	logger.Info("run store initialized")
	return store, nil
}

func (d *Dependencies) initKafkaSink(cfg Config) domain.ResultSink {
	if len(cfg.KafkaBrokers) == 0 {
		return nil
	}
	logger := d.Logger.WithField("brokers", cfg.KafkaBrokers)

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.KafkaBrokers, ClientID: cfg.KafkaClientID})
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	d.closers = append(d.closers, closer{name: "kafka", close: producer.Close})
	logger.Info("kafka producer initialized")

	return kafka.NewResultSink(producer,
		kafka.WithSinkLogger(d.Logger.WithField("layer", "kafka-sink")),
		kafka.WithTopic(cfg.KafkaTopic),
		kafka.WithMaxAttempts(cfg.KafkaMaxAttempts),
		kafka.WithRetryBaseDelay(cfg.KafkaRetryDelay),
	)
}

func (d *Dependencies) initArchive(ctx context.Context, cfg Config) domain.ResultSink {
	if !cfg.ArchiveEnabled() {
		return nil
	}
	logger := d.Logger.WithFields(log.Fields{"endpoint": cfg.Archive.Endpoint, "bucket": cfg.Archive.Bucket})

	bucket, err := objectstore.NewMinIOBucket(cfg.Archive)
	if err != nil {
		logger.WithError(err).Warn("failed to create archive client, continuing without archive")
		return nil
	}

	setupCtx, cancel := context.WithTimeout(ctx, bucketSetupTimeout)
	defer cancel()
	if err := objectstore.EnsureBucket(setupCtx, bucket); err != nil {
		logger.WithError(err).Warn("archive bucket is not ready, uploads may fail until it exists")
	}

	archive := objectstore.NewArchive(bucket, cfg.Archive.Prefix, d.Logger.WithField("layer", "archive"))
	d.Health.Add(healthcheck.Probe{Name: "archive", Ping: archive.Ping})
	logger.Info("result archive initialized")
	return archive
}

// Close освобождает ресурсы в порядке, обратном созданию.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(); err != nil {
			d.Logger.WithError(err).WithField("resource", c.name).Warn("failed to close resource")
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
