package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/export/objectstore"
)

// Драйверы Run Store.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

// Config описывает настройки сервиса сверки.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	// EngineConfigPath: YAML с порогами и алиасами; пусто, значения по умолчанию.
	EngineConfigPath string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SQLitePath          string

	KafkaBrokers     []string
	KafkaClientID    string
	KafkaTopic       string
	KafkaMaxAttempts int
	KafkaRetryDelay  time.Duration

	// Archive включается, если задан endpoint.
	Archive objectstore.Config

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SQLitePath:          "data/reconcile.db",
		KafkaClientID:       "reconcile-service",
		KafkaTopic:          "reconcile.run.events",
		KafkaMaxAttempts:    3,
		KafkaRetryDelay:     200 * time.Millisecond,
		Archive:             objectstore.Config{Bucket: "reconcile-runs"},
		ShutdownTimeout:     5 * time.Second,
	}
}

// ArchiveEnabled сообщает, нужно ли архивировать результаты в объектное хранилище.
func (c Config) ArchiveEnabled() bool {
	return strings.TrimSpace(c.Archive.Endpoint) != ""
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	if strings.TrimSpace(c.GRPCAddr) == "" {
		return errors.New("grpc address is required")
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("RECON_POSTGRES_DSN is required for postgres storage")
		}
	case StorageDriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("RECON_SQLITE_PATH is required for sqlite storage")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.KafkaMaxAttempts <= 0 {
		return errors.New("kafka max attempts must be positive")
	}
	if c.KafkaRetryDelay < 0 {
		return errors.New("kafka retry delay must not be negative")
	}
	if c.ArchiveEnabled() {
		if err := c.Archive.Validate(); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

// LoadConfigFromEnv накладывает переменные окружения RECON_* на DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	env := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := env("RECON_GRPC_ADDR"); ok {
		cfg.GRPCAddr = v
	}
	if v, ok := env("RECON_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := env("RECON_ENGINE_CONFIG"); ok {
		cfg.EngineConfigPath = v
	}
	if v, ok := env("RECON_STORAGE_DRIVER"); ok {
		cfg.StorageDriver = strings.ToLower(v)
	}
	if v, ok := env("RECON_POSTGRES_DSN"); ok {
		cfg.PostgresDSN = v
	}
	if v, ok := env("RECON_POSTGRES_AUTO_MIGRATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("RECON_POSTGRES_AUTO_MIGRATE: %w", err)
		}
		cfg.PostgresAutoMigrate = b
	}
	if v, ok := env("RECON_SQLITE_PATH"); ok {
		cfg.SQLitePath = v
	}

	if v, ok := env("RECON_KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	if v, ok := env("RECON_KAFKA_CLIENT_ID"); ok {
		cfg.KafkaClientID = v
	}
	if v, ok := env("RECON_KAFKA_TOPIC"); ok {
		cfg.KafkaTopic = v
	}
	if v, ok := env("RECON_KAFKA_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("RECON_KAFKA_MAX_ATTEMPTS: %w", err)
		}
		cfg.KafkaMaxAttempts = n
	}
	if v, ok := env("RECON_KAFKA_RETRY_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("RECON_KAFKA_RETRY_DELAY: %w", err)
		}
		cfg.KafkaRetryDelay = d
	}

	if v, ok := env("RECON_MINIO_ENDPOINT"); ok {
		cfg.Archive.Endpoint = v
	}
	if v, ok := env("RECON_MINIO_ACCESS_KEY"); ok {
		cfg.Archive.AccessKey = v
	}
	if v, ok := env("RECON_MINIO_SECRET_KEY"); ok {
		cfg.Archive.SecretKey = v
	}
	if v, ok := env("RECON_MINIO_REGION"); ok {
		cfg.Archive.Region = v
	}
	if v, ok := env("RECON_MINIO_BUCKET"); ok {
		cfg.Archive.Bucket = v
	}
	if v, ok := env("RECON_MINIO_PREFIX"); ok {
		cfg.Archive.Prefix = v
	}
	if v, ok := env("RECON_MINIO_USE_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("RECON_MINIO_USE_SSL: %w", err)
		}
		cfg.Archive.UseSSL = b
	}

	if v, ok := env("RECON_SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("RECON_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
