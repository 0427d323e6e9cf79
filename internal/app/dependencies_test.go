package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/reconcile"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/sqlite"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "app-test")
}

func runInput(runID string) reconcile.Input {
	return reconcile.Input{
		RunID:       runID,
		WorkspaceID: "ws-app",
		AsOf:        time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC),
		Orders: []domain.Row{
			{"Order ID": "A1", "Order Date": "2025-03-01", "Supplier": "Acme", "Quantity Ordered": "2"},
		},
		Shipments: []domain.Row{},
	}
}

func TestNewDependencies_Memory(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	require.NotNil(t, deps.Engine)
	require.NotNil(t, deps.Store)
	require.NotNil(t, deps.Metrics)

	_, err = deps.Engine.Run(context.Background(), runInput("run-1"))
	require.NoError(t, err)

	latest, ok, err := deps.Store.LatestSnapshot(context.Background(), "ws-app")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-1", latest.RunID)
}

func TestNewDependencies_SQLite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "runs.db")

	deps, err := NewDependencies(context.Background(), cfg, quietLogger())
	require.NoError(t, err)

	_, isSQLite := deps.Store.(*sqlite.RunStore)
	assert.True(t, isSQLite)

	_, err = deps.Engine.Run(context.Background(), runInput("run-1"))
	require.NoError(t, err)
	require.NoError(t, deps.Close())
	require.NoError(t, deps.Close(), "second close is a no-op")

	reopened, err := sqlite.Open(context.Background(), cfg.SQLitePath)
	require.NoError(t, err)
	defer reopened.Close()
	latest, ok, err := reopened.LatestSnapshot(context.Background(), "ws-app")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-1", latest.RunID)
}

func TestNewDependencies_PostgresRequiresDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres

	_, err := NewDependencies(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestNewDependencies_UnsupportedDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "mongo"

	_, err := NewDependencies(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestNewDependencies_EngineConfigMissing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EngineConfigPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewDependencies(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestNewDependencies_ArchiveUnreachableDegradesHealth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archive.Endpoint = "127.0.0.1:1"
	cfg.Archive.AccessKey = "ak"
	cfg.Archive.SecretKey = "sk"

	// Отменённый контекст обрывает создание бакета сразу; проверка health ждёт свой таймаут.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deps, err := NewDependencies(ctx, cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	rec := httptest.NewRecorder()
	deps.Health.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestNewDependencies_NilLogger(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.NotNil(t, deps.Logger)
}
