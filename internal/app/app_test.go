package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/reconciler/internal/health"
)

func TestMetricsMux_Endpoints(t *testing.T) {
	probes := healthcheck.NewRegistry("test")
	probes.Add(healthcheck.Probe{Name: "run_store", Critical: true, Ping: func(context.Context) error { return nil }})
	mux := newMetricsMux(probes)

	cases := map[string]struct {
		code int
		body string
	}{
		"/metrics": {http.StatusOK, ""},
		"/healthz": {http.StatusOK, `"status":"healthy"`},
		"/livez":   {http.StatusOK, "ok"},
		"/readyz":  {http.StatusOK, "ready"},
	}
	for path, want := range cases {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want.code, rec.Code, path)
		if want.body != "" {
			assert.Contains(t, rec.Body.String(), want.body, path)
		}
	}
}

func TestMetricsMux_ReadyzFailsWithCriticalCheck(t *testing.T) {
	probes := healthcheck.NewRegistry("test")
	probes.Add(healthcheck.Probe{Name: "run_store", Critical: true, Ping: func(context.Context) error {
		return errors.New("connection refused")
	}})
	mux := newMetricsMux(probes)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewMetricsServer_DisabledWithoutAddr(t *testing.T) {
	assert.Nil(t, newMetricsServer("", healthcheck.NewRegistry("test")))
	assert.NotNil(t, newMetricsServer(":0", healthcheck.NewRegistry("test")))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "mongo"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
}

func TestRun_ListenError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "256.0.0.1:bad"
	cfg.MetricsAddr = ""

	err := Run(context.Background(), cfg)
	require.Error(t, err)
}
