package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func down(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRegistryStatuses(t *testing.T) {
	cases := map[string]struct {
		probes     []Probe
		wantStatus Status
		wantCode   int
		wantReady  string
	}{
		"no probes": {
			wantStatus: StatusHealthy, wantCode: http.StatusOK, wantReady: "ready",
		},
		"all healthy": {
			probes:     []Probe{{Name: "run_store", Critical: true, Ping: up}},
			wantStatus: StatusHealthy, wantCode: http.StatusOK, wantReady: "ready",
		},
		"optional down": {
			probes: []Probe{
				{Name: "run_store", Critical: true, Ping: up},
				{Name: "archive", Ping: down("bucket missing")},
			},
			wantStatus: StatusDegraded, wantCode: http.StatusOK, wantReady: "ready",
		},
		"critical down": {
			probes: []Probe{
				{Name: "run_store", Critical: true, Ping: down("connection refused")},
				{Name: "archive", Ping: down("bucket missing")},
			},
			wantStatus: StatusUnhealthy, wantCode: http.StatusServiceUnavailable, wantReady: "not ready",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			reg := NewRegistry("v1.2.3")
			for _, p := range tc.probes {
				reg.Add(p)
			}

			rec := get(t, reg.HealthHandler(), "/healthz")
			assert.Equal(t, tc.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var report Report
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
			assert.Equal(t, tc.wantStatus, report.Status)
			assert.Equal(t, "v1.2.3", report.Version)
			assert.Len(t, report.Probes, len(tc.probes))

			ready := get(t, reg.ReadyHandler(), "/readyz")
			assert.Equal(t, tc.wantCode, ready.Code)
			assert.Equal(t, tc.wantReady, ready.Body.String())
		})
	}
}

func TestEvaluateOrdersByNameAndKeepsErrors(t *testing.T) {
	reg := NewRegistry("")
	reg.Add(Probe{Name: "zeta", Ping: up})
	reg.Add(Probe{Name: "alpha", Critical: true, Ping: down("boom")})
	reg.Add(Probe{Name: "zeta", Ping: down("replaced")})

	report := reg.Evaluate(context.Background())
	require.Len(t, report.Probes, 2)
	assert.Equal(t, "alpha", report.Probes[0].Name)
	assert.Equal(t, "boom", report.Probes[0].Error)
	assert.Equal(t, StatusDegraded, report.Probes[1].Status)
	assert.Equal(t, "replaced", report.Probes[1].Error)
}

func TestProbeTimeout(t *testing.T) {
	reg := NewRegistry("")
	reg.Add(Probe{Name: "slow", Critical: true, Timeout: 10 * time.Millisecond, Ping: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	report := reg.Evaluate(context.Background())
	require.Len(t, report.Probes, 1)
	assert.Equal(t, StatusUnhealthy, report.Probes[0].Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Probes[0].Error)
}

func TestLive(t *testing.T) {
	rec := get(t, http.HandlerFunc(Live), "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
