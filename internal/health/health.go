// Package health отдаёт HTTP-пробы сервиса сверки: /healthz, /livez, /readyz.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status это итог пробы или всего отчёта.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// DefaultProbeTimeout ограничивает одну пробу, если Probe.Timeout не задан.
const DefaultProbeTimeout = 2 * time.Second

// Probe описывает зависимость сервиса. Упавшая критичная проба делает сервис
// unhealthy, некритичная только degraded.
type Probe struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Ping     func(ctx context.Context) error
}

// Result это результат одной пробы.
type Result struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report это тело ответа /healthz.
type Report struct {
	Status        Status    `json:"status"`
	Version       string    `json:"version,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Probes        []Result  `json:"probes,omitempty"`
}

// Registry хранит пробы и вычисляет отчёт.
type Registry struct {
	version string
	started time.Time

	mu     sync.RWMutex
	probes map[string]Probe
}

// NewRegistry создаёт пустой реестр проб.
func NewRegistry(version string) *Registry {
	return &Registry{version: version, started: time.Now(), probes: make(map[string]Probe)}
}

// Add регистрирует пробу; проба с тем же именем заменяется.
func (r *Registry) Add(p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[p.Name] = p
}

// Evaluate запускает все пробы параллельно. Результаты упорядочены по имени.
func (r *Registry) Evaluate(ctx context.Context) Report {
	r.mu.RLock()
	probes := make([]Probe, 0, len(r.probes))
	for _, p := range r.probes {
		probes = append(probes, p)
	}
	r.mu.RUnlock()
	sort.Slice(probes, func(i, j int) bool { return probes[i].Name < probes[j].Name })

	results := make([]Result, len(probes))
	var wg sync.WaitGroup
	for i := range probes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = run(ctx, probes[i])
		}(i)
	}
	wg.Wait()

	return Report{
		Status:        summarize(results),
		Version:       r.version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(r.started).Seconds()),
		Probes:        results,
	}
}

// HealthHandler отдаёт полный JSON-отчёт; 503, если упала критичная проба.
func (r *Registry) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		report := r.Evaluate(req.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus(report.Status))
		_ = json.NewEncoder(w).Encode(report)
	})
}

// ReadyHandler отвечает ready, пока живы критичные зависимости.
func (r *Registry) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		status := r.Evaluate(req.Context()).Status
		w.WriteHeader(httpStatus(status))
		if status == StatusUnhealthy {
			_, _ = w.Write([]byte("not ready"))
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
}

// Live отвечает на liveness-пробу, не трогающая зависимости.
func Live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func run(ctx context.Context, p Probe) Result {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := p.Ping(ctx)
	res := Result{
		Name:       p.Name,
		Status:     StatusHealthy,
		Critical:   p.Critical,
		DurationMs: time.Since(started).Milliseconds(),
	}
	switch {
	case err == nil:
	case p.Critical:
		res.Status, res.Error = StatusUnhealthy, err.Error()
	default:
		res.Status, res.Error = StatusDegraded, err.Error()
	}
	return res
}

func summarize(results []Result) Status {
	status := StatusHealthy
	for _, res := range results {
		if res.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if res.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
