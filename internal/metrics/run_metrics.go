package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы запуска.
const (
	OutcomeSuccess     = "success"
	OutcomeSchemaError = "schema_error"
	OutcomeFailed      = "failed"
)

// RunMetrics содержит метрики запусков сверки.
type RunMetrics struct {
	// Счётчики запусков по исходу
	runs *prometheus.CounterVec

	// Гистограммы времени выполнения
	runDuration   prometheus.Histogram
	stageDuration *prometheus.HistogramVec

	// Результаты классификации
	exceptions  *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
	diagnostics *prometheus.CounterVec

	// Внешние границы: история и экспорт
	historyErrors *prometheus.CounterVec
	sinkPublishes *prometheus.CounterVec

	// Gauge для активных запусков
	activeRuns prometheus.Gauge
}

// NewRunMetrics создаёт метрики в глобальном реестре.
func NewRunMetrics() *RunMetrics {
	return NewRunMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewRunMetricsWithRegisterer создаёт метрики в заданном реестре (для тестов и встраивания).
func NewRunMetricsWithRegisterer(registerer prometheus.Registerer) *RunMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &RunMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Total number of reconciliation runs by outcome",
		}, []string{"outcome"}),
		runDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "reconcile_run_duration_seconds",
			Help:    "Duration of reconciliation runs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stageDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "reconcile_stage_duration_seconds",
			Help:    "Duration of individual run stages in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"stage"}),
		exceptions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "reconcile_exceptions_total",
			Help: "Total number of exceptions produced by type and urgency",
		}, []string{"type", "urgency"}),
		anomalies: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "reconcile_anomalies_total",
			Help: "Total number of matching anomalies by kind",
		}, []string{"kind"}),
		diagnostics: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "reconcile_diagnostics_total",
			Help: "Total number of data quality diagnostics by kind",
		}, []string{"kind"}),
		historyErrors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "reconcile_history_errors_total",
			Help: "Total number of run store failures by operation",
		}, []string{"op"}),
		sinkPublishes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "reconcile_sink_publish_total",
			Help: "Total number of result sink publish attempts by sink and result",
		}, []string{"sink", "result"}),
		activeRuns: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "reconcile_active_runs",
			Help: "Number of reconciliation runs in progress",
		}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordRunStarted увеличивает количество активных запусков.
// Методы RunMetrics допускают nil-получатель: метрики опциональны.
func (m *RunMetrics) RecordRunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RecordRunFinished фиксирует исход и длительность запуска.
func (m *RunMetrics) RecordRunFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordStageDuration записывает время этапа (normalize, resolve, classify, aggregate).
func (m *RunMetrics) RecordStageDuration(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordException увеличивает счётчик исключений.
func (m *RunMetrics) RecordException(exceptionType, urgency string) {
	if m == nil {
		return
	}
	m.exceptions.WithLabelValues(exceptionType, urgency).Inc()
}

// RecordAnomaly увеличивает счётчик аномалий сопоставления.
func (m *RunMetrics) RecordAnomaly(kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(kind).Inc()
}

// RecordDiagnostic увеличивает счётчик диагностик качества данных.
func (m *RunMetrics) RecordDiagnostic(kind string) {
	if m == nil {
		return
	}
	m.diagnostics.WithLabelValues(kind).Inc()
}

// RecordHistoryError увеличивает счётчик сбоев Run Store.
func (m *RunMetrics) RecordHistoryError(op string) {
	if m == nil {
		return
	}
	m.historyErrors.WithLabelValues(op).Inc()
}

// RecordSinkPublish фиксирует попытку экспорта результата.
func (m *RunMetrics) RecordSinkPublish(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sinkPublishes.WithLabelValues(sink, result).Inc()
}
