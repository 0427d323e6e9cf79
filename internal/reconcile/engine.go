// Package reconcile связывает этапы сверки в один запуск: история, вычисление, дозапись снапшота.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/config"
	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/metrics"
	"github.com/vladislavdragonenkov/reconciler/internal/reconcile/aggregate"
	"github.com/vladislavdragonenkov/reconciler/internal/reconcile/classify"
	"github.com/vladislavdragonenkov/reconciler/internal/reconcile/normalize"
	"github.com/vladislavdragonenkov/reconciler/internal/reconcile/resolve"
)

// Этапы вычисления, используются как метка метрик.
const (
	StageNormalize = "normalize"
	StageResolve   = "resolve"
	StageClassify  = "classify"
	StageAggregate = "aggregate"
)

// Input это сырые фиды и параметры одного запуска.
type Input struct {
	RunID       string
	WorkspaceID string
	AsOf        time.Time
	Orders      []domain.Row
	Shipments   []domain.Row
	// Tracking может быть пустым: фид трекинга необязателен.
	Tracking []domain.Row
	// Aliases дополняют таблицу алиасов конфигурации для этого запуска.
	Aliases config.Aliases
}

// Validate проверяет обязательные параметры запуска.
func (in Input) Validate() error {
	switch {
	case in.RunID == "":
		return domain.ErrRunIDRequired
	case in.WorkspaceID == "":
		return domain.ErrWorkspaceRequired
	case in.AsOf.IsZero():
		return domain.ErrAsOfRequired
	}
	return nil
}

type namedSink struct {
	name string
	sink domain.ResultSink
}

// Options это зависимости движка на границе запуска.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.RunMetrics
	Registry *classify.Registry
	Store    domain.RunStore
	Sinks    []namedSink
	Now      func() time.Time
}

// Option настраивает Engine.
type Option func(*Options)

// WithLogger задаёт logger движка.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики; без них движок метрики не пишет.
func WithMetrics(m *metrics.RunMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithRegistry задаёт реестр правил классификатора.
func WithRegistry(registry *classify.Registry) Option {
	return func(opts *Options) {
		opts.Registry = registry
	}
}

// WithStore задаёт Run Store. Без него запуски не видят истории и ничего не сохраняют.
func WithStore(store domain.RunStore) Option {
	return func(opts *Options) {
		opts.Store = store
	}
}

// WithSink добавляет получателя результата.
func WithSink(name string, sink domain.ResultSink) Option {
	return func(opts *Options) {
		if sink != nil {
			opts.Sinks = append(opts.Sinks, namedSink{name: name, sink: sink})
		}
	}
}

// WithClock задаёт источник времени для CreatedAt снапшота.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Engine выполняет запуски сверки. Между запусками изменяемого состояния нет,
// поэтому один Engine можно использовать из нескольких горутин.
type Engine struct {
	cfg        config.Config
	classifier *classify.Classifier
	aggregator *aggregate.Aggregator
	resolver   *resolve.Resolver
	store      domain.RunStore
	sinks      []namedSink
	logger     *log.Entry
	metrics    *metrics.RunMetrics
	now        func() time.Time
}

// New создаёт движок с проверенной конфигурацией.
func New(cfg config.Config, options ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	var opts Options
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reconcile-engine")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		cfg:        cfg,
		classifier: classify.New(cfg, opts.Registry),
		aggregator: aggregate.New(cfg),
		resolver:   resolve.New(resolve.Options{ItemTolerance: cfg.ItemTolerance, FuzzyWindowDays: cfg.FuzzyWindowDays}),
		store:      opts.Store,
		sinks:      opts.Sinks,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        now,
	}, nil
}

// Config возвращает конфигурацию движка.
func (e *Engine) Config() config.Config { return e.cfg }

// Store возвращает Run Store движка (может быть nil).
func (e *Engine) Store() domain.RunStore { return e.store }

// Run выполняет запуск: читает прошлый снапшот, вычисляет результат, дописывает снапшот
// и отдаёт результат получателям. Ошибки хранилища и получателей не прерывают запуск.
func (e *Engine) Run(ctx context.Context, in Input) (*domain.RunResult, error) {
	started := time.Now()
	e.metrics.RecordRunStarted()

	logger := e.logger.WithFields(log.Fields{
		"run_id":       in.RunID,
		"workspace_id": in.WorkspaceID,
	})

	if err := in.Validate(); err != nil {
		e.metrics.RecordRunFinished(metrics.OutcomeFailed, time.Since(started))
		return nil, err
	}

	var runDiags []domain.Diagnostic
	prior, err := e.latest(ctx, in.WorkspaceID)
	if err != nil {
		logger.WithError(err).Warn("Run history unavailable, computing without baseline")
		e.metrics.RecordHistoryError("latest")
		runDiags = append(runDiags, domain.Diagnostic{
			Kind:    domain.DiagnosticHistoryUnavailable,
			Message: err.Error(),
		})
	}

	result, err := e.compute(in, prior, e.metrics.RecordStageDuration)
	if err != nil {
		outcome := metrics.OutcomeFailed
		if domain.IsSchemaError(err) {
			outcome = metrics.OutcomeSchemaError
		}
		logger.WithError(err).Warn("Run rejected")
		e.metrics.RecordRunFinished(outcome, time.Since(started))
		return nil, err
	}

	result.Snapshot.CreatedAt = e.now().UTC()
	if e.store != nil {
		if err := e.store.SaveSnapshot(ctx, result.Snapshot); err != nil {
			logger.WithError(err).Warn("Run snapshot not persisted")
			e.metrics.RecordHistoryError("save")
			runDiags = append(runDiags, domain.Diagnostic{
				Kind:    domain.DiagnosticHistoryNotPersisted,
				Message: err.Error(),
			})
		}
	}
	result.Diagnostics = append(result.Diagnostics, runDiags...)

	e.publish(ctx, logger, *result)
	e.record(result)
	e.metrics.RecordRunFinished(metrics.OutcomeSuccess, time.Since(started))

	logger.WithFields(log.Fields{
		"exceptions":  len(result.Exceptions),
		"orders":      len(result.Orders),
		"anomalies":   len(result.Anomalies),
		"diagnostics": len(result.Diagnostics),
		"prior_run":   result.Snapshot.PriorRunID,
		"duration":    time.Since(started),
	}).Info("Run completed")

	return result, nil
}

// Compute выполняет чистое вычисление без Run Store и получателей. prior может быть nil.
func (e *Engine) Compute(in Input, prior *domain.RunSnapshot) (*domain.RunResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return e.compute(in, prior, nil)
}

func (e *Engine) latest(ctx context.Context, workspaceID string) (*domain.RunSnapshot, error) {
	if e.store == nil {
		return nil, nil
	}
	snapshot, ok, err := e.store.LatestSnapshot(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

func (e *Engine) compute(in Input, prior *domain.RunSnapshot, observe func(stage string, d time.Duration)) (*domain.RunResult, error) {
	if observe == nil {
		observe = func(string, time.Duration) {}
	}
	asOf := in.AsOf.UTC()

	aliases := e.cfg.Aliases
	if len(in.Aliases) > 0 {
		aliases = config.MergeAliases(aliases, in.Aliases)
	}

	stageStart := time.Now()
	norm, err := normalize.New(aliases).Normalize(in.Orders, in.Shipments, in.Tracking)
	if err != nil {
		return nil, err
	}
	observe(StageNormalize, time.Since(stageStart))

	stageStart = time.Now()
	res := e.resolver.Resolve(norm.Orders, norm.Shipments, norm.Tracking)
	observe(StageResolve, time.Since(stageStart))

	stageStart = time.Now()
	classified := e.classifier.Classify(classify.Input{
		RunID:               in.RunID,
		AsOf:                asOf,
		Views:               res.Views,
		TrackingFeedPresent: len(in.Tracking) > 0,
		Prior:               prior,
	})
	observe(StageClassify, time.Since(stageStart))

	stageStart = time.Now()
	counts := aggregate.CountAnomalies(aggregate.Counts{
		Orders:         len(norm.Orders),
		Shipments:      len(norm.Shipments),
		TrackingEvents: len(norm.Tracking),
	}, res.Anomalies)
	agg := e.aggregator.Aggregate(aggregate.Input{
		RunID:       in.RunID,
		WorkspaceID: in.WorkspaceID,
		AsOf:        asOf,
		Exceptions:  classified.Exceptions,
		Orders:      classified.Orders,
		Open:        classified.Open,
		Counts:      counts,
		Types:       e.classifier.Registry().Types(),
		Prior:       prior,
	})
	observe(StageAggregate, time.Since(stageStart))

	return &domain.RunResult{
		RunID:          in.RunID,
		WorkspaceID:    in.WorkspaceID,
		AsOf:           asOf,
		Exceptions:     nonNil(classified.Exceptions),
		Orders:         nonNil(classified.Orders),
		Scorecards:     agg.Scorecards,
		Followups:      nonNil(agg.Followups),
		CustomerImpact: nonNil(agg.CustomerImpact),
		Snapshot:       agg.Snapshot,
		Trends:         nonNil(agg.Trends),
		Anomalies:      nonNil(res.Anomalies),
		Diagnostics:    nonNil(norm.Diagnostics),
	}, nil
}

func (e *Engine) publish(ctx context.Context, logger *log.Entry, result domain.RunResult) {
	for _, s := range e.sinks {
		err := s.sink.Publish(ctx, result)
		e.metrics.RecordSinkPublish(s.name, err)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.WithField("sink", s.name).Warn("Result publish canceled")
				continue
			}
			logger.WithError(err).WithField("sink", s.name).Error("Failed to publish run result")
		}
	}
}

func (e *Engine) record(result *domain.RunResult) {
	if e.metrics == nil {
		return
	}
	for _, exc := range result.Exceptions {
		e.metrics.RecordException(string(exc.Type), exc.Urgency.String())
	}
	for _, a := range result.Anomalies {
		e.metrics.RecordAnomaly(string(a.Kind))
	}
	for _, d := range result.Diagnostics {
		e.metrics.RecordDiagnostic(string(d.Kind))
	}
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
