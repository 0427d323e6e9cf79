package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

const (
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
)

// EventPublisher отправляет одно событие в топик.
type EventPublisher interface {
	PublishEvent(topic, key string, event interface{}, headers map[string]string) error
}

// SinkOptions это параметры ResultSink.
type SinkOptions struct {
	Logger         *log.Entry
	Topic          string
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Now            func() time.Time
}

// SinkOption настраивает ResultSink.
type SinkOption func(*SinkOptions)

// WithSinkLogger задаёт logger.
func WithSinkLogger(logger *log.Entry) SinkOption {
	return func(opts *SinkOptions) {
		opts.Logger = logger
	}
}

// WithTopic задаёт топик событий запуска.
func WithTopic(topic string) SinkOption {
	return func(opts *SinkOptions) {
		opts.Topic = topic
	}
}

// WithMaxAttempts задаёт число попыток отправки одного события.
func WithMaxAttempts(maxAttempts int) SinkOption {
	return func(opts *SinkOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) SinkOption {
	return func(opts *SinkOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithSinkClock задаёт источник времени для меток событий.
func WithSinkClock(now func() time.Time) SinkOption {
	return func(opts *SinkOptions) {
		opts.Now = now
	}
}

// ResultSink публикует результат запуска: exception.detected на каждое исключение
// (ключ: order id), затем run.completed (ключ, workspace).
type ResultSink struct {
	publisher      EventPublisher
	topic          string
	maxAttempts    int
	retryBaseDelay time.Duration
	logger         *log.Entry
	now            func() time.Time
}

var _ domain.ResultSink = (*ResultSink)(nil)

// NewResultSink создаёт Kafka-получателя результатов.
func NewResultSink(publisher EventPublisher, options ...SinkOption) *ResultSink {
	opts := SinkOptions{
		Topic:          TopicRunEvents,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "kafka-result-sink")
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ResultSink{
		publisher:      publisher,
		topic:          opts.Topic,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		logger:         logger,
		now:            opts.Now,
	}
}

// Publish отправляет события запуска. Первая неуспешная после всех попыток отправка прерывает публикацию.
func (s *ResultSink) Publish(ctx context.Context, result domain.RunResult) error {
	if s == nil || s.publisher == nil {
		return fmt.Errorf("kafka result sink is not initialized")
	}

	now := s.now().UTC()
	for _, exc := range result.Exceptions {
		event := NewExceptionDetectedEvent(result.WorkspaceID, exc, now)
		if err := s.publishWithRetry(ctx, exc.OrderID, event, result); err != nil {
			return fmt.Errorf("publish %s for order %s: %w", EventTypeExceptionDetected, exc.OrderID, err)
		}
	}

	event := NewRunCompletedEvent(result, now)
	if err := s.publishWithRetry(ctx, result.WorkspaceID, event, result); err != nil {
		return fmt.Errorf("publish %s: %w", EventTypeRunCompleted, err)
	}

	s.logger.WithFields(log.Fields{
		"run_id":     result.RunID,
		"topic":      s.topic,
		"exceptions": len(result.Exceptions),
	}).Debug("run result published")
	return nil
}

func (s *ResultSink) publishWithRetry(ctx context.Context, key string, event interface{}, result domain.RunResult) error {
	var eventType EventType
	switch e := event.(type) {
	case *RunCompletedEvent:
		eventType = e.EventType
	case *ExceptionDetectedEvent:
		eventType = e.EventType
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		headers := map[string]string{
			HeaderEventType:   string(eventType),
			HeaderRunID:       result.RunID,
			HeaderWorkspaceID: result.WorkspaceID,
			HeaderAttempt:     strconv.Itoa(attempt),
		}
		err := s.publisher.PublishEvent(s.topic, key, event, headers)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= s.maxAttempts {
			break
		}

		delay := s.retryBackoff(attempt)
		s.logger.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
			"key":     key,
		}).Warn("kafka publish failed, retrying")
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *ResultSink) retryBackoff(attempt int) time.Duration {
	if s.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return s.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := s.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}
