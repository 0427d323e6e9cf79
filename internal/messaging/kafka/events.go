package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	// EventTypeRunCompleted отправляется, когда запуск завершён и снапшот посчитан.
	EventTypeRunCompleted EventType = "run.completed"
	// EventTypeExceptionDetected описывает одно исключение запуска.
	EventTypeExceptionDetected EventType = "exception.detected"
)

// Topics для Kafka
const (
	TopicRunEvents = "reconcile.run.events"
)

// Kafka headers для маршрутизации и повторов
const (
	HeaderEventType   = "x-event-type"
	HeaderRunID       = "x-run-id"
	HeaderWorkspaceID = "x-workspace-id"
	HeaderAttempt     = "x-attempt"
)

// RunCompletedEvent это итог запуска без построчных деталей.
type RunCompletedEvent struct {
	EventType   EventType          `json:"event_type"`
	RunID       string             `json:"run_id"`
	WorkspaceID string             `json:"workspace_id"`
	PriorRunID  string             `json:"prior_run_id,omitempty"`
	AsOf        time.Time          `json:"as_of"`
	Exceptions  int                `json:"exceptions"`
	ByUrgency   map[string]int     `json:"by_urgency"`
	Followups   int                `json:"followups"`
	Anomalies   int                `json:"anomalies"`
	Summary     map[string]float64 `json:"summary"`
	Timestamp   time.Time          `json:"timestamp"`
}

// ExceptionDetectedEvent представляет одно исключение запуска
type ExceptionDetectedEvent struct {
	EventType      EventType `json:"event_type"`
	RunID          string    `json:"run_id"`
	WorkspaceID    string    `json:"workspace_id"`
	OrderID        string    `json:"order_id"`
	ExceptionType  string    `json:"exception_type"`
	Urgency        string    `json:"urgency"`
	ReasonCodes    []string  `json:"reason_codes"`
	SupplierRef    string    `json:"supplier_ref,omitempty"`
	CustomerImpact bool      `json:"customer_impact"`
	DaysOverdue    int       `json:"days_overdue,omitempty"`
	FuzzyMatch     bool      `json:"fuzzy_match,omitempty"`
	Explanation    string    `json:"explanation,omitempty"`
	NextAction     string    `json:"next_action,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewRunCompletedEvent создает событие завершения запуска
func NewRunCompletedEvent(result domain.RunResult, now time.Time) *RunCompletedEvent {
	byUrgency := make(map[string]int, len(domain.Urgencies()))
	for _, u := range domain.Urgencies() {
		byUrgency[u.String()] = 0
	}
	for _, e := range result.Exceptions {
		byUrgency[e.Urgency.String()]++
	}
	return &RunCompletedEvent{
		EventType:   EventTypeRunCompleted,
		RunID:       result.RunID,
		WorkspaceID: result.WorkspaceID,
		PriorRunID:  result.Snapshot.PriorRunID,
		AsOf:        result.AsOf,
		Exceptions:  len(result.Exceptions),
		ByUrgency:   byUrgency,
		Followups:   len(result.Followups),
		Anomalies:   len(result.Anomalies),
		Summary:     result.Snapshot.Summary,
		Timestamp:   now,
	}
}

// NewExceptionDetectedEvent создает событие исключения
func NewExceptionDetectedEvent(workspaceID string, e domain.Exception, now time.Time) *ExceptionDetectedEvent {
	return &ExceptionDetectedEvent{
		EventType:      EventTypeExceptionDetected,
		RunID:          e.RunID,
		WorkspaceID:    workspaceID,
		OrderID:        e.OrderID,
		ExceptionType:  string(e.Type),
		Urgency:        e.Urgency.String(),
		ReasonCodes:    e.ReasonCodes,
		SupplierRef:    e.SupplierRef,
		CustomerImpact: e.CustomerImpact,
		DaysOverdue:    e.DaysOverdue,
		FuzzyMatch:     e.FuzzyMatch,
		Explanation:    e.Explanation,
		NextAction:     e.NextAction,
		Timestamp:      now,
	}
}
