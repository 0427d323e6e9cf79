package domain

import (
	"sort"
	"time"
)

// UnassignedSupplier это ключ скоркарда для заказов без поставщика.
const UnassignedSupplier = "unassigned"

// OpenException это незакрытое исключение, переносимое в следующий запуск.
type OpenException struct {
	OrderID     string        `json:"order_id"`
	Type        ExceptionType `json:"type"`
	Urgency     Urgency       `json:"urgency"`
	SupplierRef string        `json:"supplier_ref,omitempty"`
	// Streak показывает, сколько запусков подряд исключение остаётся открытым (текущий включительно).
	Streak int `json:"streak"`
}

// Key возвращает ключ (order, type).
func (o OpenException) Key() ExceptionKey {
	return ExceptionKey{OrderID: o.OrderID, Type: o.Type}
}

// RunSnapshot это сводка одного запуска, хранимая во внешнем Run Store.
// Снапшоты только дописываются и никогда не переписываются.
type RunSnapshot struct {
	RunID          string             `json:"run_id"`
	WorkspaceID    string             `json:"workspace_id"`
	AsOf           time.Time          `json:"as_of"`
	PriorRunID     string             `json:"prior_run_id,omitempty"`
	Summary        map[string]float64 `json:"summary"`
	OpenExceptions []OpenException    `json:"open_exceptions,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Validate проверяет обязательные поля перед записью.
func (s RunSnapshot) Validate() error {
	switch {
	case s.RunID == "":
		return ErrRunIDRequired
	case s.WorkspaceID == "":
		return ErrWorkspaceRequired
	case s.AsOf.IsZero():
		return ErrAsOfRequired
	}
	return nil
}

// Clone возвращает глубокую копию снапшота.
func (s RunSnapshot) Clone() RunSnapshot {
	out := s
	if s.Summary != nil {
		out.Summary = make(map[string]float64, len(s.Summary))
		for k, v := range s.Summary {
			out.Summary[k] = v
		}
	}
	if s.OpenExceptions != nil {
		out.OpenExceptions = append([]OpenException(nil), s.OpenExceptions...)
	}
	return out
}

// OpenIndex строит индекс открытых исключений по ключу (order, type).
func (s RunSnapshot) OpenIndex() map[ExceptionKey]OpenException {
	idx := make(map[ExceptionKey]OpenException, len(s.OpenExceptions))
	for _, o := range s.OpenExceptions {
		idx[o.Key()] = o
	}
	return idx
}

// SummaryKeys возвращает отсортированные имена метрик сводки.
func (s RunSnapshot) SummaryKeys() []string {
	keys := make([]string, 0, len(s.Summary))
	for k := range s.Summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Trend это разница метрики между текущим и предыдущим запуском.
// Previous и Delta равны nil, если базы для сравнения нет.
type Trend struct {
	Metric   string   `json:"metric"`
	Current  float64  `json:"current"`
	Previous *float64 `json:"previous"`
	Delta    *float64 `json:"delta"`
}

// HasBaseline сообщает, есть ли значение из прошлого запуска.
func (t Trend) HasBaseline() bool { return t.Delta != nil }

// EscalationBucket это корзина эскалации открытого заказа относительно дедлайна отгрузки.
type EscalationBucket string

const (
	BucketEscalate     EscalationBucket = "ESCALATE"
	BucketFirmFollowUp EscalationBucket = "FIRM_FOLLOW_UP"
	BucketAtRisk       EscalationBucket = "AT_RISK"
	BucketReminder     EscalationBucket = "REMINDER"
	BucketOnTrack      EscalationBucket = "ON_TRACK"
	BucketUnknown      EscalationBucket = "UNKNOWN"
)

// Severity возвращает порядок корзины; чем больше, тем хуже.
func (b EscalationBucket) Severity() int {
	switch b {
	case BucketEscalate:
		return 5
	case BucketFirmFollowUp:
		return 4
	case BucketAtRisk:
		return 3
	case BucketReminder:
		return 2
	case BucketOnTrack:
		return 1
	default:
		return 0
	}
}

// SupplierScorecard это агрегат исключений одного поставщика за запуск.
type SupplierScorecard struct {
	RunID            string                   `json:"run_id"`
	SupplierID       string                   `json:"supplier_id"`
	TotalOrders      int                      `json:"total_orders"`
	ExceptionOrders  int                      `json:"exception_orders"`
	ExceptionCount   int                      `json:"exception_count"`
	ByType           map[ExceptionType]int    `json:"by_type"`
	ByUrgency        map[Urgency]int          `json:"by_urgency"`
	OnTimeRate       float64                  `json:"on_time_rate"`
	ExceptionRate    float64                  `json:"exception_rate"`
	NonResponseCount int                      `json:"non_response_count"`
	Buckets          map[EscalationBucket]int `json:"buckets"`
	WorstBucket      EscalationBucket         `json:"worst_bucket"`
	PainScore        float64                  `json:"pain_score"`
}

// SupplierFollowup это черновик обращения к поставщику (не отправляется).
type SupplierFollowup struct {
	SupplierID string   `json:"supplier_id"`
	OrderIDs   []string `json:"order_ids"`
	Urgency    Urgency  `json:"urgency"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// ImpactCategory это то, как проблема заказа выглядит для покупателя.
type ImpactCategory string

const (
	ImpactTrackingMissing  ImpactCategory = "Tracking missing"
	ImpactShippingDelay    ImpactCategory = "Shipping delay risk"
	ImpactPartialShipment  ImpactCategory = "Partial shipment / mismatch"
	ImpactCarrierException ImpactCategory = "Carrier exception"
	ImpactNeedsReview      ImpactCategory = "Needs review"
)

// CustomerImpact это строка представления "что сказать покупателю" по проблемному
// заказу вместе с черновиком письма (не отправляется).
type CustomerImpact struct {
	OrderID            string          `json:"order_id"`
	CustomerRef        string          `json:"customer_ref,omitempty"`
	DestinationCountry string          `json:"destination_country,omitempty"`
	SupplierRef        string          `json:"supplier_ref,omitempty"`
	Urgency            Urgency         `json:"urgency"`
	Category           ImpactCategory  `json:"impact_type"`
	ExceptionTypes     []ExceptionType `json:"exception_types"`
	DirectConsumer     bool            `json:"direct_to_consumer"`
	Message            string          `json:"message_draft"`
	Subject            string          `json:"subject"`
	Body               string          `json:"body"`
}

// RunResult это полный результат одного запуска движка.
type RunResult struct {
	RunID       string                       `json:"run_id"`
	WorkspaceID string                       `json:"workspace_id"`
	AsOf        time.Time                    `json:"as_of"`
	Exceptions  []Exception                  `json:"exceptions"`
	Orders      []OrderOutcome               `json:"orders"`
	Scorecards  map[string]SupplierScorecard `json:"scorecards"`
	Followups   []SupplierFollowup           `json:"followups"`
	// CustomerImpact упорядочен по срочности и ограничен CustomerImpactMaxItems.
	CustomerImpact []CustomerImpact `json:"customer_impact"`
	Snapshot       RunSnapshot      `json:"snapshot"`
	Trends         []Trend          `json:"trends"`
	Anomalies      []Anomaly        `json:"anomalies"`
	Diagnostics    []Diagnostic     `json:"diagnostics"`
}
