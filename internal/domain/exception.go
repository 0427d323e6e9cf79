package domain

import (
	"fmt"
	"strings"
	"time"
)

// Urgency упорядочена: Critical > High > Medium > Low.
type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyLow
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

var urgencyNames = map[Urgency]string{
	UrgencyNone:     "None",
	UrgencyLow:      "Low",
	UrgencyMedium:   "Medium",
	UrgencyHigh:     "High",
	UrgencyCritical: "Critical",
}

// Urgencies перечисляет значимые уровни от высшего к низшему.
func Urgencies() []Urgency {
	return []Urgency{UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow}
}

func (u Urgency) String() string {
	if name, ok := urgencyNames[u]; ok {
		return name
	}
	return fmt.Sprintf("Urgency(%d)", int(u))
}

// Escalate поднимает срочность на один уровень, не выше Critical.
func (u Urgency) Escalate() Urgency {
	if u >= UrgencyCritical {
		return UrgencyCritical
	}
	if u < UrgencyLow {
		return UrgencyLow
	}
	return u + 1
}

// MaxUrgency возвращает наибольшую срочность.
func MaxUrgency(a, b Urgency) Urgency {
	if a > b {
		return a
	}
	return b
}

// ParseUrgency разбирает имя уровня без учёта регистра.
func ParseUrgency(s string) (Urgency, error) {
	for u, name := range urgencyNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return u, nil
		}
	}
	return UrgencyNone, fmt.Errorf("unknown urgency %q", s)
}

func (u Urgency) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *Urgency) UnmarshalText(text []byte) error {
	parsed, err := ParseUrgency(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ExceptionType это тег правила в таксономии исключений.
type ExceptionType string

const (
	ExceptionLateShipment        ExceptionType = "LateShipment"
	ExceptionMissingTracking     ExceptionType = "MissingTracking"
	ExceptionPartialShipment     ExceptionType = "PartialShipment"
	ExceptionStalledTracking     ExceptionType = "StalledTracking"
	ExceptionCarrierException    ExceptionType = "CarrierException"
	ExceptionSupplierNonResponse ExceptionType = "SupplierNonResponse"
)

// ExceptionTypes перечисляет встроенные типы в порядке таксономии.
func ExceptionTypes() []ExceptionType {
	return []ExceptionType{
		ExceptionLateShipment,
		ExceptionMissingTracking,
		ExceptionPartialShipment,
		ExceptionStalledTracking,
		ExceptionCarrierException,
		ExceptionSupplierNonResponse,
	}
}

// Exception это обнаруженная операционная проблема по одному заказу.
// Идентичность: (RunID, OrderID, Type). После создания не изменяется.
type Exception struct {
	RunID          string        `json:"run_id"`
	OrderID        string        `json:"order_id"`
	Type           ExceptionType `json:"type"`
	Urgency        Urgency       `json:"urgency"`
	ReasonCodes    []string      `json:"reason_codes"`
	SupplierRef    string        `json:"supplier_ref,omitempty"`
	CustomerImpact bool          `json:"customer_impact"`
	DaysOverdue    int           `json:"days_overdue,omitempty"`
	FuzzyMatch     bool          `json:"fuzzy_match,omitempty"`
	// Explanation и NextAction это текст для оператора: что случилось и что делать дальше.
	Explanation string `json:"explanation"`
	NextAction  string `json:"next_action"`
}

// ExceptionKey это ключ исключения без привязки к запуску.
type ExceptionKey struct {
	OrderID string
	Type    ExceptionType
}

// Key возвращает ключ (order, type).
func (e Exception) Key() ExceptionKey {
	return ExceptionKey{OrderID: e.OrderID, Type: e.Type}
}

// LineStatus это статус исполнения заказа по данным отгрузок и трекинга.
type LineStatus string

const (
	LineStatusUnshipped        LineStatus = "UNSHIPPED"
	LineStatusPartiallyShipped LineStatus = "PARTIALLY_SHIPPED"
	LineStatusShipped          LineStatus = "SHIPPED"
	LineStatusDelivered        LineStatus = "DELIVERED"
)

// Open сообщает, ожидает ли заказ ещё действий от поставщика.
func (s LineStatus) Open() bool {
	return s == LineStatusUnshipped || s == LineStatusPartiallyShipped
}

// OrderOutcome это итог классификации одного заказа.
type OrderOutcome struct {
	OrderID            string     `json:"order_id"`
	CustomerRef        string     `json:"customer_ref,omitempty"`
	DestinationCountry string     `json:"destination_country,omitempty"`
	SupplierRef        string     `json:"supplier_ref,omitempty"`
	LineStatus         LineStatus `json:"line_status"`
	// Urgency это максимум по всем исключениям заказа (UrgencyNone, если их нет).
	Urgency        Urgency         `json:"urgency"`
	ExceptionTypes []ExceptionType `json:"exception_types,omitempty"`
	Late           bool            `json:"late"`
	// DueDate это дата отгрузки по SLA; она нулевая, если дата заказа неизвестна.
	DueDate        time.Time `json:"due_date"`
	Match          MatchKind `json:"match,omitempty"`
	DirectConsumer bool      `json:"direct_to_consumer"`
}
