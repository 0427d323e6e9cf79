// Package classify оценивает представления заказов по таксономии правил исключений.
package classify

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/config"
	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// Context это неизменяемые параметры оценки одного запуска.
type Context struct {
	AsOf   time.Time
	Config config.Config
	// TrackingFeedPresent истинно, если во входе был хотя бы один ряд трекинга.
	TrackingFeedPresent bool
}

// Finding это срабатывание правила по одному заказу.
type Finding struct {
	Urgency        domain.Urgency
	ReasonCodes    []string
	DaysOverdue    int
	CustomerImpact bool
	// Explanation и NextAction необязательны; пустые заполняет классификатор.
	Explanation string
	NextAction  string
}

// Rule это чистый предикат над представлением заказа и датой as-of.
type Rule interface {
	Evaluate(view domain.JoinedOrderView, ctx Context) (Finding, bool)
}

// RuleFunc адаптирует функцию к Rule.
type RuleFunc func(view domain.JoinedOrderView, ctx Context) (Finding, bool)

func (f RuleFunc) Evaluate(view domain.JoinedOrderView, ctx Context) (Finding, bool) {
	return f(view, ctx)
}

type entry struct {
	typ  domain.ExceptionType
	rule Rule
}

// Registry это открытый реестр правил по тегу типа. Порядок регистрации задаёт
// порядок таксономии при сортировке исключений.
type Registry struct {
	entries []entry
	index   map[domain.ExceptionType]int
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{index: map[domain.ExceptionType]int{}}
}

// DefaultRegistry возвращает реестр со встроенными правилами.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(domain.ExceptionLateShipment, RuleFunc(LateShipment))
	r.MustRegister(domain.ExceptionMissingTracking, RuleFunc(MissingTracking))
	r.MustRegister(domain.ExceptionPartialShipment, RuleFunc(PartialShipment))
	r.MustRegister(domain.ExceptionStalledTracking, RuleFunc(StalledTracking))
	r.MustRegister(domain.ExceptionCarrierException, RuleFunc(CarrierException))
	return r
}

// Register добавляет правило. SupplierNonResponse зарезервирован за проходом по истории.
func (r *Registry) Register(typ domain.ExceptionType, rule Rule) error {
	if typ == "" || rule == nil {
		return fmt.Errorf("register rule: type and rule are required")
	}
	if typ == domain.ExceptionSupplierNonResponse {
		return fmt.Errorf("register %s: %w", typ, domain.ErrDuplicateRule)
	}
	if _, ok := r.index[typ]; ok {
		return fmt.Errorf("register %s: %w", typ, domain.ErrDuplicateRule)
	}
	r.index[typ] = len(r.entries)
	r.entries = append(r.entries, entry{typ: typ, rule: rule})
	return nil
}

// MustRegister как Register, но паникует при ошибке.
func (r *Registry) MustRegister(typ domain.ExceptionType, rule Rule) {
	if err := r.Register(typ, rule); err != nil {
		panic(err)
	}
}

// Types возвращает зарегистрированные типы в порядке таксономии.
func (r *Registry) Types() []domain.ExceptionType {
	out := make([]domain.ExceptionType, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.typ)
	}
	return out
}

// rank возвращает позицию типа в таксономии; SupplierNonResponse всегда последний.
func (r *Registry) rank(typ domain.ExceptionType) int {
	if i, ok := r.index[typ]; ok {
		return i
	}
	return len(r.entries)
}
