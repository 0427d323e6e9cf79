package classify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/config"
	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// Input это всё, что нужно для классификации одного запуска.
type Input struct {
	RunID               string
	AsOf                time.Time
	Views               []domain.JoinedOrderView
	TrackingFeedPresent bool
	// Prior это последний сохранённый снапшот workspace, nil если истории нет.
	Prior *domain.RunSnapshot
}

// Output это исключения, итоги по заказам и открытые исключения для следующего снапшота.
type Output struct {
	// Exceptions отсортированы: срочность по убыванию, order id, порядок таксономии.
	Exceptions []domain.Exception
	// Orders содержит по одному элементу на заказ, в порядке входа.
	Orders []domain.OrderOutcome
	// Open это базовые исключения запуска со счётчиком подряд идущих запусков.
	Open []domain.OpenException
}

// Classifier применяет реестр правил к каждому представлению заказа.
type Classifier struct {
	cfg      config.Config
	registry *Registry
}

// New создаёт классификатор; nil-реестр заменяется встроенным.
func New(cfg config.Config, registry *Registry) *Classifier {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Classifier{cfg: cfg, registry: registry}
}

// Registry возвращает реестр правил классификатора.
func (c *Classifier) Registry() *Registry { return c.registry }

// Classify детерминирован: одинаковый вход даёт одинаковый выход.
func (c *Classifier) Classify(in Input) Output {
	ctx := Context{AsOf: in.AsOf, Config: c.cfg, TrackingFeedPresent: in.TrackingFeedPresent}

	var priorOpen map[domain.ExceptionKey]domain.OpenException
	if in.Prior != nil {
		priorOpen = in.Prior.OpenIndex()
	}

	out := Output{Orders: make([]domain.OrderOutcome, 0, len(in.Views))}
	for _, view := range in.Views {
		supplier := supplierOf(view)
		var orderExceptions []domain.Exception
		var persisting []domain.OpenException

		for _, e := range c.registry.entries {
			f, ok := e.rule.Evaluate(view, ctx)
			if !ok {
				continue
			}
			if f.Explanation == "" {
				f.Explanation = explain(e.typ, view, ctx, supplier, f)
			}
			exc := c.newException(in.RunID, view, supplier, e.typ, f)
			orderExceptions = append(orderExceptions, exc)

			open := domain.OpenException{
				OrderID:     exc.OrderID,
				Type:        exc.Type,
				Urgency:     exc.Urgency,
				SupplierRef: supplier,
				Streak:      1,
			}
			// Эскалация опирается только на историю: прошлый запуск должен был
			// видеть исключение открытым не меньше NonResponseRuns запусков.
			if prev, ok := priorOpen[exc.Key()]; ok {
				open.Streak = prev.Streak + 1
				if prev.Streak >= c.cfg.NonResponseRuns {
					persisting = append(persisting, open)
				}
			}
			out.Open = append(out.Open, open)
		}

		if nr, ok := c.nonResponse(in.RunID, view, supplier, persisting); ok {
			orderExceptions = append(orderExceptions, nr)
		}

		out.Exceptions = append(out.Exceptions, orderExceptions...)
		out.Orders = append(out.Orders, c.outcome(view, ctx, supplier, orderExceptions))
	}

	sort.SliceStable(out.Exceptions, func(i, j int) bool {
		a, b := out.Exceptions[i], out.Exceptions[j]
		if a.Urgency != b.Urgency {
			return a.Urgency > b.Urgency
		}
		if a.OrderID != b.OrderID {
			return a.OrderID < b.OrderID
		}
		return c.registry.rank(a.Type) < c.registry.rank(b.Type)
	})
	sort.SliceStable(out.Open, func(i, j int) bool {
		a, b := out.Open[i], out.Open[j]
		if a.OrderID != b.OrderID {
			return a.OrderID < b.OrderID
		}
		return c.registry.rank(a.Type) < c.registry.rank(b.Type)
	})
	return out
}

func (c *Classifier) newException(runID string, view domain.JoinedOrderView, supplier string, typ domain.ExceptionType, f Finding) domain.Exception {
	nextAction := f.NextAction
	if nextAction == "" {
		nextAction = NextAction(typ)
	}
	return domain.Exception{
		RunID:          runID,
		OrderID:        view.Order.ID,
		Type:           typ,
		Urgency:        f.Urgency,
		ReasonCodes:    sortedReasons(f.ReasonCodes),
		SupplierRef:    supplier,
		CustomerImpact: f.CustomerImpact,
		DaysOverdue:    f.DaysOverdue,
		FuzzyMatch:     view.FuzzyMatch,
		Explanation:    f.Explanation,
		NextAction:     nextAction,
	}
}

// nonResponse строит одно SupplierNonResponse на заказ, если базовые исключения
// были открыты в прошлом снапшоте NonResponseRuns запусков подряд и остаются
// открытыми сейчас. Срочность на уровень выше худшего из них.
func (c *Classifier) nonResponse(runID string, view domain.JoinedOrderView, supplier string, persisting []domain.OpenException) (domain.Exception, bool) {
	if len(persisting) == 0 {
		return domain.Exception{}, false
	}

	worst := domain.UrgencyNone
	streak := 0
	reasons := make([]string, 0, len(persisting)+2)
	for _, p := range persisting {
		worst = domain.MaxUrgency(worst, p.Urgency)
		if p.Streak > streak {
			streak = p.Streak
		}
		reasons = append(reasons, ReasonUnresolvedPrefix+strings.ToUpper(toSnake(string(p.Type))))
	}
	reasons = append(reasons, fmt.Sprintf("%s%d", ReasonConsecutiveRunsPrefix, streak))

	impact := IsDirectToConsumer(view.Order, c.cfg)
	if impact {
		reasons = append(reasons, ReasonDirectToConsumer)
	}

	return c.newException(runID, view, supplier, domain.ExceptionSupplierNonResponse, Finding{
		Urgency:        worst.Escalate(),
		ReasonCodes:    reasons,
		CustomerImpact: impact,
		Explanation:    explainNonResponse(view.Order.ID, streak, persisting),
	}), true
}

func (c *Classifier) outcome(view domain.JoinedOrderView, ctx Context, supplier string, exceptions []domain.Exception) domain.OrderOutcome {
	oc := domain.OrderOutcome{
		OrderID:            view.Order.ID,
		CustomerRef:        view.Order.CustomerRef,
		DestinationCountry: view.Order.DestinationCountry,
		SupplierRef:        supplier,
		LineStatus:         lineStatus(view),
		DueDate:            DueDate(view, ctx),
		Match:              view.Match,
		DirectConsumer:     IsDirectToConsumer(view.Order, c.cfg),
	}
	for _, e := range exceptions {
		oc.Urgency = domain.MaxUrgency(oc.Urgency, e.Urgency)
		oc.ExceptionTypes = append(oc.ExceptionTypes, e.Type)
		if e.Type == domain.ExceptionLateShipment {
			oc.Late = true
		}
	}
	return oc
}

// lineStatus определяет статус исполнения заказа.
func lineStatus(view domain.JoinedOrderView) domain.LineStatus {
	if len(view.Shipments) == 0 {
		return domain.LineStatusUnshipped
	}
	if view.ShippedItems() < view.Order.LineItemCount {
		return domain.LineStatusPartiallyShipped
	}
	for _, ev := range view.Tracking {
		if statusMatches(ev.Status, []string{"delivered"}) {
			return domain.LineStatusDelivered
		}
	}
	return domain.LineStatusShipped
}

// supplierOf берёт поставщика из заказа, иначе из первой отгрузки с поставщиком.
func supplierOf(view domain.JoinedOrderView) string {
	if view.Order.SupplierRef != "" {
		return view.Order.SupplierRef
	}
	for _, s := range view.Shipments {
		if s.SupplierRef != "" {
			return s.SupplierRef
		}
	}
	return ""
}

func sortedReasons(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// toSnake переводит CamelCase в SNAKE_CASE для кодов причин.
func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return b.String()
}
