package classify

import (
	"strings"
	"time"
	"unicode"

	"github.com/vladislavdragonenkov/reconciler/internal/config"
	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// Коды причин.
const (
	ReasonLateUnshipped         = "LATE_UNSHIPPED"
	ReasonSLAFromOrder          = "SLA_FROM_ORDER"
	ReasonSLAFromSupplier       = "SLA_FROM_SUPPLIER"
	ReasonSLADefault            = "SLA_DEFAULT"
	ReasonNoTrackingEvent       = "NO_TRACKING_EVENT"
	ReasonNoTrackingNumber      = "NO_TRACKING_NUMBER"
	ReasonShortShipped          = "SHORT_SHIPPED"
	ReasonClosedByOrderStatus   = "CLOSED_BY_ORDER_STATUS"
	ReasonClosedByShipment      = "CLOSED_BY_SHIPMENT_STATUS"
	ReasonTrackingStale         = "TRACKING_STALE"
	ReasonCarrierException      = "CARRIER_EXCEPTION"
	ReasonUnresolvedPrefix      = "UNRESOLVED_"
	ReasonDirectToConsumer      = "DIRECT_TO_CONSUMER"
	ReasonConsecutiveRunsPrefix = "OPEN_RUNS_"
)

// LateShipment срабатывает, когда отгрузок нет, а с даты заказа прошло больше lead time.
func LateShipment(view domain.JoinedOrderView, ctx Context) (Finding, bool) {
	o := view.Order
	if len(view.Shipments) > 0 || !o.HasOrderDate() {
		return Finding{}, false
	}

	lead, source := leadTime(view, ctx)
	overdue := daysSince(o.OrderDate, ctx.AsOf) - lead
	if overdue <= 0 {
		return Finding{}, false
	}

	urgency := domain.UrgencyMedium
	switch {
	case overdue >= ctx.Config.LateCriticalAfterDays:
		urgency = domain.UrgencyCritical
	case overdue >= ctx.Config.LateHighAfterDays:
		urgency = domain.UrgencyHigh
	}
	return Finding{
		Urgency:     urgency,
		ReasonCodes: []string{ReasonLateUnshipped, source},
		DaysOverdue: overdue,
	}, true
}

// MissingTracking срабатывает на отгрузку старше grace-периода без трекинга.
// Если фида трекинга нет вовсе, трек-номер в самой отгрузке считается трекингом.
func MissingTracking(view domain.JoinedOrderView, ctx Context) (Finding, bool) {
	cfg := ctx.Config
	var (
		found   bool
		worst   int
		noTrack bool
	)
	for _, s := range view.Shipments {
		if !s.HasShipDate() {
			continue
		}
		age := daysSince(s.ShipDate, ctx.AsOf)
		if age <= cfg.TrackingGraceDays {
			continue
		}
		if len(view.TrackingFor(s.ID)) > 0 {
			continue
		}
		if !ctx.TrackingFeedPresent && s.TrackingNumber != "" {
			continue
		}
		found = true
		if over := age - cfg.TrackingGraceDays; over > worst {
			worst = over
		}
		if s.TrackingNumber == "" {
			noTrack = true
		}
	}
	if !found {
		return Finding{}, false
	}

	urgency := domain.UrgencyMedium
	if worst > cfg.MissingTrackingHighAfterDays {
		urgency = domain.UrgencyHigh
	}
	reasons := []string{ReasonNoTrackingEvent}
	if noTrack {
		reasons = append(reasons, ReasonNoTrackingNumber)
	}
	return Finding{Urgency: urgency, ReasonCodes: reasons, DaysOverdue: worst}, true
}

// PartialShipment срабатывает, когда отгружено меньше, чем заказано, и заказ или отгрузка закрыты.
func PartialShipment(view domain.JoinedOrderView, ctx Context) (Finding, bool) {
	if len(view.Shipments) == 0 || view.ShippedItems() >= view.Order.LineItemCount {
		return Finding{}, false
	}

	var reasons []string
	if statusMatches(view.Order.Status, ctx.Config.ClosedStatuses) {
		reasons = append(reasons, ReasonClosedByOrderStatus)
	}
	for _, s := range view.Shipments {
		if statusMatches(s.Status, ctx.Config.ClosedStatuses) {
			reasons = append(reasons, ReasonClosedByShipment)
			break
		}
	}
	if len(reasons) == 0 {
		return Finding{}, false
	}
	return Finding{
		Urgency:     domain.UrgencyHigh,
		ReasonCodes: append([]string{ReasonShortShipped}, reasons...),
	}, true
}

// StalledTracking срабатывает, когда обновление трекинга старше порога и статус не терминальный.
func StalledTracking(view domain.JoinedOrderView, ctx Context) (Finding, bool) {
	cfg := ctx.Config
	worst := -1
	for _, ev := range view.Tracking {
		if !ev.HasLastUpdate() || statusMatches(ev.Status, cfg.TerminalStatuses) {
			continue
		}
		age := daysSince(ev.LastUpdate, ctx.AsOf)
		if age > cfg.StaleTrackingDays && age > worst {
			worst = age
		}
	}
	if worst < 0 {
		return Finding{}, false
	}

	urgency := domain.UrgencyMedium
	if worst > 2*cfg.StaleTrackingDays {
		urgency = domain.UrgencyHigh
	}
	return Finding{
		Urgency:     urgency,
		ReasonCodes: []string{ReasonTrackingStale},
		DaysOverdue: worst - cfg.StaleTrackingDays,
	}, true
}

// CarrierException срабатывает, когда перевозчик сообщил об исключении (потеря, повреждение, задержание).
func CarrierException(view domain.JoinedOrderView, ctx Context) (Finding, bool) {
	for _, ev := range view.Tracking {
		if statusMatches(ev.Status, ctx.Config.CarrierExceptionTerms) {
			return Finding{Urgency: domain.UrgencyHigh, ReasonCodes: []string{ReasonCarrierException}}, true
		}
	}
	return Finding{}, false
}

// leadTime возвращает lead time заказа и код его источника.
func leadTime(view domain.JoinedOrderView, ctx Context) (int, string) {
	o := view.Order
	return ctx.Config.LeadTimeFor(o.SupplierRef, o.PromisedShipDays), leadTimeSource(o, ctx.Config)
}

func leadTimeSource(o domain.Order, cfg config.Config) string {
	if o.PromisedShipDays > 0 {
		return ReasonSLAFromOrder
	}
	if _, ok := cfg.SupplierLeadTime(o.SupplierRef); ok {
		return ReasonSLAFromSupplier
	}
	return ReasonSLADefault
}

// DueDate возвращает дату отгрузки по SLA; она нулевая, если дата заказа неизвестна.
func DueDate(view domain.JoinedOrderView, ctx Context) time.Time {
	if !view.Order.HasOrderDate() {
		return time.Time{}
	}
	lead, _ := leadTime(view, ctx)
	return view.Order.OrderDate.AddDate(0, 0, lead)
}

// daysSince возвращает число полных суток от t до asOf.
func daysSince(t, asOf time.Time) int {
	return int(asOf.Sub(t) / (24 * time.Hour))
}

// statusMatches сравнивает статус с терминами по целым словам без учёта регистра:
// "Delivery Exception" совпадает с "exception", "unfulfilled" не совпадает с "fulfilled".
func statusMatches(status string, terms []string) bool {
	s := " " + words(status) + " "
	if s == "  " {
		return false
	}
	for _, term := range terms {
		t := words(term)
		if t != "" && strings.Contains(s, " "+t+" ") {
			return true
		}
	}
	return false
}

func words(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// IsDirectToConsumer сообщает, идёт ли заказ напрямую покупателю: по каналу продаж
// или по полю назначения. Голый код страны ни с одним термином не совпадает.
func IsDirectToConsumer(o domain.Order, cfg config.Config) bool {
	return statusMatches(o.Channel, cfg.DirectToConsumerChannels) ||
		statusMatches(o.DestinationCountry, cfg.DirectToConsumerDestinations)
}
