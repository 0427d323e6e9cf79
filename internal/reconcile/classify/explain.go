package classify

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// Следующие шаги по типам исключений.
var nextActions = map[domain.ExceptionType]string{
	domain.ExceptionLateShipment:        "Escalate to supplier; request tracking within 24h.",
	domain.ExceptionMissingTracking:     "Request tracking number + carrier today.",
	domain.ExceptionPartialShipment:     "Request remainder ETA + tracking.",
	domain.ExceptionStalledTracking:     "Open a carrier trace; ask supplier to confirm the delivery ETA.",
	domain.ExceptionCarrierException:    "Contact carrier + supplier; decide reship/refund.",
	domain.ExceptionSupplierNonResponse: "Escalate to supplier account manager; send the customer an update today.",
}

const defaultNextAction = "Review order details."

// NextAction возвращает рекомендуемый шаг для типа исключения.
func NextAction(t domain.ExceptionType) string {
	if a, ok := nextActions[t]; ok {
		return a
	}
	return defaultNextAction
}

// explain строит пояснение для встроенных правил. Для неизвестных типов
// пояснение общее, если правило не задало своё.
func explain(typ domain.ExceptionType, view domain.JoinedOrderView, ctx Context, supplier string, f Finding) string {
	o := view.Order
	switch typ {
	case domain.ExceptionLateShipment:
		lead, _ := leadTime(view, ctx)
		return fmt.Sprintf("Order %s is %d day(s) old and still not shipped (SLA %d days).",
			o.ID, daysSince(o.OrderDate, ctx.AsOf), lead)
	case domain.ExceptionMissingTracking:
		return fmt.Sprintf("Order %s appears shipped but tracking is missing or invalid. Request carrier + tracking from %s.",
			o.ID, orUnknown(supplier, "the supplier"))
	case domain.ExceptionPartialShipment:
		return fmt.Sprintf("Order %s is partially shipped (%d/%d).", o.ID, view.ShippedItems(), o.LineItemCount)
	case domain.ExceptionStalledTracking:
		return fmt.Sprintf("Order %s has had no tracking update for %d day(s).",
			o.ID, f.DaysOverdue+ctx.Config.StaleTrackingDays)
	case domain.ExceptionCarrierException:
		carrier, tracking := carrierIssue(view, ctx)
		return fmt.Sprintf("Order %s has a carrier exception. Carrier: %s. Tracking: %s.",
			o.ID, orUnknown(carrier, "unknown"), orUnknown(tracking, "unknown"))
	}
	return fmt.Sprintf("Order %s needs review.", o.ID)
}

// carrierIssue находит событие с исключением перевозчика и перевозчика его отгрузки.
func carrierIssue(view domain.JoinedOrderView, ctx Context) (carrier, tracking string) {
	for _, ev := range view.Tracking {
		if !statusMatches(ev.Status, ctx.Config.CarrierExceptionTerms) {
			continue
		}
		for _, s := range view.Shipments {
			if ev.MatchedShipmentID == "" || s.ID == ev.MatchedShipmentID {
				return s.Carrier, ev.TrackingNumber
			}
		}
		return "", ev.TrackingNumber
	}
	return "", ""
}

func explainNonResponse(orderID string, streak int, persisting []domain.OpenException) string {
	types := make([]string, 0, len(persisting))
	for _, p := range persisting {
		types = append(types, string(p.Type))
	}
	return fmt.Sprintf("Order %s has stayed open for %d consecutive runs without a supplier update (%s).",
		orderID, streak, strings.Join(types, ", "))
}

func orUnknown(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
