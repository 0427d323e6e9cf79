package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

var impactCategories = map[domain.ExceptionType]domain.ImpactCategory{
	domain.ExceptionMissingTracking:  domain.ImpactTrackingMissing,
	domain.ExceptionLateShipment:     domain.ImpactShippingDelay,
	domain.ExceptionStalledTracking:  domain.ImpactShippingDelay,
	domain.ExceptionPartialShipment:  domain.ImpactPartialShipment,
	domain.ExceptionCarrierException: domain.ImpactCarrierException,
}

// customerImpact строит по строке на проблемный заказ. Категория берётся у самого
// срочного базового исключения заказа; SupplierNonResponse категорию не задаёт.
func (a *Aggregator) customerImpact(in Input) []domain.CustomerImpact {
	outcomes := make(map[string]domain.OrderOutcome, len(in.Orders))
	for _, o := range in.Orders {
		outcomes[o.OrderID] = o
	}

	byOrder := map[string]*domain.CustomerImpact{}
	categoryUrgency := map[string]domain.Urgency{}
	var order []string
	for _, e := range in.Exceptions {
		item, ok := byOrder[e.OrderID]
		if !ok {
			oc := outcomes[e.OrderID]
			item = &domain.CustomerImpact{
				OrderID:            e.OrderID,
				CustomerRef:        oc.CustomerRef,
				DestinationCountry: oc.DestinationCountry,
				SupplierRef:        e.SupplierRef,
				DirectConsumer:     oc.DirectConsumer,
			}
			byOrder[e.OrderID] = item
			order = append(order, e.OrderID)
		}
		item.ExceptionTypes = append(item.ExceptionTypes, e.Type)
		item.Urgency = domain.MaxUrgency(item.Urgency, e.Urgency)
		if e.Type == domain.ExceptionSupplierNonResponse {
			continue
		}
		if item.Category == "" || e.Urgency > categoryUrgency[e.OrderID] {
			item.Category = categoryOf(e.Type)
			categoryUrgency[e.OrderID] = e.Urgency
		}
	}

	out := make([]domain.CustomerImpact, 0, len(order))
	for _, id := range order {
		item := byOrder[id]
		if item.Category == "" {
			item.Category = domain.ImpactNeedsReview
		}
		item.Message = customerMessage(item.Category, id)
		item.Subject = fmt.Sprintf("Update on your order %s", id)
		item.Body = customerEmailBody(id, item.Category)
		out = append(out, *item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Urgency != out[j].Urgency {
			return out[i].Urgency > out[j].Urgency
		}
		return out[i].OrderID < out[j].OrderID
	})
	if len(out) > a.cfg.CustomerImpactMaxItems {
		out = out[:a.cfg.CustomerImpactMaxItems]
	}
	return out
}

func categoryOf(t domain.ExceptionType) domain.ImpactCategory {
	if c, ok := impactCategories[t]; ok {
		return c
	}
	return domain.ImpactNeedsReview
}

func customerMessage(c domain.ImpactCategory, orderID string) string {
	switch c {
	case domain.ImpactTrackingMissing:
		return fmt.Sprintf("Hi! Quick update on your order %s. We're confirming tracking details and will send tracking as soon as it's available.", orderID)
	case domain.ImpactShippingDelay:
		return fmt.Sprintf("Hi! Your order %s may be delayed due to supplier timing. We're working to confirm the updated ship date and will update you shortly.", orderID)
	case domain.ImpactCarrierException:
		return fmt.Sprintf("Hi! We're seeing a carrier issue on order %s. We're investigating and will follow up with the next steps ASAP.", orderID)
	case domain.ImpactPartialShipment:
		return fmt.Sprintf("Hi! Part of order %s may ship separately. We'll send an update with the remaining shipment details shortly.", orderID)
	}
	return fmt.Sprintf("Hi! Quick update on order %s. We're checking status and will follow up soon.", orderID)
}

func customerEmailBody(orderID string, c domain.ImpactCategory) string {
	var b strings.Builder
	b.WriteString("Hi there,\n\n")
	fmt.Fprintf(&b, "We're reaching out with an update on your order %s.\n\n", orderID)
	fmt.Fprintf(&b, "Update: %s.\n\n", c)
	b.WriteString("What we're doing next:\n")
	b.WriteString("- We've contacted the supplier/carrier and requested an immediate status update.\n")
	b.WriteString("- We're monitoring the shipment and will keep you updated as soon as we have confirmed details.\n")
	b.WriteString("- If we cannot confirm progress quickly, we will offer next steps (replacement, refund, or alternative).\n\n")
	b.WriteString("Thank you for your patience. We'll follow up again soon.\n\n")
	b.WriteString("Best,\n")
	return b.String()
}
