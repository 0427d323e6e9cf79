// Package resolve сопоставляет отгрузки и трекинг с заказами цепочкой матчеров.
package resolve

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// Options это параметры нечёткого сопоставления.
type Options struct {
	// ItemTolerance это допустимая разница количества позиций.
	ItemTolerance int
	// FuzzyWindowDays задаёт, сколько дней после даты заказа допускается дата отгрузки.
	FuzzyWindowDays int
}

// Resolution это результат сопоставления одного запуска.
type Resolution struct {
	// Views содержит по одному элементу на заказ, в порядке входного фида.
	Views           []domain.JoinedOrderView
	OrphanShipments []domain.Shipment
	OrphanTracking  []domain.TrackingEvent
	// Anomalies отсортированы по (kind, feed, record id).
	Anomalies []domain.Anomaly
}

// Resolver хранит упорядоченные цепочки матчеров; первый успешный матчер побеждает.
type Resolver struct {
	shipmentChain []shipmentMatcher
	trackingChain []trackingMatcher
}

type shipmentMatcher struct {
	kind domain.MatchKind
	find func(idx *index, s domain.Shipment) []int
}

type trackingMatcher struct {
	kind domain.MatchKind
	// viaShipment: true, если кандидаты это индексы отгрузок, иначе индексы заказов.
	viaShipment bool
	find        func(idx *index, ev domain.TrackingEvent) []int
}

// New собирает резолвер со встроенными цепочками.
func New(opts Options) *Resolver {
	return &Resolver{
		shipmentChain: []shipmentMatcher{
			{kind: domain.MatchExact, find: exactShipmentOrder},
			{kind: domain.MatchNormalized, find: normalizedShipmentOrder},
			{kind: domain.MatchFuzzy, find: fuzzyShipmentOrder(opts)},
		},
		trackingChain: []trackingMatcher{
			{kind: domain.MatchExact, viaShipment: true, find: byShipmentRef(false)},
			{kind: domain.MatchNormalized, viaShipment: true, find: byShipmentRef(true)},
			{kind: domain.MatchExact, viaShipment: true, find: byTrackingNumber(false)},
			{kind: domain.MatchNormalized, viaShipment: true, find: byTrackingNumber(true)},
			{kind: domain.MatchExact, find: byOrderRef(false)},
			{kind: domain.MatchNormalized, find: byOrderRef(true)},
		},
	}
}

// Resolve строит представления заказов. Входные срезы не изменяются.
func (r *Resolver) Resolve(orders []domain.Order, shipments []domain.Shipment, tracking []domain.TrackingEvent) Resolution {
	idx := newIndex(orders, shipments)

	views := make([]domain.JoinedOrderView, len(orders))
	for i, o := range orders {
		views[i] = domain.JoinedOrderView{Order: o}
	}

	var res Resolution

	// shipmentOrder отображает индекс отгрузки в индекс заказа, -1 если не присоединена.
	shipmentOrder := make([]int, len(shipments))
	for si, s := range shipments {
		shipmentOrder[si] = -1
		for _, m := range r.shipmentChain {
			candidates := m.find(idx, s)
			if len(candidates) == 0 {
				continue
			}
			if len(candidates) > 1 {
				res.Anomalies = append(res.Anomalies, domain.Anomaly{
					Kind:     domain.AnomalyConflictingMatch,
					Feed:     domain.FeedShipments,
					RecordID: s.ID,
					OrderIDs: orderIDs(orders, candidates),
					Detail:   fmt.Sprintf("%s match found %d orders; shipment excluded", m.kind, len(candidates)),
				})
				idx.excluded[si] = true
				break
			}

			oi := candidates[0]
			shipmentOrder[si] = oi
			v := &views[oi]
			v.Shipments = append(v.Shipments, s)
			v.Match = mergeMatch(v.Match, m.kind)
			if m.kind == domain.MatchFuzzy {
				v.FuzzyMatch = true
				res.Anomalies = append(res.Anomalies, domain.Anomaly{
					Kind:     domain.AnomalyFuzzyMatch,
					Feed:     domain.FeedShipments,
					RecordID: s.ID,
					OrderIDs: []string{orders[oi].ID},
					Detail:   "matched by supplier, item count and ship date proximity",
				})
			}
			break
		}
		if shipmentOrder[si] < 0 && !idx.excluded[si] {
			res.OrphanShipments = append(res.OrphanShipments, s)
			res.Anomalies = append(res.Anomalies, domain.Anomaly{
				Kind:     domain.AnomalyOrphanShipment,
				Feed:     domain.FeedShipments,
				RecordID: s.ID,
				Detail:   orphanDetail("order_ref", s.OrderRef),
			})
		}
	}

	for _, ev := range tracking {
		oi, shipmentID, kind, ok := r.resolveTracking(idx, shipmentOrder, orders, ev, &res)
		if !ok {
			continue
		}
		ev.MatchedShipmentID = shipmentID
		v := &views[oi]
		v.Tracking = append(v.Tracking, ev)
		v.Match = mergeMatch(v.Match, kind)
	}

	sort.SliceStable(res.Anomalies, func(i, j int) bool {
		a, b := res.Anomalies[i], res.Anomalies[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Feed != b.Feed {
			return a.Feed < b.Feed
		}
		return a.RecordID < b.RecordID
	})

	res.Views = views
	return res
}

// resolveTracking возвращает заказ и, если он однозначен, отгрузку события.
func (r *Resolver) resolveTracking(
	idx *index,
	shipmentOrder []int,
	orders []domain.Order,
	ev domain.TrackingEvent,
	res *Resolution,
) (int, string, domain.MatchKind, bool) {
	for _, m := range r.trackingChain {
		candidates := m.find(idx, ev)
		if len(candidates) == 0 {
			continue
		}

		if !m.viaShipment {
			if len(candidates) > 1 {
				res.Anomalies = append(res.Anomalies, conflictingTracking(ev, orderIDs(orders, candidates), m.kind))
				return 0, "", m.kind, false
			}
			return candidates[0], "", m.kind, true
		}

		orderSet := map[int]struct{}{}
		shipmentIDs := map[string]struct{}{}
		var unjoined []string
		for _, si := range candidates {
			oi := shipmentOrder[si]
			if oi < 0 {
				unjoined = append(unjoined, idx.shipments[si].ID)
				continue
			}
			orderSet[oi] = struct{}{}
			shipmentIDs[idx.shipments[si].ID] = struct{}{}
		}

		if len(orderSet) == 0 {
			res.OrphanTracking = append(res.OrphanTracking, ev)
			res.Anomalies = append(res.Anomalies, domain.Anomaly{
				Kind:     domain.AnomalyOrphanTracking,
				Feed:     domain.FeedTracking,
				RecordID: ev.TrackingNumber,
				Detail:   fmt.Sprintf("shipment %s is not joined to any order", strings.Join(uniqueSorted(unjoined), ", ")),
			})
			return 0, "", m.kind, false
		}
		if len(orderSet) > 1 {
			ois := make([]int, 0, len(orderSet))
			for oi := range orderSet {
				ois = append(ois, oi)
			}
			res.Anomalies = append(res.Anomalies, conflictingTracking(ev, orderIDs(orders, ois), m.kind))
			return 0, "", m.kind, false
		}

		var oi int
		for k := range orderSet {
			oi = k
		}
		shipmentID := ""
		if len(shipmentIDs) == 1 {
			for id := range shipmentIDs {
				shipmentID = id
			}
		}
		return oi, shipmentID, m.kind, true
	}

	res.OrphanTracking = append(res.OrphanTracking, ev)
	res.Anomalies = append(res.Anomalies, domain.Anomaly{
		Kind:     domain.AnomalyOrphanTracking,
		Feed:     domain.FeedTracking,
		RecordID: ev.TrackingNumber,
		Detail:   orphanDetail("shipment_ref", ev.ShipmentRef),
	})
	return 0, "", domain.MatchNone, false
}

func conflictingTracking(ev domain.TrackingEvent, ids []string, kind domain.MatchKind) domain.Anomaly {
	return domain.Anomaly{
		Kind:     domain.AnomalyConflictingMatch,
		Feed:     domain.FeedTracking,
		RecordID: ev.TrackingNumber,
		OrderIDs: ids,
		Detail:   fmt.Sprintf("%s match found %d orders; event excluded", kind, len(ids)),
	}
}

func mergeMatch(current, next domain.MatchKind) domain.MatchKind {
	if current == domain.MatchNone {
		return next
	}
	return current.Weaker(next)
}

func orphanDetail(field, value string) string {
	if value == "" {
		return field + " is empty"
	}
	return fmt.Sprintf("no order matches %s %q", field, value)
}

// index это поисковые структуры одного запуска.
type index struct {
	orders    []domain.Order
	shipments []domain.Shipment

	orderByID  map[string][]int
	orderByKey map[string][]int

	shipmentByID          map[string][]int
	shipmentByKey         map[string][]int
	shipmentByTracking    map[string][]int
	shipmentByTrackingKey map[string][]int

	excluded map[int]bool
}

func newIndex(orders []domain.Order, shipments []domain.Shipment) *index {
	idx := &index{
		orders:                orders,
		shipments:             shipments,
		orderByID:             make(map[string][]int, len(orders)),
		orderByKey:            make(map[string][]int, len(orders)),
		shipmentByID:          make(map[string][]int, len(shipments)),
		shipmentByKey:         make(map[string][]int, len(shipments)),
		shipmentByTracking:    make(map[string][]int, len(shipments)),
		shipmentByTrackingKey: make(map[string][]int, len(shipments)),
		excluded:              map[int]bool{},
	}
	for i, o := range orders {
		idx.orderByID[o.ID] = append(idx.orderByID[o.ID], i)
		if key := domain.JoinKey(o.ID); key != "" {
			idx.orderByKey[key] = append(idx.orderByKey[key], i)
		}
	}
	for i, s := range shipments {
		idx.shipmentByID[s.ID] = append(idx.shipmentByID[s.ID], i)
		if key := domain.JoinKey(s.ID); key != "" {
			idx.shipmentByKey[key] = append(idx.shipmentByKey[key], i)
		}
		if s.TrackingNumber != "" {
			idx.shipmentByTracking[s.TrackingNumber] = append(idx.shipmentByTracking[s.TrackingNumber], i)
			if key := domain.JoinKey(s.TrackingNumber); key != "" {
				idx.shipmentByTrackingKey[key] = append(idx.shipmentByTrackingKey[key], i)
			}
		}
	}
	return idx
}

func exactShipmentOrder(idx *index, s domain.Shipment) []int {
	var out []int
	for _, ref := range domain.SplitRefs(s.OrderRef) {
		out = append(out, idx.orderByID[ref]...)
	}
	return uniqueInts(out)
}

func normalizedShipmentOrder(idx *index, s domain.Shipment) []int {
	var out []int
	for _, ref := range domain.SplitRefs(s.OrderRef) {
		if key := domain.JoinKey(ref); key != "" {
			out = append(out, idx.orderByKey[key]...)
		}
	}
	return uniqueInts(out)
}

func fuzzyShipmentOrder(opts Options) func(idx *index, s domain.Shipment) []int {
	return func(idx *index, s domain.Shipment) []int {
		supplier := domain.JoinKey(s.SupplierRef)
		if supplier == "" || !s.HasShipDate() {
			return nil
		}
		var out []int
		for i, o := range idx.orders {
			if !o.HasOrderDate() || domain.JoinKey(o.SupplierRef) != supplier {
				continue
			}
			if abs(s.ItemCount-o.LineItemCount) > opts.ItemTolerance {
				continue
			}
			days := daysBetween(o.OrderDate, s.ShipDate)
			if days < 0 || days > opts.FuzzyWindowDays {
				continue
			}
			out = append(out, i)
		}
		return out
	}
}

func byShipmentRef(normalized bool) func(idx *index, ev domain.TrackingEvent) []int {
	return func(idx *index, ev domain.TrackingEvent) []int {
		return lookupRefs(ev.ShipmentRef, normalized, idx.shipmentByID, idx.shipmentByKey)
	}
}

func byTrackingNumber(normalized bool) func(idx *index, ev domain.TrackingEvent) []int {
	return func(idx *index, ev domain.TrackingEvent) []int {
		if normalized {
			return uniqueInts(idx.shipmentByTrackingKey[domain.JoinKey(ev.TrackingNumber)])
		}
		return uniqueInts(idx.shipmentByTracking[ev.TrackingNumber])
	}
}

func byOrderRef(normalized bool) func(idx *index, ev domain.TrackingEvent) []int {
	return func(idx *index, ev domain.TrackingEvent) []int {
		return lookupRefs(ev.OrderRef, normalized, idx.orderByID, idx.orderByKey)
	}
}

func lookupRefs(ref string, normalized bool, byID, byKey map[string][]int) []int {
	var out []int
	for _, token := range domain.SplitRefs(ref) {
		if !normalized {
			out = append(out, byID[token]...)
			continue
		}
		if key := domain.JoinKey(token); key != "" {
			out = append(out, byKey[key]...)
		}
	}
	return uniqueInts(out)
}

// daysBetween возвращает разницу в календарных днях (UTC) между датами.
func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

func uniqueInts(in []int) []int {
	if len(in) < 2 {
		return in
	}
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func orderIDs(orders []domain.Order, indices []int) []string {
	ids := make([]string, 0, len(indices))
	for _, i := range indices {
		ids = append(ids, orders[i].ID)
	}
	return uniqueSorted(ids)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
