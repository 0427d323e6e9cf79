// Package aggregate сворачивает исключения запуска в скоркарды поставщиков,
// сводку снапшота и тренды относительно прошлого запуска.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/config"
	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// Имена метрик сводки.
const (
	MetricOrders                = "orders"
	MetricShipments             = "shipments"
	MetricTrackingEvents        = "tracking_events"
	MetricExceptions            = "exceptions"
	MetricExceptionOrders       = "exception_orders"
	MetricOrphanShipments       = "orphan_shipments"
	MetricOrphanTracking        = "orphan_tracking"
	MetricConflictingMatches    = "conflicting_matches"
	MetricFuzzyMatches          = "fuzzy_matches"
	MetricPctUnshipped          = "pct_unshipped"
	MetricPctLateUnshipped      = "pct_late_unshipped"
	MetricPctPartiallyShipped   = "pct_partially_shipped"
	MetricPctShippedOrDelivered = "pct_shipped_or_delivered"
	MetricPctDelivered          = "pct_delivered"

	typeMetricPrefix    = "exceptions."
	urgencyMetricPrefix = "urgency."
)

// TypeMetric это имя метрики количества исключений типа.
func TypeMetric(t domain.ExceptionType) string { return typeMetricPrefix + string(t) }

// UrgencyMetric это имя метрики количества исключений уровня.
func UrgencyMetric(u domain.Urgency) string { return urgencyMetricPrefix + u.String() }

// Counts это объёмы входа и результатов сопоставления.
type Counts struct {
	Orders          int
	Shipments       int
	TrackingEvents  int
	OrphanShipments int
	OrphanTracking  int
	Conflicts       int
	FuzzyMatches    int
}

// CountAnomalies подсчитывает аномалии резолвера по видам.
func CountAnomalies(c Counts, anomalies []domain.Anomaly) Counts {
	for _, a := range anomalies {
		switch a.Kind {
		case domain.AnomalyOrphanShipment:
			c.OrphanShipments++
		case domain.AnomalyOrphanTracking:
			c.OrphanTracking++
		case domain.AnomalyConflictingMatch:
			c.Conflicts++
		case domain.AnomalyFuzzyMatch:
			c.FuzzyMatches++
		}
	}
	return c
}

// Input это результат классификации плюс явный прошлый снапшот.
type Input struct {
	RunID       string
	WorkspaceID string
	AsOf        time.Time
	Exceptions  []domain.Exception
	Orders      []domain.OrderOutcome
	Open        []domain.OpenException
	Counts      Counts
	// Types это известные типы исключений; по ним всегда пишутся нулевые счётчики.
	Types []domain.ExceptionType
	Prior *domain.RunSnapshot
}

// Output это скоркарды, черновики писем, снапшот и тренды.
type Output struct {
	Scorecards     map[string]domain.SupplierScorecard
	Followups      []domain.SupplierFollowup
	CustomerImpact []domain.CustomerImpact
	Snapshot       domain.RunSnapshot
	Trends         []domain.Trend
}

// Aggregator работает как чистая функция от результатов запуска и прошлого снапшота.
type Aggregator struct {
	cfg config.Config
}

// New создаёт агрегатор.
func New(cfg config.Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Aggregate строит выход агрегатора.
func (a *Aggregator) Aggregate(in Input) Output {
	snapshot := domain.RunSnapshot{
		RunID:          in.RunID,
		WorkspaceID:    in.WorkspaceID,
		AsOf:           in.AsOf,
		Summary:        a.summary(in),
		OpenExceptions: append([]domain.OpenException(nil), in.Open...),
	}
	if in.Prior != nil {
		snapshot.PriorRunID = in.Prior.RunID
	}

	scorecards := a.scorecards(in)
	return Output{
		Scorecards:     scorecards,
		Followups:      a.followups(in, scorecards),
		CustomerImpact: a.customerImpact(in),
		Snapshot:       snapshot,
		Trends:         Trends(snapshot, in.Prior),
	}
}

// Trends считает разницу по каждой метрике объединения сводок (ключи по алфавиту).
// Без прошлого снапшота, как и для метрики, которой в нём нет, тренд: "no baseline".
func Trends(current domain.RunSnapshot, prior *domain.RunSnapshot) []domain.Trend {
	keys := map[string]struct{}{}
	for k := range current.Summary {
		keys[k] = struct{}{}
	}
	if prior != nil {
		for k := range prior.Summary {
			keys[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	trends := make([]domain.Trend, 0, len(names))
	for _, name := range names {
		tr := domain.Trend{Metric: name, Current: current.Summary[name]}
		if prior != nil {
			if prev, ok := prior.Summary[name]; ok {
				p := prev
				d := round(tr.Current-prev, 4)
				tr.Previous = &p
				tr.Delta = &d
			}
		}
		trends = append(trends, tr)
	}
	return trends
}

func (a *Aggregator) summary(in Input) map[string]float64 {
	s := map[string]float64{
		MetricOrders:             float64(in.Counts.Orders),
		MetricShipments:          float64(in.Counts.Shipments),
		MetricTrackingEvents:     float64(in.Counts.TrackingEvents),
		MetricExceptions:         float64(len(in.Exceptions)),
		MetricOrphanShipments:    float64(in.Counts.OrphanShipments),
		MetricOrphanTracking:     float64(in.Counts.OrphanTracking),
		MetricConflictingMatches: float64(in.Counts.Conflicts),
		MetricFuzzyMatches:       float64(in.Counts.FuzzyMatches),
	}
	for _, t := range in.Types {
		s[TypeMetric(t)] = 0
	}
	s[TypeMetric(domain.ExceptionSupplierNonResponse)] = 0
	for _, u := range domain.Urgencies() {
		s[UrgencyMetric(u)] = 0
	}
	for _, e := range in.Exceptions {
		s[TypeMetric(e.Type)]++
		s[UrgencyMetric(e.Urgency)]++
	}

	var exceptionOrders, unshipped, lateUnshipped, partial, shipped, delivered int
	for _, o := range in.Orders {
		if len(o.ExceptionTypes) > 0 {
			exceptionOrders++
		}
		switch o.LineStatus {
		case domain.LineStatusUnshipped:
			unshipped++
			if o.Late {
				lateUnshipped++
			}
		case domain.LineStatusPartiallyShipped:
			partial++
		case domain.LineStatusShipped:
			shipped++
		case domain.LineStatusDelivered:
			shipped++
			delivered++
		}
	}
	s[MetricExceptionOrders] = float64(exceptionOrders)
	total := len(in.Orders)
	s[MetricPctUnshipped] = pct(unshipped, total)
	s[MetricPctLateUnshipped] = pct(lateUnshipped, total)
	s[MetricPctPartiallyShipped] = pct(partial, total)
	s[MetricPctShippedOrDelivered] = pct(shipped, total)
	s[MetricPctDelivered] = pct(delivered, total)
	return s
}

func supplierKey(ref string) string {
	if ref == "" {
		return domain.UnassignedSupplier
	}
	return ref
}

func (a *Aggregator) scorecards(in Input) map[string]domain.SupplierScorecard {
	cards := map[string]*domain.SupplierScorecard{}
	card := func(id string) *domain.SupplierScorecard {
		c, ok := cards[id]
		if !ok {
			c = &domain.SupplierScorecard{
				RunID:      in.RunID,
				SupplierID: id,
				ByType:     map[domain.ExceptionType]int{},
				ByUrgency:  map[domain.Urgency]int{},
				Buckets:    map[domain.EscalationBucket]int{},
			}
			cards[id] = c
		}
		return c
	}

	late := map[string]int{}
	for _, o := range in.Orders {
		c := card(supplierKey(o.SupplierRef))
		c.TotalOrders++
		if len(o.ExceptionTypes) > 0 {
			c.ExceptionOrders++
		}
		if o.Late {
			late[c.SupplierID]++
		}
		if o.LineStatus.Open() {
			c.Buckets[a.bucket(o, in.AsOf)]++
		}
	}
	for _, e := range in.Exceptions {
		c := card(supplierKey(e.SupplierRef))
		c.ExceptionCount++
		c.ByType[e.Type]++
		c.ByUrgency[e.Urgency]++
		if e.Type == domain.ExceptionSupplierNonResponse {
			c.NonResponseCount++
		}
	}

	out := make(map[string]domain.SupplierScorecard, len(cards))
	for id, c := range cards {
		if c.TotalOrders > 0 {
			c.OnTimeRate = round(float64(c.TotalOrders-late[id])/float64(c.TotalOrders), 4)
			c.ExceptionRate = round(float64(c.ExceptionOrders)/float64(c.TotalOrders), 4)
		} else {
			c.OnTimeRate = 1
		}
		c.WorstBucket = worstBucket(c.Buckets)
		c.PainScore = painScore(c)
		out[id] = *c
	}
	return out
}

// bucket относит открытый заказ к корзине эскалации по времени до дедлайна.
func (a *Aggregator) bucket(o domain.OrderOutcome, asOf time.Time) domain.EscalationBucket {
	if o.DueDate.IsZero() {
		return domain.BucketUnknown
	}
	hoursLeft := o.DueDate.Sub(asOf).Hours()
	switch {
	case hoursLeft < -float64(a.cfg.EscalateAfterDays*24):
		return domain.BucketEscalate
	case hoursLeft < 0:
		return domain.BucketFirmFollowUp
	case hoursLeft <= float64(a.cfg.AtRiskHours):
		return domain.BucketAtRisk
	case hoursLeft <= float64(a.cfg.ReminderDays*24):
		return domain.BucketReminder
	default:
		return domain.BucketOnTrack
	}
}

func worstBucket(buckets map[domain.EscalationBucket]int) domain.EscalationBucket {
	worst := domain.BucketOnTrack
	for b, n := range buckets {
		if n > 0 && b.Severity() > worst.Severity() {
			worst = b
		}
	}
	return worst
}

// painScore считает взвешенную сумму, по которой поставщики ранжируются для разбора.
func painScore(c *domain.SupplierScorecard) float64 {
	score := 5*float64(c.ByUrgency[domain.UrgencyCritical]) +
		2*float64(c.ByUrgency[domain.UrgencyHigh]) +
		2*float64(c.ByType[domain.ExceptionMissingTracking]) +
		1.5*float64(c.ByType[domain.ExceptionLateShipment]) +
		2*float64(c.ByType[domain.ExceptionCarrierException]) +
		10*c.ExceptionRate
	return round(score, 2)
}

func (a *Aggregator) followups(in Input, cards map[string]domain.SupplierScorecard) []domain.SupplierFollowup {
	bySupplier := map[string]map[string][]domain.ExceptionType{}
	for _, e := range in.Exceptions {
		if e.SupplierRef == "" {
			continue
		}
		orders, ok := bySupplier[e.SupplierRef]
		if !ok {
			orders = map[string][]domain.ExceptionType{}
			bySupplier[e.SupplierRef] = orders
		}
		orders[e.OrderID] = append(orders[e.OrderID], e.Type)
	}

	suppliers := make([]string, 0, len(bySupplier))
	for s := range bySupplier {
		suppliers = append(suppliers, s)
	}
	sort.Strings(suppliers)

	out := make([]domain.SupplierFollowup, 0, len(suppliers))
	for _, supplier := range suppliers {
		orders := bySupplier[supplier]
		ids := make([]string, 0, len(orders))
		for id := range orders {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		urgency := domain.UrgencyMedium
		if len(ids) >= a.cfg.FollowupHighOrders {
			urgency = domain.UrgencyHigh
		}
		out = append(out, domain.SupplierFollowup{
			SupplierID: supplier,
			OrderIDs:   ids,
			Urgency:    urgency,
			Subject:    fmt.Sprintf("Follow-up needed: %d order(s) with open issues (%s)", len(ids), supplier),
			Body:       followupBody(supplier, ids, orders, cards[supplier]),
		})
	}
	return out
}

func followupBody(supplier string, ids []string, orders map[string][]domain.ExceptionType, card domain.SupplierScorecard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", supplier)
	b.WriteString("The following orders need an update from your side:\n")
	for _, id := range ids {
		types := make([]string, 0, len(orders[id]))
		for _, t := range orders[id] {
			types = append(types, string(t))
		}
		fmt.Fprintf(&b, "- %s: %s\n", id, strings.Join(types, ", "))
	}
	fmt.Fprintf(&b, "\nSummary (current run): %d of %d orders with issues (exception rate %.0f%%).\n",
		card.ExceptionOrders, card.TotalOrders, card.ExceptionRate*100)
	b.WriteString("\nRequested actions:\n")
	b.WriteString("1) Provide tracking numbers for any shipped orders missing tracking.\n")
	b.WriteString("2) Provide updated ship dates for any unshipped orders.\n")
	b.WriteString("3) Confirm the remaining quantities for partially shipped orders.\n\n")
	b.WriteString("Thank you,\n")
	return b.String()
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(100*float64(n)/float64(total), 1)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
