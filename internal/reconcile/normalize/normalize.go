// Package normalize приводит сырые строки фидов к каноническим записям.
package normalize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/config"
	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// Result это канонические записи одного запуска и собранная диагностика.
type Result struct {
	Orders      []domain.Order
	Shipments   []domain.Shipment
	Tracking    []domain.TrackingEvent
	Diagnostics []domain.Diagnostic
}

// Normalizer сопоставляет заголовки колонок с каноническими полями по таблице алиасов.
// Не хранит состояния между вызовами и безопасен для конкурентного использования.
type Normalizer struct {
	aliases config.Aliases
}

// New создаёт нормализатор; nil-таблица заменяется встроенной.
func New(aliases config.Aliases) *Normalizer {
	if aliases == nil {
		aliases = config.DefaultAliases()
	}
	return &Normalizer{aliases: aliases}
}

// Normalize разбирает три фида. SchemaError возвращается до разбора строк,
// поэтому частичных результатов при ошибке схемы нет.
func (n *Normalizer) Normalize(orders, shipments, tracking []domain.Row) (Result, error) {
	orderCols, err := n.resolveColumns(domain.FeedOrders, orders, config.FieldOrderID)
	if err != nil {
		return Result{}, err
	}
	shipmentCols, err := n.resolveColumns(domain.FeedShipments, shipments, config.FieldShipmentID)
	if err != nil {
		return Result{}, err
	}
	trackingCols, err := n.resolveColumns(domain.FeedTracking, tracking, config.FieldTrackingNumber)
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.Orders = n.orders(orders, orderCols, &res.Diagnostics)
	res.Shipments = n.shipments(shipments, shipmentCols, &res.Diagnostics)
	res.Tracking = n.tracking(tracking, trackingCols, &res.Diagnostics)
	return res, nil
}

// columns отображает каноническое поле в фактический заголовок фида.
type columns map[string]string

func (c columns) get(row domain.Row, field string) string {
	header, ok := c[field]
	if !ok {
		return ""
	}
	return strings.TrimSpace(row[header])
}

// resolveColumns ищет заголовок для каждого поля фида: сначала точное совпадение
// алиаса, затем сравнение без учёта регистра, пробелов и пунктуации.
// Пустой фид обязательных колонок не требует.
func (n *Normalizer) resolveColumns(feed domain.Feed, rows []domain.Row, required string) (columns, error) {
	cols := columns{}
	if len(rows) == 0 {
		return cols, nil
	}

	headerSet := map[string]struct{}{}
	for _, row := range rows {
		for h := range row {
			headerSet[h] = struct{}{}
		}
	}
	headers := make([]string, 0, len(headerSet))
	for h := range headerSet {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	for _, field := range n.aliases.Fields(feed) {
		candidates := append([]string{field}, n.aliases[feed][field]...)
		if h, ok := matchHeader(candidates, headers, headerSet); ok {
			cols[field] = h
		}
	}
	if _, ok := cols[required]; !ok {
		if h, found := matchHeader([]string{required}, headers, headerSet); found {
			cols[required] = h
		} else {
			return nil, &domain.SchemaError{Feed: feed, Field: required, Headers: headers}
		}
	}
	return cols, nil
}

func matchHeader(candidates, headers []string, headerSet map[string]struct{}) (string, bool) {
	for _, c := range candidates {
		if _, ok := headerSet[c]; ok {
			return c, true
		}
	}
	for _, c := range candidates {
		key := domain.JoinKey(c)
		if key == "" {
			continue
		}
		for _, h := range headers {
			if domain.JoinKey(h) == key {
				return h, true
			}
		}
	}
	return "", false
}

func (n *Normalizer) orders(rows []domain.Row, cols columns, diags *[]domain.Diagnostic) []domain.Order {
	out := make([]domain.Order, 0, len(rows))
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		p := rowParser{feed: domain.FeedOrders, row: i + 1, diags: diags}
		id := domain.CleanIdentifier(cols.get(row, config.FieldOrderID))
		if id == "" {
			p.missing(config.FieldOrderID)
			continue
		}
		if first, dup := seen[id]; dup {
			*diags = append(*diags, domain.Diagnostic{
				Kind:    domain.DiagnosticDuplicateOrder,
				Feed:    domain.FeedOrders,
				Row:     p.row,
				Field:   config.FieldOrderID,
				Value:   id,
				Message: fmt.Sprintf("duplicate order_id %q, first seen at row %d; row rejected", id, first),
			})
			continue
		}
		seen[id] = p.row

		out = append(out, domain.Order{
			ID:                 id,
			CustomerRef:        domain.CleanIdentifier(cols.get(row, config.FieldCustomerRef)),
			OrderDate:          p.date(config.FieldOrderDate, cols.get(row, config.FieldOrderDate)),
			DestinationCountry: domain.CleanIdentifier(cols.get(row, config.FieldDestinationCountry)),
			SupplierRef:        domain.CleanIdentifier(cols.get(row, config.FieldSupplierRef)),
			LineItemCount:      p.integer(config.FieldLineItemCount, cols.get(row, config.FieldLineItemCount)),
			Status:             domain.CleanIdentifier(cols.get(row, config.FieldStatus)),
			Channel:            domain.CleanIdentifier(cols.get(row, config.FieldChannel)),
			PromisedShipDays:   p.integer(config.FieldPromisedShipDays, cols.get(row, config.FieldPromisedShipDays)),
			Row:                p.row,
		})
	}
	return out
}

func (n *Normalizer) shipments(rows []domain.Row, cols columns, diags *[]domain.Diagnostic) []domain.Shipment {
	out := make([]domain.Shipment, 0, len(rows))
	for i, row := range rows {
		p := rowParser{feed: domain.FeedShipments, row: i + 1, diags: diags}
		id := domain.CleanIdentifier(cols.get(row, config.FieldShipmentID))
		if id == "" {
			p.missing(config.FieldShipmentID)
			continue
		}
		out = append(out, domain.Shipment{
			ID:             id,
			OrderRef:       domain.CleanIdentifier(cols.get(row, config.FieldOrderRef)),
			Carrier:        domain.CleanIdentifier(cols.get(row, config.FieldCarrier)),
			ShipDate:       p.date(config.FieldShipDate, cols.get(row, config.FieldShipDate)),
			SupplierRef:    domain.CleanIdentifier(cols.get(row, config.FieldSupplierRef)),
			ItemCount:      p.integer(config.FieldItemCount, cols.get(row, config.FieldItemCount)),
			Status:         domain.CleanIdentifier(cols.get(row, config.FieldStatus)),
			TrackingNumber: domain.CleanIdentifier(cols.get(row, config.FieldTrackingNumber)),
			Row:            p.row,
		})
	}
	return out
}

func (n *Normalizer) tracking(rows []domain.Row, cols columns, diags *[]domain.Diagnostic) []domain.TrackingEvent {
	out := make([]domain.TrackingEvent, 0, len(rows))
	for i, row := range rows {
		p := rowParser{feed: domain.FeedTracking, row: i + 1, diags: diags}
		number := domain.CleanIdentifier(cols.get(row, config.FieldTrackingNumber))
		if number == "" {
			p.missing(config.FieldTrackingNumber)
			continue
		}
		out = append(out, domain.TrackingEvent{
			TrackingNumber:    number,
			ShipmentRef:       domain.CleanIdentifier(cols.get(row, config.FieldShipmentRef)),
			OrderRef:          domain.CleanIdentifier(cols.get(row, config.FieldOrderRef)),
			Status:            domain.CleanIdentifier(cols.get(row, config.FieldStatus)),
			LastUpdate:        p.date(config.FieldLastUpdate, cols.get(row, config.FieldLastUpdate)),
			EstimatedDelivery: p.date(config.FieldEstimatedDelivery, cols.get(row, config.FieldEstimatedDelivery)),
			Row:               p.row,
		})
	}
	return out
}

// rowParser разбирает поля одной строки и складывает предупреждения в общий список.
type rowParser struct {
	feed  domain.Feed
	row   int
	diags *[]domain.Diagnostic
}

func (p rowParser) warn(field, value, msg string) {
	*p.diags = append(*p.diags, domain.Diagnostic{
		Kind:    domain.DiagnosticParseWarning,
		Feed:    p.feed,
		Row:     p.row,
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (p rowParser) missing(field string) {
	*p.diags = append(*p.diags, domain.Diagnostic{
		Kind:    domain.DiagnosticMissingValue,
		Feed:    p.feed,
		Row:     p.row,
		Field:   field,
		Message: fmt.Sprintf("%s is empty; row skipped", field),
	})
}

func (p rowParser) date(field, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, ok := ParseTime(value)
	if !ok {
		p.warn(field, value, "unrecognized date format")
	}
	return t
}

func (p rowParser) integer(field, value string) int {
	if value == "" {
		return 0
	}
	v, ok := ParseInt(value)
	if !ok {
		p.warn(field, value, "not an integer")
	}
	return v
}

// dateLayouts это цепочка допустимых форматов дат, пробуется по порядку.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
	"02.01.2006",
	"2006/01/02",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ParseTime разбирает дату по цепочке форматов. Значения без зоны считаются UTC.
func ParseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseInt разбирает целое; допускает запись вида "3.0" из табличных выгрузок.
// Значения за пределами ±math.MaxInt32 не принимаются.
func ParseInt(value string) (int, bool) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if v, err := strconv.ParseInt(value, 10, 32); err == nil {
		return int(v), true
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
