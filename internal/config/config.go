// Package config описывает настраиваемые параметры движка сверки:
// таблицы алиасов колонок, lead time поставщиков и пороги правил.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// Канонические поля фидов.
const (
	FieldOrderID            = "order_id"
	FieldCustomerRef        = "customer_ref"
	FieldOrderDate          = "order_date"
	FieldDestinationCountry = "destination_country"
	FieldSupplierRef        = "supplier_ref"
	FieldLineItemCount      = "line_item_count"
	FieldStatus             = "status"
	FieldChannel            = "channel"
	FieldPromisedShipDays   = "promised_ship_days"

	FieldShipmentID     = "shipment_id"
	FieldOrderRef       = "order_ref"
	FieldCarrier        = "carrier"
	FieldShipDate       = "ship_date"
	FieldItemCount      = "item_count"
	FieldTrackingNumber = "tracking_number"

	FieldShipmentRef       = "shipment_ref"
	FieldLastUpdate        = "last_update"
	FieldEstimatedDelivery = "estimated_delivery"
)

// Aliases это таблица алиасов (фид → каноническое поле → допустимые заголовки колонок).
type Aliases map[domain.Feed]map[string][]string

// Config это пороги и справочники движка. Отсутствующие ключи берутся из Default().
type Config struct {
	Aliases Aliases `yaml:"aliases"`

	// DefaultLeadTimeDays это lead time, если ни заказ, ни таблица поставщиков его не задают.
	DefaultLeadTimeDays int `yaml:"default_lead_time_days"`
	// SupplierLeadTimes это lead time по поставщику; ключи сравниваются по domain.JoinKey.
	SupplierLeadTimes map[string]int `yaml:"supplier_lead_times"`

	LateHighAfterDays     int `yaml:"late_high_after_days"`
	LateCriticalAfterDays int `yaml:"late_critical_after_days"`

	TrackingGraceDays            int `yaml:"tracking_grace_days"`
	MissingTrackingHighAfterDays int `yaml:"missing_tracking_high_after_days"`
	StaleTrackingDays            int `yaml:"stale_tracking_days"`

	// ItemTolerance и FuzzyWindowDays задают окно нечёткого сопоставления.
	ItemTolerance   int `yaml:"item_tolerance"`
	FuzzyWindowDays int `yaml:"fuzzy_window_days"`

	// NonResponseRuns задаёт, сколько запусков подряд исключение должно числиться открытым в прошлом снапшоте, чтобы текущий запуск его эскалировал.
	NonResponseRuns int `yaml:"non_response_runs"`

	// Пороги корзин эскалации открытых заказов.
	AtRiskHours       int `yaml:"at_risk_hours"`
	ReminderDays      int `yaml:"reminder_days"`
	EscalateAfterDays int `yaml:"escalate_after_days"`
	// FollowupHighOrders задаёт, с какого числа проблемных заказов черновик письма получает High.
	FollowupHighOrders int `yaml:"followup_high_orders"`
	// CustomerImpactMaxItems ограничивает длину представления влияния на покупателей.
	CustomerImpactMaxItems int `yaml:"customer_impact_max_items"`

	ClosedStatuses           []string `yaml:"closed_statuses"`
	TerminalStatuses         []string `yaml:"terminal_statuses"`
	CarrierExceptionTerms    []string `yaml:"carrier_exception_terms"`
	DirectToConsumerChannels []string `yaml:"direct_to_consumer_channels"`
	// DirectToConsumerDestinations это термины поля назначения ("US - Residential"),
	// по которым заказ считается доставкой покупателю независимо от канала.
	DirectToConsumerDestinations []string `yaml:"direct_to_consumer_destinations"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		Aliases:                      DefaultAliases(),
		DefaultLeadTimeDays:          5,
		SupplierLeadTimes:            map[string]int{},
		LateHighAfterDays:            3,
		LateCriticalAfterDays:        7,
		TrackingGraceDays:            2,
		MissingTrackingHighAfterDays: 3,
		StaleTrackingDays:            5,
		ItemTolerance:                0,
		FuzzyWindowDays:              7,
		NonResponseRuns:              2,
		AtRiskHours:                  24,
		ReminderDays:                 7,
		EscalateAfterDays:            3,
		FollowupHighOrders:           3,
		CustomerImpactMaxItems:       50,
		ClosedStatuses:               []string{"closed", "complete", "completed", "fulfilled", "final", "done"},
		TerminalStatuses:             []string{"delivered", "returned", "return to sender", "cancelled", "canceled"},
		CarrierExceptionTerms:        []string{"exception", "lost", "damaged", "seized", "stuck"},
		DirectToConsumerChannels:     []string{"dtc", "direct", "consumer", "b2c", "shopify", "web", "online"},
		DirectToConsumerDestinations: []string{"residential", "residence", "home", "consumer", "b2c"},
	}
}

// DefaultAliases возвращает встроенную таблицу алиасов популярных выгрузок.
func DefaultAliases() Aliases {
	return Aliases{
		domain.FeedOrders: {
			FieldOrderID:            {"order_id", "Order ID", "OrderID", "order", "Order", "Order Number", "order_number", "#", "name", "Name"},
			FieldCustomerRef:        {"customer_ref", "Customer", "Customer ID", "customer_id", "Email", "email"},
			FieldOrderDate:          {"order_date", "Order Date", "order_datetime_utc", "Created At", "created_at", "Order Created At"},
			FieldDestinationCountry: {"destination_country", "customer_country", "To Country", "Ship To Country", "Shipping Country", "country", "Country"},
			FieldSupplierRef:        {"supplier_ref", "supplier_name", "Supplier", "Supplier Name", "Vendor", "vendor"},
			FieldLineItemCount:      {"line_item_count", "quantity_ordered", "Quantity Ordered", "qty_ordered", "Lineitem quantity", "qty", "Qty", "Quantity"},
			FieldStatus:             {"status", "Status", "order_status", "Fulfillment Status", "Financial Status"},
			FieldChannel:            {"channel", "Channel", "platform", "Platform", "Source", "shipping_method"},
			FieldPromisedShipDays:   {"promised_ship_days", "Promised Ship Days", "sla_days", "SLA Days"},
		},
		domain.FeedShipments: {
			FieldShipmentID:     {"shipment_id", "Shipment ID", "supplier_order_id", "Supplier Order ID", "SupplierOrderID"},
			FieldOrderRef:       {"order_ref", "order_id", "Order ID", "OrderID", "Order Number", "order_number", "Name"},
			FieldCarrier:        {"carrier", "Carrier"},
			FieldShipDate:       {"ship_date", "Ship Date", "ship_datetime_utc", "Ship Datetime", "shipped_at", "Shipped At"},
			FieldSupplierRef:    {"supplier_ref", "supplier_name", "Supplier", "Supplier Name", "Vendor"},
			FieldItemCount:      {"item_count", "quantity_shipped", "Quantity Shipped", "qty_shipped", "Shipped Quantity", "Quantity"},
			FieldStatus:         {"status", "Status", "shipment_status", "Shipment Status"},
			FieldTrackingNumber: {"tracking_number", "Tracking", "Tracking Number", "tracking", "tracking_no", "TrackingNo"},
		},
		domain.FeedTracking: {
			FieldTrackingNumber:    {"tracking_number", "Tracking", "Tracking Number", "tracking", "tracking_no", "TrackingNo"},
			FieldShipmentRef:       {"shipment_ref", "shipment_id", "Shipment ID", "supplier_order_id", "Supplier Order ID"},
			FieldOrderRef:          {"order_ref", "order_id", "Order ID", "Order Number"},
			FieldStatus:            {"status", "Status", "tracking_status_normalized", "tracking_status_raw", "Tracking Status"},
			FieldLastUpdate:        {"last_update", "last_update_utc", "Last Update", "Updated At", "updated_at"},
			FieldEstimatedDelivery: {"estimated_delivery", "delivery_date_utc", "Estimated Delivery", "ETA", "eta"},
		},
	}
}

// MergeAliases объединяет таблицы: заголовки override добавляются к базовым без повторов.
func MergeAliases(base, override Aliases) Aliases {
	out := make(Aliases, len(base))
	add := func(src Aliases) {
		for feed, fields := range src {
			dst, ok := out[feed]
			if !ok {
				dst = make(map[string][]string, len(fields))
				out[feed] = dst
			}
			for field, headers := range fields {
				for _, h := range headers {
					if !contains(dst[field], h) {
						dst[field] = append(dst[field], h)
					}
				}
			}
		}
	}
	add(base)
	add(override)
	return out
}

// Fields возвращает канонические поля фида в отсортированном порядке.
func (a Aliases) Fields(feed domain.Feed) []string {
	fields := make([]string, 0, len(a[feed]))
	for f := range a[feed] {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// LeadTimeFor возвращает lead time в днях: обещание заказа, затем таблица поставщиков, затем default.
func (c Config) LeadTimeFor(supplierRef string, promisedShipDays int) int {
	if promisedShipDays > 0 {
		return promisedShipDays
	}
	if days, ok := c.SupplierLeadTime(supplierRef); ok {
		return days
	}
	return c.DefaultLeadTimeDays
}

// SupplierLeadTime ищет поставщика в таблице lead time. При нескольких ключах
// с одинаковым JoinKey выбирается лексикографически первый.
func (c Config) SupplierLeadTime(supplierRef string) (int, bool) {
	key := domain.JoinKey(supplierRef)
	if key == "" {
		return 0, false
	}
	names := make([]string, 0, len(c.SupplierLeadTimes))
	for name := range c.SupplierLeadTimes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if domain.JoinKey(name) == key {
			return c.SupplierLeadTimes[name], true
		}
	}
	return 0, false
}

// Validate проверяет пороги на допустимость.
func (c Config) Validate() error {
	checks := []struct {
		name  string
		value int
		min   int
	}{
		{"default_lead_time_days", c.DefaultLeadTimeDays, 0},
		{"late_high_after_days", c.LateHighAfterDays, 1},
		{"late_critical_after_days", c.LateCriticalAfterDays, 1},
		{"tracking_grace_days", c.TrackingGraceDays, 0},
		{"missing_tracking_high_after_days", c.MissingTrackingHighAfterDays, 0},
		{"stale_tracking_days", c.StaleTrackingDays, 1},
		{"item_tolerance", c.ItemTolerance, 0},
		{"fuzzy_window_days", c.FuzzyWindowDays, 0},
		{"non_response_runs", c.NonResponseRuns, 1},
		{"at_risk_hours", c.AtRiskHours, 0},
		{"reminder_days", c.ReminderDays, 0},
		{"escalate_after_days", c.EscalateAfterDays, 0},
		{"followup_high_orders", c.FollowupHighOrders, 1},
		{"customer_impact_max_items", c.CustomerImpactMaxItems, 1},
	}
	for _, ch := range checks {
		if ch.value < ch.min {
			return fmt.Errorf("config: %s must be >= %d, got %d", ch.name, ch.min, ch.value)
		}
	}
	if c.LateCriticalAfterDays < c.LateHighAfterDays {
		return fmt.Errorf("config: late_critical_after_days (%d) must be >= late_high_after_days (%d)",
			c.LateCriticalAfterDays, c.LateHighAfterDays)
	}
	for supplier, days := range c.SupplierLeadTimes {
		if days < 0 {
			return fmt.Errorf("config: supplier_lead_times[%s] must be >= 0, got %d", supplier, days)
		}
	}
	return nil
}

// Parse разбирает YAML поверх Default(); алиасы из файла дополняют встроенные.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	builtin := cfg.Aliases
	cfg.Aliases = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode yaml: %w", err)
	}

	cfg.Aliases = MergeAliases(builtin, cfg.Aliases)
	if cfg.SupplierLeadTimes == nil {
		cfg.SupplierLeadTimes = map[string]int{}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load читает YAML-файл; пустой путь означает конфигурацию по умолчанию.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
