package domain

import "time"

// Feed определяет входной табличный фид.
type Feed string

const (
	// FeedOrders это заказы из магазина/ERP.
	FeedOrders Feed = "orders"
	// FeedShipments это отгрузки от поставщиков.
	FeedShipments Feed = "shipments"
	// FeedTracking это события перевозчиков (опциональный фид).
	FeedTracking Feed = "tracking"
)

// Row это сырая строка фида (имя колонки → строковое значение).
type Row map[string]string

// Order это канонический заказ после нормализации.
type Order struct {
	ID                 string    `json:"order_id"`
	CustomerRef        string    `json:"customer_ref,omitempty"`
	OrderDate          time.Time `json:"order_date"`
	DestinationCountry string    `json:"destination_country,omitempty"`
	SupplierRef        string    `json:"supplier_ref,omitempty"`
	LineItemCount      int       `json:"line_item_count"`
	Status             string    `json:"status,omitempty"`
	// Channel это канал продаж/доставки, по нему определяется direct-to-consumer.
	Channel string `json:"channel,omitempty"`
	// PromisedShipDays переопределяет lead time поставщика для конкретного заказа (0: не задано).
	PromisedShipDays int `json:"promised_ship_days,omitempty"`
	// Row это номер строки в исходном фиде (с 1).
	Row int `json:"row"`
}

// HasOrderDate сообщает, удалось ли распарсить дату заказа.
func (o Order) HasOrderDate() bool { return !o.OrderDate.IsZero() }

// Shipment это каноническая отгрузка.
type Shipment struct {
	ID string `json:"shipment_id"`
	// OrderRef может быть пустым или содержать несколько идентификаторов через , ; |.
	OrderRef       string    `json:"order_ref,omitempty"`
	Carrier        string    `json:"carrier,omitempty"`
	ShipDate       time.Time `json:"ship_date"`
	SupplierRef    string    `json:"supplier_ref,omitempty"`
	ItemCount      int       `json:"item_count"`
	Status         string    `json:"status,omitempty"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	Row            int       `json:"row"`
}

// HasShipDate сообщает, известна ли дата отгрузки.
func (s Shipment) HasShipDate() bool { return !s.ShipDate.IsZero() }

// TrackingEvent это последнее известное состояние трек-номера.
type TrackingEvent struct {
	TrackingNumber    string    `json:"tracking_number"`
	ShipmentRef       string    `json:"shipment_ref,omitempty"`
	OrderRef          string    `json:"order_ref,omitempty"`
	Status            string    `json:"status,omitempty"`
	LastUpdate        time.Time `json:"last_update"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
	Row               int       `json:"row"`

	// MatchedShipmentID заполняется резолвером, если событие привязано к конкретной отгрузке.
	MatchedShipmentID string `json:"matched_shipment_id,omitempty"`
}

// HasLastUpdate сообщает, известно ли время последнего обновления.
func (t TrackingEvent) HasLastUpdate() bool { return !t.LastUpdate.IsZero() }

// MatchKind это стратегия, которой отгрузка/трекинг были сопоставлены заказу.
type MatchKind string

const (
	MatchNone       MatchKind = ""
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchFuzzy      MatchKind = "fuzzy"
)

// Weaker возвращает менее уверенную из двух стратегий.
func (k MatchKind) Weaker(other MatchKind) MatchKind {
	if matchRank(other) > matchRank(k) {
		return other
	}
	return k
}

func matchRank(k MatchKind) int {
	switch k {
	case MatchExact:
		return 1
	case MatchNormalized:
		return 2
	case MatchFuzzy:
		return 3
	default:
		return 0
	}
}

// JoinedOrderView это заказ вместе с сопоставленными отгрузками и трекингом.
// Строится на один запуск и не сохраняется.
type JoinedOrderView struct {
	Order      Order
	Shipments  []Shipment
	Tracking   []TrackingEvent
	Match      MatchKind
	FuzzyMatch bool
}

// ShippedItems суммирует заявленное количество позиций по всем отгрузкам.
func (v JoinedOrderView) ShippedItems() int {
	total := 0
	for _, s := range v.Shipments {
		total += s.ItemCount
	}
	return total
}

// TrackingFor возвращает события, относящиеся к отгрузке: привязанные к ней напрямую
// или привязанные только к заказу.
func (v JoinedOrderView) TrackingFor(shipmentID string) []TrackingEvent {
	var out []TrackingEvent
	for _, ev := range v.Tracking {
		if ev.MatchedShipmentID == "" || ev.MatchedShipmentID == shipmentID {
			out = append(out, ev)
		}
	}
	return out
}
