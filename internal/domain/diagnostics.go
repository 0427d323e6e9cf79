package domain

// DiagnosticKind это тип нефатальной проблемы качества данных.
type DiagnosticKind string

const (
	// DiagnosticParseWarning ставится, когда значение поля не разобрано; поле остаётся пустым.
	DiagnosticParseWarning DiagnosticKind = "parse_warning"
	// DiagnosticMissingValue ставится, когда в строке пуст идентификатор; строка пропущена.
	DiagnosticMissingValue DiagnosticKind = "missing_value"
	// DiagnosticDuplicateOrder отмечает повтор order_id в фиде заказов, строка отклонена.
	DiagnosticDuplicateOrder DiagnosticKind = "duplicate_order"
	// DiagnosticHistoryUnavailable ставится, когда не удалось прочитать прошлый снапшот.
	DiagnosticHistoryUnavailable DiagnosticKind = "history_unavailable"
	// DiagnosticHistoryNotPersisted ставится, когда не удалось сохранить снапшот текущего запуска.
	DiagnosticHistoryNotPersisted DiagnosticKind = "history_not_persisted"
)

// Diagnostic это строковая или запусковая диагностика, возвращается вместе с результатом.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Feed    Feed           `json:"feed,omitempty"`
	Row     int            `json:"row,omitempty"`
	Field   string         `json:"field,omitempty"`
	Value   string         `json:"value,omitempty"`
	Message string         `json:"message"`
}

// AnomalyKind это тип проблемы сопоставления.
type AnomalyKind string

const (
	AnomalyConflictingMatch AnomalyKind = "conflicting_match"
	AnomalyFuzzyMatch       AnomalyKind = "fuzzy_match"
	AnomalyOrphanShipment   AnomalyKind = "orphan_shipment"
	AnomalyOrphanTracking   AnomalyKind = "orphan_tracking"
)

// Anomaly это диагностика резолвера для аудита качества сопоставления.
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	Feed     Feed        `json:"feed"`
	RecordID string      `json:"record_id"`
	OrderIDs []string    `json:"order_ids,omitempty"`
	Detail   string      `json:"detail,omitempty"`
}
