package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchema означает, что во входном фиде отсутствует обязательная колонка (фатально для запуска).
	ErrSchema = errors.New("schema error")
	// ErrStorage это сбой чтения/записи снапшота во внешнем Run Store.
	ErrStorage = errors.New("storage error")
	// ErrRunIDRequired возвращается, если запуск не содержит идентификатора.
	ErrRunIDRequired = errors.New("run_id is required")
	// ErrWorkspaceRequired возвращается, если не указан workspace.
	ErrWorkspaceRequired = errors.New("workspace_id is required")
	// ErrAsOfRequired возвращается, если не задана дата as-of.
	ErrAsOfRequired = errors.New("as_of is required")
	// ErrSnapshotNotFound означает, что в workspace ещё нет сохранённых запусков.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotExists означает, что снапшот с таким run_id уже записан; история только дописывается.
	ErrSnapshotExists = errors.New("snapshot already exists")
	// ErrDuplicateRule означает, что тип исключения уже зарегистрирован в реестре правил.
	ErrDuplicateRule = errors.New("rule already registered")
)

// SchemaError описывает отсутствие обязательной колонки в фиде.
type SchemaError struct {
	Feed    Feed
	Field   string
	Headers []string
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("%s: missing required column %q", e.Feed, e.Field)
	if len(e.Headers) > 0 {
		msg += fmt.Sprintf(" (columns present: %s)", strings.Join(e.Headers, ", "))
	}
	return msg
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// StorageError оборачивает ошибку Run Store с указанием операции.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError создаёт StorageError; nil-ошибка остаётся nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// IsSchemaError проверяет, является ли ошибка ошибкой схемы фида.
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrSchema)
}

// IsStorageError проверяет, относится ли ошибка к Run Store.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}
