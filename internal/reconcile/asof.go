package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// RunIDLayout задаёт run id по умолчанию для CLI (момент as-of в UTC).
const RunIDLayout = "20060102T150405Z"

var asOfLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseAsOf разбирает момент as-of. Значения без зоны считаются UTC.
func ParseAsOf(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("parse as_of: %w", domain.ErrAsOfRequired)
	}
	for _, layout := range asOfLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse as_of %q: expected RFC3339 or YYYY-MM-DD", value)
}

// TimestampRunID возвращает run id вида 20250320T120000Z.
func TimestampRunID(asOf time.Time) string {
	return asOf.UTC().Format(RunIDLayout)
}
