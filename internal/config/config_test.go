package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.DefaultLeadTimeDays)
	assert.Equal(t, 2, cfg.NonResponseRuns)
	assert.Equal(t, 50, cfg.CustomerImpactMaxItems)
	assert.Contains(t, cfg.DirectToConsumerDestinations, "residential")
	assert.Contains(t, cfg.Aliases[domain.FeedOrders][FieldOrderID], "#")
	assert.Contains(t, cfg.Aliases[domain.FeedOrders][FieldOrderID], "order_number")
}

func TestLeadTimeFor(t *testing.T) {
	cfg := Default()
	cfg.SupplierLeadTimes = map[string]int{"Acme Corp": 3}

	assert.Equal(t, 10, cfg.LeadTimeFor("Acme Corp", 10), "order promise wins")
	assert.Equal(t, 3, cfg.LeadTimeFor("ACME-corp", 0), "supplier table matched by join key")
	assert.Equal(t, 5, cfg.LeadTimeFor("Other", 0), "falls back to default")
	assert.Equal(t, 5, cfg.LeadTimeFor("", 0))
}

func TestParseKeepsDefaultsForAbsentKeys(t *testing.T) {
	cfg, err := Parse([]byte(`
default_lead_time_days: 4
supplier_lead_times:
  acme: 2
aliases:
  orders:
    order_id: ["Bestellnummer"]
`))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.DefaultLeadTimeDays)
	assert.Equal(t, 2, cfg.LeadTimeFor("ACME", 0))
	assert.Equal(t, Default().StaleTrackingDays, cfg.StaleTrackingDays)
	assert.Equal(t, Default().TerminalStatuses, cfg.TerminalStatuses)

	headers := cfg.Aliases[domain.FeedOrders][FieldOrderID]
	assert.Contains(t, headers, "Bestellnummer")
	assert.Contains(t, headers, "Order ID", "built-in aliases are kept")
	assert.NotEmpty(t, cfg.Aliases[domain.FeedShipments][FieldShipmentID])
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().LateCriticalAfterDays, cfg.LateCriticalAfterDays)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown key", yaml: "lead_time: 3\n"},
		{name: "negative grace", yaml: "tracking_grace_days: -1\n"},
		{name: "zero non-response runs", yaml: "non_response_runs: 0\n"},
		{name: "zero customer impact items", yaml: "customer_impact_max_items: 0\n"},
		{name: "critical before high", yaml: "late_high_after_days: 5\nlate_critical_after_days: 2\n"},
		{name: "negative supplier lead time", yaml: "supplier_lead_times:\n  acme: -2\n"},
		{name: "malformed", yaml: "default_lead_time_days: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().DefaultLeadTimeDays, cfg.DefaultLeadTimeDays)

	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stale_tracking_days: 9\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.StaleTrackingDays)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestMergeAliasesDeduplicates(t *testing.T) {
	base := Aliases{domain.FeedOrders: {FieldOrderID: {"Order ID"}}}
	merged := MergeAliases(base, Aliases{
		domain.FeedOrders:   {FieldOrderID: {"Order ID", "Ref"}},
		domain.FeedTracking: {FieldTrackingNumber: {"AWB"}},
	})

	assert.Equal(t, []string{"Order ID", "Ref"}, merged[domain.FeedOrders][FieldOrderID])
	assert.Equal(t, []string{"AWB"}, merged[domain.FeedTracking][FieldTrackingNumber])
	assert.Equal(t, []string{"Order ID"}, base[domain.FeedOrders][FieldOrderID], "base is not mutated")
}
