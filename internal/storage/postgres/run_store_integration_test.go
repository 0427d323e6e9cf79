package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

func testSnapshot(runID string) domain.RunSnapshot {
	return domain.RunSnapshot{
		RunID:       runID,
		WorkspaceID: "ws-int",
		AsOf:        time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC),
		Summary:     map[string]float64{"orders": 3, "pct_unshipped": 33.3},
		OpenExceptions: []domain.OpenException{
			{OrderID: "A1", Type: domain.ExceptionLateShipment, Urgency: domain.UrgencyCritical, SupplierRef: "Acme", Streak: 2},
		},
	}
}

func TestRunStore_PostgresSaveLatestList(t *testing.T) {
	store := migratedStore(t)
	runs := NewRunStore(store)
	ctx := context.Background()

	if _, ok, err := runs.LatestSnapshot(ctx, "ws-int"); err != nil || ok {
		t.Fatalf("expected empty history, ok=%v err=%v", ok, err)
	}

	if err := runs.SaveSnapshot(ctx, testSnapshot("run-1")); err != nil {
		t.Fatalf("save run-1: %v", err)
	}
	second := testSnapshot("run-2")
	second.PriorRunID = "run-1"
	if err := runs.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("save run-2: %v", err)
	}

	latest, ok, err := runs.LatestSnapshot(ctx, "ws-int")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if latest.RunID != "run-2" || latest.PriorRunID != "run-1" {
		t.Fatalf("unexpected latest: %+v", latest)
	}
	if latest.Summary["pct_unshipped"] != 33.3 {
		t.Fatalf("summary not round-tripped: %v", latest.Summary)
	}
	if len(latest.OpenExceptions) != 1 || latest.OpenExceptions[0].Urgency != domain.UrgencyCritical {
		t.Fatalf("open exceptions not round-tripped: %+v", latest.OpenExceptions)
	}
	if !latest.AsOf.Equal(second.AsOf) {
		t.Fatalf("as_of mismatch: %v", latest.AsOf)
	}

	list, err := runs.ListSnapshots(ctx, "ws-int", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].RunID != "run-2" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestRunStore_PostgresAppendOnly(t *testing.T) {
	store := migratedStore(t)
	runs := NewRunStore(store)
	ctx := context.Background()

	if err := runs.SaveSnapshot(ctx, testSnapshot("run-1")); err != nil {
		t.Fatalf("save run-1: %v", err)
	}
	if err := runs.SaveSnapshot(ctx, testSnapshot("run-1")); !errors.Is(err, domain.ErrSnapshotExists) {
		t.Fatalf("expected ErrSnapshotExists, got %v", err)
	}

	_, err := store.DB().ExecContext(ctx, `UPDATE run_snapshots SET prior_run_id = 'x'`)
	if err == nil {
		t.Fatal("expected append-only trigger to reject updates")
	}
	_, err = store.DB().ExecContext(ctx, `DELETE FROM run_snapshots`)
	if err == nil {
		t.Fatal("expected append-only trigger to reject deletes")
	}
}

func TestRunStore_PostgresStorageError(t *testing.T) {
	store := migratedStore(t)
	runs := NewRunStore(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := runs.LatestSnapshot(ctx, "ws-int")
	if !domain.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
