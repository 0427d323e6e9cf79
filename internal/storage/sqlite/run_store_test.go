package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

func openTestStore(t *testing.T, path string) *RunStore {
	t.Helper()
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snapshot(runID string) domain.RunSnapshot {
	return domain.RunSnapshot{
		RunID:       runID,
		WorkspaceID: "ws-1",
		AsOf:        time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC),
		Summary:     map[string]float64{"orders": 3},
		OpenExceptions: []domain.OpenException{
			{OrderID: "A1", Type: domain.ExceptionMissingTracking, Urgency: domain.UrgencyHigh, Streak: 1},
		},
	}
}

func TestSQLiteRunStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	store := openTestStore(t, path)
	ctx := context.Background()

	if err := store.SaveSnapshot(ctx, snapshot("run-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := snapshot("run-2")
	second.PriorRunID = "run-1"
	if err := store.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded := openTestStore(t, path)
	latest, ok, err := reloaded.LatestSnapshot(ctx, "ws-1")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if latest.RunID != "run-2" || latest.PriorRunID != "run-1" {
		t.Fatalf("unexpected latest: %+v", latest)
	}
	if latest.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be stamped")
	}
	if len(latest.OpenExceptions) != 1 || latest.OpenExceptions[0].Urgency != domain.UrgencyHigh {
		t.Fatalf("open exceptions not round-tripped: %+v", latest.OpenExceptions)
	}
}

func TestSQLiteRunStoreEmptyWorkspace(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "runs.db"))

	_, ok, err := store.LatestSnapshot(context.Background(), "missing")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if ok {
		t.Fatal("expected no snapshot")
	}
}

func TestSQLiteRunStoreAppendOnly(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "runs.db"))
	ctx := context.Background()

	if err := store.SaveSnapshot(ctx, snapshot("run-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveSnapshot(ctx, snapshot("run-1")); !errors.Is(err, domain.ErrSnapshotExists) {
		t.Fatalf("expected ErrSnapshotExists, got %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `DELETE FROM run_snapshots`); err == nil {
		t.Fatal("expected trigger to reject delete")
	}
	if _, err := store.DB().ExecContext(ctx, `UPDATE run_snapshots SET run_id = 'x'`); err == nil {
		t.Fatal("expected trigger to reject update")
	}
}

func TestSQLiteRunStoreList(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "runs.db"))
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := store.SaveSnapshot(ctx, snapshot(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	limited, err := store.ListSnapshots(ctx, "ws-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(limited) != 2 || limited[0].RunID != "run-3" {
		t.Fatalf("unexpected list: %+v", limited)
	}

	all, err := store.ListSnapshots(ctx, "ws-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(all))
	}
}

func TestSQLiteRunStoreValidation(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "runs.db"))

	bad := snapshot("run-1")
	bad.WorkspaceID = ""
	if err := store.SaveSnapshot(context.Background(), bad); !errors.Is(err, domain.ErrWorkspaceRequired) {
		t.Fatalf("expected ErrWorkspaceRequired, got %v", err)
	}
}

func TestSQLiteRunStoreClosedDB(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "runs.db"))
	_ = store.Close()

	_, _, err := store.LatestSnapshot(context.Background(), "ws-1")
	if !domain.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on closed db")
	}
}
