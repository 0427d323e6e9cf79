// Package sqlite хранит снапшоты запусков в одном файле SQLite (pure-Go драйвер modernc).
// Подходит для CLI и одиночного узла.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

const opTimeout = 5 * time.Second

const schemaDDL = `
CREATE TABLE IF NOT EXISTS run_snapshots (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (workspace_id, run_id)
);
CREATE INDEX IF NOT EXISTS run_snapshots_workspace_seq_idx ON run_snapshots (workspace_id, seq DESC);
CREATE TRIGGER IF NOT EXISTS run_snapshots_no_update BEFORE UPDATE ON run_snapshots
BEGIN
	SELECT RAISE(ABORT, 'run_snapshots is append-only');
END;
CREATE TRIGGER IF NOT EXISTS run_snapshots_no_delete BEFORE DELETE ON run_snapshots
BEGIN
	SELECT RAISE(ABORT, 'run_snapshots is append-only');
END;
`

// RunStore: SQLite-реализация domain.RunStore.
type RunStore struct {
	db   *sql.DB
	path string
}

var _ domain.RunStore = (*RunStore)(nil)

// Open открывает (или создаёт) файл базы и применяет схему.
func Open(ctx context.Context, path string) (*RunStore, error) {
	if path == "" {
		path = "reconcile.db"
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite допускает одного писателя.
	db.SetMaxOpenConns(1)

	initCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := db.ExecContext(initCtx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(initCtx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create run_snapshots table: %w", err)
	}

	return &RunStore{db: db, path: path}, nil
}

// Path возвращает путь к файлу базы.
func (s *RunStore) Path() string { return s.path }

// DB возвращает raw SQL DB.
func (s *RunStore) DB() *sql.DB { return s.db }

// Ping проверяет доступность базы.
func (s *RunStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	return s.db.PingContext(ctx)
}

// Close закрывает базу.
func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *RunStore) LatestSnapshot(ctx context.Context, workspaceID string) (domain.RunSnapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM run_snapshots
		WHERE workspace_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, workspaceID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunSnapshot{}, false, nil
	}
	if err != nil {
		return domain.RunSnapshot{}, false, domain.NewStorageError("latest snapshot", err)
	}

	snapshot, err := decode(payload)
	if err != nil {
		return domain.RunSnapshot{}, false, domain.NewStorageError("latest snapshot", err)
	}
	return snapshot, true, nil
}

func (s *RunStore) SaveSnapshot(ctx context.Context, snapshot domain.RunSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return domain.NewStorageError("save snapshot", fmt.Errorf("marshal snapshot: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_snapshots (workspace_id, run_id, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, snapshot.WorkspaceID, snapshot.RunID, payload, snapshot.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSnapshotExists
		}
		return domain.NewStorageError("save snapshot", err)
	}
	return nil
}

func (s *RunStore) ListSnapshots(ctx context.Context, workspaceID string, limit int) ([]domain.RunSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM run_snapshots
		WHERE workspace_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, workspaceID, limit)
	if err != nil {
		return nil, domain.NewStorageError("list snapshots", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]domain.RunSnapshot, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, domain.NewStorageError("list snapshots", err)
		}
		snapshot, err := decode(payload)
		if err != nil {
			return nil, domain.NewStorageError("list snapshots", err)
		}
		result = append(result, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list snapshots", err)
	}
	return result, nil
}

func decode(payload []byte) (domain.RunSnapshot, error) {
	var snapshot domain.RunSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return domain.RunSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
