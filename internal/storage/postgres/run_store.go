package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

type runStore struct {
	db *sql.DB
}

// NewRunStore создаёт PostgreSQL-реализацию RunStore. Схема: миграции sql/migrations.
func NewRunStore(store *Store) domain.RunStore {
	return &runStore{db: store.DB()}
}

func (r *runStore) LatestSnapshot(ctx context.Context, workspaceID string) (domain.RunSnapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, workspace_id, as_of, prior_run_id, summary, open_exceptions, created_at
		FROM run_snapshots
		WHERE workspace_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, workspaceID)

	snapshot, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunSnapshot{}, false, nil
	}
	if err != nil {
		return domain.RunSnapshot{}, false, domain.NewStorageError("latest snapshot", err)
	}
	return snapshot, true, nil
}

func (r *runStore) SaveSnapshot(ctx context.Context, snapshot domain.RunSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}

	summary, openExceptions, err := encodeSnapshot(snapshot)
	if err != nil {
		return domain.NewStorageError("save snapshot", err)
	}
	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO run_snapshots (
			workspace_id, run_id, as_of, prior_run_id, summary, open_exceptions, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		snapshot.WorkspaceID, snapshot.RunID, snapshot.AsOf.UTC(), snapshot.PriorRunID,
		summary, openExceptions, createdAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSnapshotExists
		}
		return domain.NewStorageError("save snapshot", err)
	}
	return nil
}

func (r *runStore) ListSnapshots(ctx context.Context, workspaceID string, limit int) ([]domain.RunSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT run_id, workspace_id, as_of, prior_run_id, summary, open_exceptions, created_at
		FROM run_snapshots
		WHERE workspace_id = $1
		ORDER BY seq DESC`
	args := []interface{}{workspaceID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("list snapshots", err)
	}
	defer rows.Close()

	result := make([]domain.RunSnapshot, 0)
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (domain.RunSnapshot, error) {
	var (
		s              domain.RunSnapshot
		summary        []byte
		openExceptions []byte
	)
	if err := row.Scan(&s.RunID, &s.WorkspaceID, &s.AsOf, &s.PriorRunID, &summary, &openExceptions, &s.CreatedAt); err != nil {
		return domain.RunSnapshot{}, err
	}
	if err := decodeSnapshot(&s, summary, openExceptions); err != nil {
		return domain.RunSnapshot{}, err
	}
	s.AsOf = s.AsOf.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func encodeSnapshot(s domain.RunSnapshot) ([]byte, []byte, error) {
	summary := s.Summary
	if summary == nil {
		summary = map[string]float64{}
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal summary: %w", err)
	}

	open := s.OpenExceptions
	if open == nil {
		open = []domain.OpenException{}
	}
	openJSON, err := json.Marshal(open)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal open exceptions: %w", err)
	}
	return summaryJSON, openJSON, nil
}

func decodeSnapshot(s *domain.RunSnapshot, summary, openExceptions []byte) error {
	if err := json.Unmarshal(summary, &s.Summary); err != nil {
		return fmt.Errorf("unmarshal summary: %w", err)
	}
	if err := json.Unmarshal(openExceptions, &s.OpenExceptions); err != nil {
		return fmt.Errorf("unmarshal open exceptions: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.RunStore = (*runStore)(nil)
