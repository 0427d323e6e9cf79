package postgres

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
)

const (
	// migrationLockKey задаёт ключ pg_advisory_lock, сериализующий миграции между процессами.
	migrationLockKey  = int64(52017731)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

// MigrationState описывает состояние схемы: последнюю версию, число применённых и ожидающие миграции.
type MigrationState struct {
	Version int64
	Applied int
	Pending []string
}

// Migrator применяет и откатывает миграции под advisory lock.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	logger     *log.Entry
}

// NewMigrator создаёт мигратор для набора миграций.
func NewMigrator(db *sql.DB, migrations []Migration, logger *log.Entry) *Migrator {
	if logger == nil {
		logger = log.WithField("component", "postgres-migrator")
	}
	return &Migrator{db: db, migrations: migrations, logger: logger}
}

// Up применяет steps ожидающих миграций; steps<=0: все.
func (m *Migrator) Up(ctx context.Context, steps int) error {
	return m.locked(ctx, func(conn *sql.Conn, applied map[int64]bool) error {
		for _, mig := range planUp(m.migrations, applied, steps) {
			if err := m.apply(ctx, conn, mig, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// Down откатывает steps последних миграций; steps<=0: одну.
func (m *Migrator) Down(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return m.locked(ctx, func(conn *sql.Conn, applied map[int64]bool) error {
		plan, err := planDown(m.migrations, applied, steps)
		if err != nil {
			return err
		}
		for _, mig := range plan {
			if err := m.apply(ctx, conn, mig, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// State сверяет миграции с таблицей schema_migrations.
func (m *Migrator) State(ctx context.Context) (MigrationState, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return MigrationState{}, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied)}
	for v := range applied {
		if v > state.Version {
			state.Version = v
		}
	}
	for _, mig := range planUp(m.migrations, applied, 0) {
		state.Pending = append(state.Pending, mig.ID())
	}
	return state, nil
}

func (m *Migrator) locked(ctx context.Context, fn func(conn *sql.Conn, applied map[int64]bool) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, applied)
}

// apply выполняет один скрипт и запись в schema_migrations в одной транзакции.
func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, mig Migration, up bool) (err error) {
	direction, script := "up", mig.Up
	record, args := `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`, []interface{}{mig.Version, mig.Name}
	if !up {
		direction, script = "down", mig.Down
		record, args = `DELETE FROM schema_migrations WHERE version = $1`, []interface{}{mig.Version}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s migration %s: %w", direction, mig.ID(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", direction, mig.ID(), err)
	}
	if _, err = tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, mig.ID(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, mig.ID(), err)
	}

	m.logger.WithFields(log.Fields{"migration": mig.ID(), "direction": direction}).Info("migration applied")
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// migrator возвращает мигратор встроенных миграций Run Store.
func (s *Store) migrator() (*Migrator, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("postgres store is not initialized")
	}
	migrations, err := EmbeddedMigrations()
	if err != nil {
		return nil, err
	}
	return NewMigrator(s.db, migrations, nil), nil
}

// MigrateUp применяет миграции Run Store; steps=0: все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	return m.Up(ctx, steps)
}

// MigrateDown откатывает миграции; steps<=0: один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	return m.Down(ctx, steps)
}

// MigrationState возвращает состояние схемы Run Store.
func (s *Store) MigrationState(ctx context.Context) (MigrationState, error) {
	m, err := s.migrator()
	if err != nil {
		return MigrationState{}, err
	}
	return m.State(ctx)
}

// MigrationStatus возвращает текущую версию и количество применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	state, err := s.MigrationState(ctx)
	if err != nil {
		return 0, 0, err
	}
	return state.Version, state.Applied, nil
}

// EnsureSchema применяет все ожидающие миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}
