package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migration is one forward/backward schema step, applied in Version order
// and recorded in schema_migrations so restarts don't reapply it.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// GetMigrations returns the full migration set for the resumable-data
// ledger and prefetch history tables (spec.md §4.7/§4.9 supplement).
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create resumable_data table",
			Up: `
				CREATE TABLE IF NOT EXISTS resumable_data (
					cache_key        TEXT PRIMARY KEY,
					resumed_data     BYTEA NOT NULL,
					resumed_etag     TEXT,
					resumed_length   BIGINT NOT NULL DEFAULT 0,
					created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
				);
				CREATE INDEX IF NOT EXISTS idx_resumable_data_updated_at ON resumable_data (updated_at);
			`,
			Down: `DROP TABLE IF EXISTS resumable_data;`,
		},
		{
			Version:     2,
			Description: "create prefetch_history table",
			Up: `
				CREATE TABLE IF NOT EXISTS prefetch_history (
					id               BIGSERIAL PRIMARY KEY,
					load_key         TEXT NOT NULL,
					url              TEXT NOT NULL,
					priority         SMALLINT NOT NULL,
					started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
					finished_at      TIMESTAMPTZ,
					succeeded        BOOLEAN,
					error_message    TEXT,
					bytes_fetched    BIGINT NOT NULL DEFAULT 0
				);
				CREATE INDEX IF NOT EXISTS idx_prefetch_history_load_key ON prefetch_history (load_key);
				CREATE INDEX IF NOT EXISTS idx_prefetch_history_started_at ON prefetch_history (started_at);
			`,
			Down: `DROP TABLE IF EXISTS prefetch_history;`,
		},
	}
}

// Migrate applies every migration not yet recorded in schema_migrations, in
// version order, each inside its own transaction.
func (m *Manager) Migrate(ctx context.Context) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to ensure migration table: %w", err)
	}

	for _, migration := range GetMigrations() {
		applied, err := m.isMigrationApplied(ctx, migration.Version)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", migration.Version, err)
		}
		if applied {
			continue
		}
		if err := m.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Description, err)
		}
		m.logger.Info("applied migration", "version", migration.Version, "description", migration.Description)
	}
	return nil
}

func (m *Manager) ensureMigrationTable(ctx context.Context) error {
	_, err := m.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (m *Manager) isMigrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := m.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, version)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *Manager) applyMigration(ctx context.Context, migration Migration) error {
	return m.withTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			migration.Version, migration.Description)
		return err
	})
}

// GetAppliedMigrations lists every migration version recorded so far,
// ascending.
func (m *Manager) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	var versions []int
	err := m.DB.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations ORDER BY version ASC`)
	return versions, err
}

func (m *Manager) withTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := m.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
