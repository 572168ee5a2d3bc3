package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/balancepoint/internal/log"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS readings (
    db_name TEXT NOT NULL,
    measurement TEXT NOT NULL,
    field TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '',
    observed_at INTEGER NOT NULL,
    value REAL,
    UNIQUE(db_name, measurement, field, tags, observed_at)
);

CREATE INDEX IF NOT EXISTS idx_readings_stream_time ON readings(measurement, field, observed_at);
`,
	},
	{
		Version:     2,
		Description: "Add mirror_runs for auditing copies from InfluxDB",
		SQL: `
CREATE TABLE IF NOT EXISTS mirror_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    stream TEXT NOT NULL,
    range_start DATETIME,
    range_end DATETIME,
    records_fetched INTEGER,
    records_stored INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_mirror_runs_started ON mirror_runs(started_at);
`,
	},
}

// Migrate brings the schema up to date and returns how many migrations ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`); err != nil {
		return 0, fmt.Errorf("ensure migrations table: %w", err)
	}

	var current sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	ran := 0
	for _, m := range migrations {
		if current.Valid && int64(m.Version) <= current.Int64 {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return ran, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		ran++
	}
	if ran > 0 {
		log.Ctx(ctx).InfoContext(ctx, "store: schema migrated", "applied", ran, "version", migrations[len(migrations)-1].Version)
	}
	return ran, nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Description, time.Now().UTC(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrationVersion returns the newest applied schema version, 0 for none.
func (s *Store) MigrationVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}
