// Package store persists stage outputs and orchestrator state. Artifact
// bytes live in a content-addressed blob store; this package adds the
// SQLite index that makes them addressable by (message_id, stage) and
// the job table enforcing idempotent stage execution.
package store

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/intake-labs/ire/pkg/fault"
)

// DB wraps the shared SQLite handle. One file serves the artifact
// index, the job table, the review queue and the correction sink.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the database and applies migrations.
func Open(path string) (*DB, error) {
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "store_open_failed", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under the worker pool.
	handle.SetMaxOpenConns(1)
	db := &DB{sql: handle}
	if err := db.migrate(context.Background()); err != nil {
		handle.Close()
		return nil, err
	}
	return db, nil
}

// SQL exposes the underlying handle for sibling stores (reviews,
// corrections) that share the database file.
func (d *DB) SQL() *sql.DB { return d.sql }

// Close releases the handle.
func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			sha256     TEXT NOT NULL,
			schema_id  TEXT NOT NULL,
			message_id TEXT NOT NULL,
			stage      TEXT NOT NULL,
			run_id     TEXT NOT NULL,
			uri        TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (sha256, message_id, stage, run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_message_stage
			ON artifacts (message_id, stage)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id        TEXT PRIMARY KEY,
			message_id    TEXT NOT NULL,
			run_id        TEXT NOT NULL,
			stage         TEXT NOT NULL,
			state         TEXT NOT NULL,
			output_sha256 TEXT,
			reason        TEXT,
			updated_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_message
			ON jobs (message_id, run_id)`,
		`CREATE TABLE IF NOT EXISTS review_items (
			review_item_id TEXT PRIMARY KEY,
			message_id     TEXT NOT NULL,
			run_id         TEXT NOT NULL,
			queue_id       TEXT NOT NULL,
			reason         TEXT,
			status         TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS corrections (
			correction_id  TEXT PRIMARY KEY,
			review_item_id TEXT NOT NULL,
			actor_id       TEXT NOT NULL,
			body           TEXT NOT NULL,
			sha256         TEXT NOT NULL,
			created_at     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inference_index (
			cache_key  TEXT PRIMARY KEY,
			sha256     TEXT NOT NULL,
			purpose    TEXT NOT NULL,
			model_id   TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ingest_dedup (
			raw_sha256 TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			run_id     TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fault.Wrap(fault.KindDependencyUnavailable, "", "store_migrate_failed", err)
		}
	}
	return nil
}
