// Package db is the local SQLite index: a queryable mirror of audit events
// and the shared proposer budget ledger.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// DefaultDBPath returns ~/.repairloop/index.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".repairloop")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "index.db"), nil
}

// Open opens or creates the database at the given path.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Path is the file the database was opened from.
func (d *DB) Path() string {
	return d.path
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_events (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id                TEXT NOT NULL,
    attempt_index         INTEGER NOT NULL,
    timestamp_utc         TEXT NOT NULL,
    task_id               TEXT NOT NULL,
    language              TEXT NOT NULL,
    task_hash             TEXT NOT NULL,
    artifact_hash         TEXT NOT NULL,
    parent_artifact_hash  TEXT,
    verifier_name         TEXT NOT NULL,
    verifier_version      TEXT NOT NULL,
    verifier_stage_failed TEXT,
    passed                BOOLEAN NOT NULL,
    failure_type          TEXT,
    error_signature       TEXT,
    patch_applied         BOOLEAN NOT NULL DEFAULT FALSE,
    patcher_id            TEXT,
    proposer_used         BOOLEAN NOT NULL DEFAULT FALSE,
    proposer_id           TEXT,
    elapsed_ms            INTEGER NOT NULL DEFAULT 0,
    event_json            TEXT NOT NULL,
    UNIQUE (run_id, attempt_index, artifact_hash, timestamp_utc)
);
CREATE INDEX IF NOT EXISTS idx_events_run ON audit_events(run_id, attempt_index);
CREATE INDEX IF NOT EXISTS idx_events_signature ON audit_events(language, error_signature);

CREATE TABLE IF NOT EXISTS proposer_budget (
    day      TEXT NOT NULL,
    task_id  TEXT NOT NULL,
    calls    INTEGER NOT NULL DEFAULT 0,
    seconds  REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (day, task_id)
);
`

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"proposer_budget", "audit_events", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
