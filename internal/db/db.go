package db

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DefaultPath is the default database location
const DefaultPath = "/var/lib/hwinfo/history.db"

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	path string
}

// New opens or creates the SQLite database at the given path
func New(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	db := &DB{conn: conn, path: path}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return db, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// migrations are append-only: entry i brings the schema to version i+1.
var migrations = []string{
	migrationV1,
}

// migrate applies every migration newer than the recorded schema version.
func (d *DB) migrate() error {
	if _, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return errors.Wrap(err, "create schema_version")
	}

	current, err := d.schemaVersion()
	if err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		if err := d.applyMigration(i+1, migrations[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) schemaVersion() (int, error) {
	var v int
	if err := d.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}
	return v, nil
}

// applyMigration runs one migration and records its version atomically.
func (d *DB) applyMigration(version int, stmt string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return errors.Wrap(err, "begin migration")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(stmt); err != nil {
		return errors.Wrapf(err, "migration v%d failed", version)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return errors.Wrapf(err, "record migration v%d", version)
	}
	return errors.Wrapf(tx.Commit(), "commit migration v%d", version)
}

// migrationV1 creates the reset history schema
const migrationV1 = `
-- One row per orchestration run
CREATE TABLE IF NOT EXISTS sed_runs (
    id INTEGER PRIMARY KEY,
    run_id TEXT UNIQUE NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    devices INTEGER NOT NULL DEFAULT 0,
    succeeded INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON sed_runs(started_at);

-- Per-device outcome of a run
CREATE TABLE IF NOT EXISTS sed_outcomes (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES sed_runs(run_id),
    serial TEXT NOT NULL,
    device_path TEXT,
    status TEXT NOT NULL,
    detail TEXT,
    duration_ms INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_outcomes_run ON sed_outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_serial ON sed_outcomes(serial);
`
