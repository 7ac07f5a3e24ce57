// Package audit persists an append-only record of reconcile-cycle
// phase transitions to a local SQLite database, so operators can
// answer "what happened to database X last Tuesday" without scraping
// logs.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the audit log's SQLite connection and runs its migrations.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates (or reopens) the audit database at path and runs
// migrations.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) migrate() error {
	createMigrationsTable := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.conn.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for version, migration := range getMigrations() {
		if version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}

		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}

		log.Printf("audit db: applied migration %d", version)
	}

	return nil
}

func getMigrations() map[int]string {
	return map[int]string{
		1: migration001Initial,
	}
}

const migration001Initial = `
CREATE TABLE reconcile_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,

    database_name TEXT NOT NULL,
    phase TEXT NOT NULL,
    outcome TEXT NOT NULL,

    duration_ms INTEGER NOT NULL DEFAULT 0,
    detail TEXT,
    error_message TEXT,

    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_reconcile_events_database ON reconcile_events(database_name, created_at DESC);
CREATE INDEX idx_reconcile_events_phase ON reconcile_events(phase);
CREATE INDEX idx_reconcile_events_created ON reconcile_events(created_at DESC);
`

// Conn exposes the underlying *sql.DB, primarily for tests.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
