// Package provisioner creates and prepares a per-database PostGIS schema:
// the administrative CREATE DATABASE step, the postgis/hstore extensions,
// the supplementary non-OSM table, and the re-runnable SQL helper scripts
// that downstream tile queries depend on.
package provisioner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lib/pq"
)

// duplicateDatabaseSQLState is the PostgreSQL SQLSTATE returned by
// CREATE DATABASE when the database already exists.
const duplicateDatabaseSQLState = "42P04"

// connectTimeout bounds each administrative connection attempt.
const connectTimeout = 5 * time.Second

// Provisioner prepares PostGIS databases for the reconciler.
type Provisioner struct {
	// IngestDir names the directory holding postgis-vt-util.sql and
	// tilefunc.sql, mirroring the original engine's INGEST environment
	// variable.
	IngestDir string
}

// New creates a Provisioner that loads SQL helper scripts from ingestDir.
func New(ingestDir string) *Provisioner {
	return &Provisioner{IngestDir: ingestDir}
}

// ProvisionDatabase ensures the target database exists and carries the
// extensions and supplementary table every managed database needs. It
// connects to the administrative database via dsnInit to issue CREATE
// DATABASE, then reconnects via dsn for everything else. Both steps are
// idempotent: a database that already exists, or extensions/tables that
// are already installed, are not treated as errors.
func (p *Provisioner) ProvisionDatabase(ctx context.Context, dsnInit, dsn, databaseName string) error {
	admin, err := sql.Open("postgres", dsnInit)
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer admin.Close()

	adminCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := admin.PingContext(adminCtx); err != nil {
		return fmt.Errorf("ping admin connection: %w", err)
	}

	if _, err := admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(databaseName))); err != nil {
		if !isDuplicateDatabase(err) {
			return fmt.Errorf("create database %s: %w", databaseName, err)
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database connection: %w", err)
	}
	defer db.Close()

	dbCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(dbCtx); err != nil {
		return fmt.Errorf("ping database connection: %w", err)
	}

	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS postgis",
		"CREATE EXTENSION IF NOT EXISTS hstore",
		nonOSMDataTableDDL,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("provision %s: %w", databaseName, err)
		}
	}

	return nil
}

// nonOSMDataTableDDL creates the supplementary table that tile queries
// expect to exist even when no extra-data overlay has been loaded yet.
const nonOSMDataTableDDL = `CREATE TABLE IF NOT EXISTS non_osm_data (
	id SERIAL PRIMARY KEY,
	source TEXT NOT NULL,
	name TEXT,
	tags hstore,
	geom geometry(Geometry, 4326)
)`

// InstallSQLHelpers loads and executes the re-runnable SQL helper scripts
// (postgis-vt-util.sql, tilefunc.sql) against dsn. Both scripts are safe
// to execute repeatedly; they define or replace functions rather than
// insert data. Both scripts are read before a connection is opened.
func (p *Provisioner) InstallSQLHelpers(ctx context.Context, dsn string) error {
	names := []string{"postgis-vt-util.sql", "tilefunc.sql"}
	bodies := make([]string, 0, len(names))
	for _, name := range names {
		body, err := os.ReadFile(filepath.Join(p.IngestDir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		bodies = append(bodies, string(body))
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database connection: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database connection: %w", err)
	}

	for i, body := range bodies {
		if _, err := db.ExecContext(ctx, body); err != nil {
			return fmt.Errorf("execute %s: %w", names[i], err)
		}
	}

	return nil
}

func isDuplicateDatabase(err error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	return string(pqErr.Code) == duplicateDatabaseSQLState
}
