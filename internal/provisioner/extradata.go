package provisioner

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lib/pq"

	"github.com/geofleet/ingestd/internal/storage"
)

// SyncExtraData mirrors every object under the database's extra-data
// namespace into localDir before the non-OSM CSV loader reads it. This
// lets every daemon replica draw from one shared bucket instead of
// requiring the operator to pre-seed each node's local disk.
func SyncExtraData(ctx context.Context, store storage.Storage, prefix, databaseName, localDir string) error {
	namespace := databaseName
	if prefix != "" {
		namespace = prefix + "/" + databaseName
	}

	keys, err := store.ListObjects(ctx, namespace)
	if err != nil {
		return fmt.Errorf("list extra-data objects for %s: %w", databaseName, err)
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("create extra-data dir: %w", err)
	}

	for _, key := range keys {
		if err := syncOne(ctx, store, key, localDir); err != nil {
			return fmt.Errorf("sync %s: %w", key, err)
		}
	}

	return nil
}

func syncOne(ctx context.Context, store storage.Storage, key, localDir string) error {
	reader, err := store.Download(ctx, key)
	if err != nil {
		return err
	}
	defer reader.Close()

	dest := filepath.Join(localDir, filepath.Base(key))
	tmp := dest + ".download"

	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	out.Close()

	return os.Rename(tmp, dest)
}

// nonOSMDataAllowedColumns are the non_osm_data columns a CSV overlay
// may populate. "id" is excluded since it's SERIAL.
var nonOSMDataAllowedColumns = map[string]bool{
	"source": true,
	"name":   true,
	"tags":   true,
	"geom":   true,
}

// LoadExtraData COPYs every *.csv file SyncExtraData wrote into
// localDir into the non_osm_data table at dsn. Each file's header row
// selects which columns it populates, so an overlay that only carries
// source/name/geom (no tags) still loads. Rows are fed straight
// through COPY's text-format input functions, so hstore (tags) and
// geometry (geom) values are expected pre-formatted as hstore and
// WKT/EWKT literals respectively, matching what non_osm_data's column
// types parse on INSERT.
func LoadExtraData(ctx context.Context, dsn, localDir string) error {
	files, err := filepath.Glob(filepath.Join(localDir, "*.csv"))
	if err != nil {
		return fmt.Errorf("glob extra-data csvs: %w", err)
	}
	if len(files) == 0 {
		return nil
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

	for _, file := range files {
		if err := loadExtraDataFile(ctx, db, file); err != nil {
			return fmt.Errorf("load %s: %w", filepath.Base(file), err)
		}
	}

	return nil
}

func loadExtraDataFile(ctx context.Context, db *sql.DB, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	columns, err := nonOSMDataColumns(header)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("non_osm_data", columns...))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare copy: %w", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("read row: %w", err)
		}

		values := make([]interface{}, len(record))
		for i, v := range record {
			values[i] = v
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("copy row: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		tx.Rollback()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		tx.Rollback()
		return fmt.Errorf("close copy statement: %w", err)
	}

	return tx.Commit()
}

// nonOSMDataColumns validates a CSV header against non_osm_data's
// loadable columns, rejecting anything unknown or duplicated rather
// than silently dropping it.
func nonOSMDataColumns(header []string) ([]string, error) {
	seen := make(map[string]bool, len(header))
	columns := make([]string, 0, len(header))
	for _, col := range header {
		col = strings.TrimSpace(col)
		if !nonOSMDataAllowedColumns[col] {
			return nil, fmt.Errorf("unknown non_osm_data column %q", col)
		}
		if seen[col] {
			return nil, fmt.Errorf("duplicate non_osm_data column %q", col)
		}
		seen[col] = true
		columns = append(columns, col)
	}
	if !seen["source"] {
		return nil, fmt.Errorf("non_osm_data csv missing required column %q", "source")
	}
	return columns, nil
}
