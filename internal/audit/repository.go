package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Outcome values recorded for a reconcile_events row.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Event represents one reconcile phase transition for one database.
type Event struct {
	ID           int64
	DatabaseName string
	Phase        string
	Outcome      string
	Duration     time.Duration
	Detail       sql.NullString
	ErrorMessage sql.NullString
	CreatedAt    time.Time
}

// Repository provides access to the reconcile_events table.
type Repository struct {
	db *DB
}

// NewRepository creates a Repository over db.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Record inserts one audit row for a completed phase transition.
func (r *Repository) Record(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO reconcile_events (database_name, phase, outcome, duration_ms, detail, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.conn.ExecContext(ctx, query,
		e.DatabaseName,
		e.Phase,
		e.Outcome,
		e.Duration.Milliseconds(),
		e.Detail,
		e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("record reconcile event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get reconcile event id: %w", err)
	}

	e.ID = id
	e.CreatedAt = time.Now()
	return nil
}

// ListByDatabase retrieves the most recent events for one database.
func (r *Repository) ListByDatabase(ctx context.Context, databaseName string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, database_name, phase, outcome, duration_ms, detail, error_message, created_at
		FROM reconcile_events
		WHERE database_name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.conn.QueryContext(ctx, query, databaseName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list reconcile events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent retrieves the most recent events across all databases.
func (r *Repository) ListRecent(ctx context.Context, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, database_name, phase, outcome, duration_ms, detail, error_message, created_at
		FROM reconcile_events
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list reconcile events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DeleteOlderThan prunes events older than before, returning the
// number of rows removed.
func (r *Repository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM reconcile_events WHERE created_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("delete old reconcile events: %w", err)
	}

	return result.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var e Event
		var durationMS int64
		if err := rows.Scan(
			&e.ID,
			&e.DatabaseName,
			&e.Phase,
			&e.Outcome,
			&durationMS,
			&e.Detail,
			&e.ErrorMessage,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reconcile event: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		events = append(events, &e)
	}

	return events, rows.Err()
}
