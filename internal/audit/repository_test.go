package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRepository_RecordAndListByDatabase(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	event := &Event{
		DatabaseName: "seattle",
		Phase:        "P1-provision",
		Outcome:      OutcomeSuccess,
		Duration:     2500 * time.Millisecond,
		Detail:       sql.NullString{String: "provisioned new database", Valid: true},
	}
	require.NoError(t, repo.Record(ctx, event))
	assert.NotZero(t, event.ID)

	events, err := repo.ListByDatabase(ctx, "seattle", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "P1-provision", events[0].Phase)
	assert.Equal(t, OutcomeSuccess, events[0].Outcome)
	assert.Equal(t, 2500*time.Millisecond, events[0].Duration)
}

func TestRepository_ListRecentAcrossDatabases(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, &Event{DatabaseName: "seattle", Phase: "P1-provision", Outcome: OutcomeSuccess}))
	require.NoError(t, repo.Record(ctx, &Event{DatabaseName: "portland", Phase: "P3-materialize", Outcome: OutcomeFailure,
		ErrorMessage: sql.NullString{String: "imposm3 exited 1", Valid: true}}))

	events, err := repo.ListRecent(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Most recent first.
	assert.Equal(t, "portland", events[0].DatabaseName)
	assert.True(t, events[0].ErrorMessage.Valid)
}

func TestRepository_DeleteOlderThan(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, &Event{DatabaseName: "seattle", Phase: "P2-import", Outcome: OutcomeSuccess}))

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	events, err := repo.ListRecent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
