package provisioner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geofleet/ingestd/internal/storage"
)

func TestSyncExtraData(t *testing.T) {
	store := storage.NewMockStorage()
	store.SetData("fleet-a/seattle/poi-overlay.csv", []byte("id,name\n1,coffee shop\n"))
	store.SetData("fleet-a/seattle/addressing.csv", []byte("id,addr\n1,100 Main St\n"))
	store.SetData("fleet-a/portland/poi-overlay.csv", []byte("id,name\n2,bakery\n"))

	localDir := t.TempDir()

	err := SyncExtraData(context.Background(), store, "fleet-a", "seattle", localDir)
	require.NoError(t, err)

	entries, err := os.ReadDir(localDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	data, err := os.ReadFile(filepath.Join(localDir, "poi-overlay.csv"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("id,name\n1,coffee shop\n"), data))
}

func TestSyncExtraData_NoPrefix(t *testing.T) {
	store := storage.NewMockStorage()
	store.SetData("seattle/poi-overlay.csv", []byte("id,name\n1,coffee shop\n"))

	localDir := t.TempDir()

	err := SyncExtraData(context.Background(), store, "", "seattle", localDir)
	require.NoError(t, err)

	entries, err := os.ReadDir(localDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSyncExtraData_EmptyNamespace(t *testing.T) {
	store := storage.NewMockStorage()
	localDir := t.TempDir()

	err := SyncExtraData(context.Background(), store, "fleet-a", "nowhere", localDir)
	require.NoError(t, err)

	entries, err := os.ReadDir(localDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNonOSMDataColumns_Valid(t *testing.T) {
	columns, err := nonOSMDataColumns([]string{"source", "name", "geom"})
	require.NoError(t, err)
	assert.Equal(t, []string{"source", "name", "geom"}, columns)
}

func TestNonOSMDataColumns_TrimsWhitespace(t *testing.T) {
	columns, err := nonOSMDataColumns([]string{" source", "tags "})
	require.NoError(t, err)
	assert.Equal(t, []string{"source", "tags"}, columns)
}

func TestNonOSMDataColumns_RejectsUnknownColumn(t *testing.T) {
	_, err := nonOSMDataColumns([]string{"source", "elevation"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elevation")
}

func TestNonOSMDataColumns_RejectsDuplicateColumn(t *testing.T) {
	_, err := nonOSMDataColumns([]string{"source", "source"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNonOSMDataColumns_RequiresSource(t *testing.T) {
	_, err := nonOSMDataColumns([]string{"name", "geom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source")
}

func TestLoadExtraData_NoFilesIsNoOp(t *testing.T) {
	// No CSVs synced yet (e.g. the bucket namespace was empty): LoadExtraData
	// must return cleanly without ever dialing a database connection.
	err := LoadExtraData(context.Background(), "host=nonexistent dbname=osm", t.TempDir())
	require.NoError(t, err)
}
