package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geofleet/ingestd/internal/extract"
)

// writeFakeImposm writes a tiny script standing in for the imposm3
// binary: it appends its invocation args to the file named by
// FAKE_IMPOSM_LOG and exits with the status requested via
// FAKE_IMPOSM_EXIT, letting tests assert on argument
// shape without a real imposm3 install.
func writeFakeImposm(t *testing.T, dir string) string {
	t.Helper()
	script := filepath.Join(dir, "fake-imposm.sh")
	body := "#!/bin/sh\necho \"$@\" >> \"$FAKE_IMPOSM_LOG\"\nexit \"${FAKE_IMPOSM_EXIT:-0}\"\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script
}

func TestReadBatchCacheModeSequencing(t *testing.T) {
	dir := t.TempDir()
	script := writeFakeImposm(t, dir)
	logPath := filepath.Join(dir, "log")
	os.Setenv("FAKE_IMPOSM_LOG", logPath)
	defer os.Unsetenv("FAKE_IMPOSM_LOG")

	im := New(Config{
		Executable:  script,
		MappingPath: "mapping.yml",
		CacheDir:    dir,
		DiffDir:     dir,
		PBFDir:      dir,
	})

	extracts := []extract.Extract{
		{Name: "a", URL: "https://example.com/a.pbf"},
		{Name: "b", URL: "https://example.com/b.pbf"},
		{Name: "c-dup", URL: "https://mirror.example.com/a.pbf"},
	}

	err := im.ReadBatch(context.Background(), extracts, false)
	require.NoError(t, err)

	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := string(logData)

	assert.Contains(t, lines, "-overwritecache")
	assert.Contains(t, lines, "-appendcache")
	// only 2 invocations: the duplicate pbf basename is skipped
	assert.Equal(t, 2, countLines(lines))
}

func TestWriteAndRotate(t *testing.T) {
	dir := t.TempDir()
	script := writeFakeImposm(t, dir)
	logPath := filepath.Join(dir, "log")
	os.Setenv("FAKE_IMPOSM_LOG", logPath)
	defer os.Unsetenv("FAKE_IMPOSM_LOG")

	im := New(Config{
		Executable:  script,
		MappingPath: "mapping.yml",
		CacheDir:    dir,
		DiffDir:     dir,
		PBFDir:      dir,
	})

	require.NoError(t, im.Write(context.Background(), "host=db dbname=osm", false))
	require.NoError(t, im.Rotate(context.Background(), "host=db dbname=osm", false))

	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "-write")
	assert.Contains(t, string(logData), "-deployproduction")
}

func TestRunFailureWrapsExitError(t *testing.T) {
	dir := t.TempDir()
	script := writeFakeImposm(t, dir)
	os.Setenv("FAKE_IMPOSM_LOG", filepath.Join(dir, "log"))
	os.Setenv("FAKE_IMPOSM_EXIT", "1")
	defer os.Unsetenv("FAKE_IMPOSM_LOG")
	defer os.Unsetenv("FAKE_IMPOSM_EXIT")

	im := New(Config{
		Executable:  script,
		MappingPath: "mapping.yml",
		CacheDir:    dir,
		DiffDir:     dir,
		PBFDir:      dir,
	})

	err := im.Write(context.Background(), "host=db dbname=osm", false)
	require.Error(t, err)

	var impErr *Error
	require.ErrorAs(t, err, &impErr)
	assert.Equal(t, "write", impErr.Phase)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	count := 0
	for _, c := range s {
		if c == '\n' {
			count++
		}
	}
	return count
}
