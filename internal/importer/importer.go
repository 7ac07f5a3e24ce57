// Package importer drives the external imposm3 binary through its
// read/write/rotate phases.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/geofleet/ingestd/internal/extract"
)

// Config holds the importer invocation settings, all passed explicitly
// rather than read from a shared mutable object.
type Config struct {
	Executable  string
	MappingPath string
	CacheDir    string
	DiffDir     string
	ExpireDir   string
	PBFDir      string
}

// Importer invokes imposm3 as discrete subprocess phases.
type Importer struct {
	cfg Config
}

// New creates an Importer bound to cfg.
func New(cfg Config) *Importer {
	return &Importer{cfg: cfg}
}

// Error wraps a failed imposm3 invocation with captured output tails
// for diagnostics.
type Error struct {
	Phase    string
	Args     []string
	ExitErr  error
	Stdout   string
	Stderr   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("imposm3 %s failed: %v (stderr: %s)", e.Phase, e.ExitErr, tail(e.Stderr, 2000))
}

func (e *Error) Unwrap() error { return e.ExitErr }

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// ReadBatch runs the imposm3 "read" phase for a batch of extracts
// against the shared on-disk cache. The first extract in the batch
// overwrites the cache; subsequent extracts append to it (ADR-1).
// Duplicate PBF basenames within the batch are processed once.
func (im *Importer) ReadBatch(ctx context.Context, extracts []extract.Extract, incremental bool) error {
	deduped := extract.DedupeByPBF(extracts)

	for i, e := range deduped {
		cacheMode := "-appendcache"
		if i == 0 {
			cacheMode = "-overwritecache"
		}

		pbf := filepath.Join(im.cfg.PBFDir, e.PBFFilename())

		args := []string{"import", "-mapping", im.cfg.MappingPath, "-read", pbf, "-cachedir", im.cfg.CacheDir, cacheMode}
		if incremental {
			args = append(args, "-diff", "-diffdir", im.cfg.DiffDir)
		}

		if err := im.run(ctx, "read:"+e.Name, args); err != nil {
			return err
		}
	}

	return nil
}

// Write materializes tables from the cache into the target database.
func (im *Importer) Write(ctx context.Context, dsn string, incremental bool) error {
	args := []string{"import", "-mapping", im.cfg.MappingPath, "-write", "-connection", dsn, "-srid", "4326", "-cachedir", im.cfg.CacheDir}
	if incremental {
		args = append(args, "-diff", "-diffdir", im.cfg.DiffDir)
	}
	return im.run(ctx, "write", args)
}

// Rotate performs the atomic production table swap for dsn.
func (im *Importer) Rotate(ctx context.Context, dsn string, incremental bool) error {
	args := []string{"import", "-mapping", im.cfg.MappingPath, "-connection", dsn, "-srid", "4326", "-deployproduction", "-cachedir", im.cfg.CacheDir}
	if incremental {
		args = append(args, "-diff", "-diffdir", im.cfg.DiffDir)
	}
	return im.run(ctx, "rotate", args)
}

func (im *Importer) run(ctx context.Context, phase string, args []string) error {
	cmd := exec.CommandContext(ctx, im.cfg.Executable, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = io.MultiWriter(os.Stdout, &stdout)
	cmd.Stderr = io.MultiWriter(os.Stderr, &stderr)

	if err := cmd.Run(); err != nil {
		return &Error{
			Phase:   phase,
			Args:    args,
			ExitErr: err,
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
		}
	}

	return nil
}
