// Package fetcher implements the Extract Fetcher: conditional,
// timestamp-aware downloads of the PBF files named by the extract set.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/geofleet/ingestd/internal/extract"
)

const (
	// DefaultTimeout bounds a single extract download.
	DefaultTimeout = 30 * time.Minute

	// MaxRetries is the maximum number of attempts per extract.
	MaxRetries = 3

	// RetryDelay is the initial backoff delay between attempts.
	RetryDelay = 2 * time.Second
)

// Fetcher downloads extract PBFs into a local directory, skipping a
// download when the server's Last-Modified timestamp matches what is
// already on disk -- the Go equivalent of the original engine's
// `wget -N` invocation.
type Fetcher struct {
	httpClient *http.Client
	pbfDir     string
}

// New creates a Fetcher that stores downloaded PBFs under pbfDir.
func New(pbfDir string) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		pbfDir:     pbfDir,
	}
}

// FetchOne downloads a single extract's PBF, returning whether the
// local file was updated. Only transport-level failures (the request
// never reaching the server, or the response body failing mid-stream)
// are retried; a non-2xx response fails
// immediately, the same way the teacher's registry client treats a
// successfully-received error status as terminal rather than transient.
func (f *Fetcher) FetchOne(ctx context.Context, e extract.Extract) (bool, error) {
	localPath := filepath.Join(f.pbfDir, e.PBFFilename())

	localModTime, localExists := statModTime(localPath)

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}

		updated, transient, err := f.download(ctx, e.URL, localPath, localModTime, localExists)
		if err == nil {
			return updated, nil
		}
		if !transient {
			return false, err
		}
		lastErr = err
	}

	return false, fmt.Errorf("fetch %s after %d attempts: %w", e.Name, MaxRetries, lastErr)
}

// FetchAll downloads every extract in the set, continuing past
// per-extract failures the way the original engine logs and carries
// on. It returns true if any extract's PBF was updated.
func (f *Fetcher) FetchAll(ctx context.Context, extracts []extract.Extract) (bool, []error) {
	var anyUpdated bool
	var errs []error

	for _, e := range extracts {
		updated, err := f.FetchOne(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("extract %s: %w", e.Name, err))
			continue
		}
		anyUpdated = anyUpdated || updated
	}

	return anyUpdated, errs
}

// download performs one attempt. The bool return distinguishes a
// transient (retryable) failure from a terminal one.
func (f *Fetcher) download(ctx context.Context, url, localPath string, localModTime time.Time, localExists bool) (updated bool, transient bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, false, fmt.Errorf("create request: %w", err)
	}

	if localExists {
		req.Header.Set("If-Modified-Since", localModTime.UTC().Format(http.TimeFormat))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return false, true, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return false, false, nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return false, false, fmt.Errorf("create pbf dir: %w", err)
	}

	tmpPath := localPath + ".download"
	out, err := os.Create(tmpPath)
	if err != nil {
		return false, false, fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return false, true, fmt.Errorf("write download: %w", err)
	}
	out.Close()

	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return false, false, fmt.Errorf("finalize download: %w", err)
	}

	if remoteModTime, ok := parseLastModified(resp.Header.Get("Last-Modified")); ok {
		os.Chtimes(localPath, remoteModTime, remoteModTime)
	}

	return true, false, nil
}

func statModTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func parseLastModified(header string) (time.Time, bool) {
	if header == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(header)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
