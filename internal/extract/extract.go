// Package extract models the extract set: the named OSM regions an
// ingestion cycle downloads and imports.
package extract

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// Extract describes one region to fetch and import.
type Extract struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PBFFilename returns the local filename an extract's PBF is stored
// under, derived from the URL's path the same way the fetcher names it
// on disk.
func (e Extract) PBFFilename() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return filepath.Base(e.URL)
	}
	return filepath.Base(u.Path)
}

// LoadFile reads an extract set from a JSON file, shaped as an array
// of {"name": ..., "url": ...} objects.
func LoadFile(path string) ([]Extract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read extracts file: %w", err)
	}

	var extracts []Extract
	if err := json.Unmarshal(data, &extracts); err != nil {
		return nil, fmt.Errorf("parse extracts file %s: %w", path, err)
	}

	return extracts, nil
}

// Filter returns the subset of extracts whose Name appears in where.
// An empty where returns extracts unchanged.
func Filter(extracts []Extract, where []string) []Extract {
	if len(where) == 0 {
		return extracts
	}

	wanted := make(map[string]bool, len(where))
	for _, name := range where {
		wanted[name] = true
	}

	filtered := make([]Extract, 0, len(extracts))
	for _, e := range extracts {
		if wanted[e.Name] {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// DedupeByPBF drops extracts that resolve to a PBF filename already
// seen earlier in the slice, preserving order. The original ingestion
// engine does this per cycle so multiple extract entries that happen
// to share a downloaded file are only imported once.
func DedupeByPBF(extracts []Extract) []Extract {
	seen := make(map[string]bool, len(extracts))
	deduped := make([]Extract, 0, len(extracts))
	for _, e := range extracts {
		pbf := e.PBFFilename()
		if seen[pbf] {
			continue
		}
		seen[pbf] = true
		deduped = append(deduped, e)
	}
	return deduped
}
