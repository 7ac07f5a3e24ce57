// Package storage provides a pluggable object-storage abstraction used to
// sync the extra-data CSV overlays (POI tag supplements, addressing
// corrections, and similar non-OSM data) that the reconciler installs
// alongside each database's imposm3 import.
package storage

import (
	"context"
	"fmt"

	"github.com/geofleet/ingestd/internal/config"
)

// NewFromConfig creates a storage instance from the extra-data
// configuration block. Callers should check ExtraDataConfig.StorageType
// for emptiness before calling this -- an empty value means extra-data
// sync is disabled, not that it should fall back to a default.
func NewFromConfig(ctx context.Context, cfg config.ExtraDataConfig) (Storage, error) {
	switch cfg.StorageType {
	case "s3":
		return NewS3Storage(ctx, S3Config{
			Region:   cfg.Region,
			Bucket:   cfg.Bucket,
			Endpoint: cfg.Endpoint,
		})
	case "local":
		basePath := cfg.Dir
		if basePath == "" {
			basePath = "/var/lib/ingestd/extradata"
		}
		return NewLocalStorage(LocalConfig{
			BasePath: basePath,
		})
	default:
		return nil, fmt.Errorf("unsupported extra-data storage type: %s (supported: s3, local)", cfg.StorageType)
	}
}

// BuildExtraDataKey generates the object key for a database's extra-data
// CSV file, namespaced under the configured prefix so multiple databases
// can share one bucket without collision.
// Format: {prefix}/{databaseName}/{filename}
func BuildExtraDataKey(prefix, databaseName, filename string) string {
	if prefix == "" {
		return fmt.Sprintf("%s/%s", databaseName, filename)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, databaseName, filename)
}
