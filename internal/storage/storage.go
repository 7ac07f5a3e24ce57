package storage

import (
	"context"
	"io"
	"time"
)

// Storage is the object-storage abstraction the extra-data syncer uses to
// fetch per-database CSV overlays before they're installed alongside an
// imposm3 import. Both the S3 and local-filesystem implementations satisfy
// it, so the reconciler never branches on storage backend.
type Storage interface {
	// Upload writes reader's content to key, tagging it with contentType
	// (e.g. "text/csv") and optional metadata.
	Upload(ctx context.Context, key string, reader io.Reader, contentType string, metadata map[string]string) error

	// Download opens key for reading. The caller must close the returned
	// ReadCloser.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// GetPresignedURL generates a time-limited URL for downloading key
	// without storage credentials.
	GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)

	// GetMetadata retrieves the metadata tags attached to key.
	GetMetadata(ctx context.Context, key string) (map[string]string, error)

	// ListObjects lists keys sharing prefix, e.g. a database's extra-data
	// namespace.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// GetObjectSize returns the size of key in bytes.
	GetObjectSize(ctx context.Context, key string) (int64, error)

	// Close releases any open connections.
	Close() error
}

// ObjectInfo describes a stored extra-data object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
	Metadata     map[string]string
}
