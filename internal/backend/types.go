// Package backend defines the object-store client abstraction ffbox mounts
// on top of: a small interface satisfied by an S3-compatible backend and a
// local-directory backend, dispatched by URL scheme at mount time.
package backend

import (
	"context"
	"time"
)

// ObjectInfo describes metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	ContentType  string
}

// ListResult is the result of a non-recursive prefix listing, split into
// plain keys (objects directly under the prefix) and common prefixes
// (the "directories" one delimiter level down).
type ListResult struct {
	Keys            []ObjectInfo
	CommonPrefixes  []string
	IsTruncated     bool
	ContinuationKey string
}

// Backend is the interface ffbox's filesystem, manifest, and chunked
// readers use to reach an object store. Two implementations exist:
// s3backend.Backend for s3:// sources and localbackend.Backend for
// plain directory trees (used by `deploy` and file:// sources).
type Backend interface {
	// Head returns metadata for a single key, or an ffbox ErrCodeObjectNotFound
	// error (via pkg/ferrors) when the key does not exist.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List enumerates keys under prefix, stopping at the next delimiter
	// (pass "/" to list one directory level, "" to list recursively).
	List(ctx context.Context, prefix, delimiter string) (*ListResult, error)

	// Get fetches the whole object.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetRange fetches an inclusive byte range [start, endInclusive].
	GetRange(ctx context.Context, key string, start, endInclusive int64) ([]byte, error)

	// Put stores data at key.
	Put(ctx context.Context, key string, data []byte) error

	// Download streams key directly to a local file path, used for
	// whole-object fetches that don't need to pass through memory twice.
	Download(ctx context.Context, key, localPath string) error
}
