package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string // MD5 for S3/GCS, empty for local and HDFS
	ModTime time.Time
}

// Store is a single bucket (or HDFS namespace) addressed by slash-separated
// keys without a leading slash.
type Store interface {
	// List returns every object beneath the directory dir, recursively.
	List(ctx context.Context, dir string) ([]ObjectInfo, error)

	NewReader(ctx context.Context, key string) (io.ReadCloser, error)

	// NewWriter returns a writer whose content becomes visible at key on a
	// successful Close.
	NewWriter(ctx context.Context, key string) (io.WriteCloser, error)

	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error

	// RemoveAll deletes dir and everything beneath it. A missing dir is not
	// an error.
	RemoveAll(ctx context.Context, dir string) error

	Close() error
}

// ServerSideCopier is implemented by stores that can copy an object without
// streaming it through the client.
type ServerSideCopier interface {
	CopyObject(ctx context.Context, dstKey, srcKey string) error
}
