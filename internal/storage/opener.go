package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob" // S3 driver
)

// ErrUnsupportedScheme is returned when no store can serve a URI scheme.
var ErrUnsupportedScheme = errors.New("unsupported storage scheme")

// Options configures the stores an Opener creates.
type Options struct {
	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string

	HDFSUser string
}

// Opener opens and caches one Store per scheme and bucket. All callers that
// share an Opener see the same stores, which matters for mem:// buckets.
type Opener struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]Store
}

// NewOpener creates an Opener.
func NewOpener(opts Options) *Opener {
	return &Opener{
		opts:   opts,
		logger: slog.Default().With("component", "storage"),
		stores: make(map[string]Store),
	}
}

// Open returns the store that holds loc.
func (o *Opener) Open(ctx context.Context, loc Location) (Store, error) {
	cacheKey := canonicalScheme(loc.Scheme) + "://" + loc.Host

	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.stores[cacheKey]; ok {
		return s, nil
	}

	s, err := o.open(ctx, loc)
	if err != nil {
		return nil, err
	}
	o.stores[cacheKey] = s
	o.logger.Debug("opened store", "store", cacheKey)
	return s, nil
}

// Mount installs s as the store for loc's scheme and host, replacing any
// cached store.
func (o *Opener) Mount(loc Location, s Store) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stores[canonicalScheme(loc.Scheme)+"://"+loc.Host] = s
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() Store {
	return newBlobStore(memblob.OpenBucket(nil))
}

func (o *Opener) open(ctx context.Context, loc Location) (Store, error) {
	switch canonicalScheme(loc.Scheme) {
	case "s3":
		bucket, err := blob.OpenBucket(ctx, o.s3URL(loc.Host))
		if err != nil {
			return nil, fmt.Errorf("open S3 bucket %s: %w", loc.Host, err)
		}
		return newBlobStore(bucket), nil
	case "gs":
		bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", loc.Host))
		if err != nil {
			return nil, fmt.Errorf("open GCS bucket %s: %w", loc.Host, err)
		}
		return newBlobStore(bucket), nil
	case "file":
		bucket, err := fileblob.OpenBucket("/", nil)
		if err != nil {
			return nil, fmt.Errorf("open local filesystem: %w", err)
		}
		return newBlobStore(bucket), nil
	case "mem":
		return newBlobStore(memblob.OpenBucket(nil)), nil
	case "hdfs":
		return newHDFSStore(loc.Host, o.opts.HDFSUser)
	default:
		return nil, fmt.Errorf("open %s: %w: %q", loc, ErrUnsupportedScheme, loc.Scheme)
	}
}

func (o *Opener) s3URL(bucketName string) string {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if o.opts.S3Region != "" {
		params.Set("region", o.opts.S3Region)
	}
	if o.opts.S3Endpoint != "" {
		params.Set("endpoint", o.opts.S3Endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}
	return bucketURL
}

// Close releases every opened store.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	for k, s := range o.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", k, err))
		}
		delete(o.stores, k)
	}
	return errors.Join(errs...)
}

// canonicalScheme folds the Hadoop S3 connector schemes onto s3.
func canonicalScheme(scheme string) string {
	switch scheme {
	case "s3a", "s3n":
		return "s3"
	}
	return scheme
}
