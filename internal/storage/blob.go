package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// blobStore adapts a gocloud.dev bucket (S3, GCS, local files, memory).
type blobStore struct {
	bucket *blob.Bucket
}

func newBlobStore(bucket *blob.Bucket) *blobStore {
	return &blobStore{bucket: bucket}
}

func dirPrefix(dir string) string {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return ""
	}
	return dir + "/"
}

func (s *blobStore) List(ctx context.Context, dir string) ([]ObjectInfo, error) {
	var objs []ObjectInfo

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: dirPrefix(dir),
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		if obj.IsDir {
			continue
		}
		objs = append(objs, ObjectInfo{
			Key:     obj.Key,
			Size:    obj.Size,
			ModTime: obj.ModTime,
		})
	}

	return objs, nil
}

func (s *blobStore) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, notFound(err))
	}
	return r, nil
}

func (s *blobStore) NewWriter(ctx context.Context, key string) (io.WriteCloser, error) {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", key, err)
	}
	return w, nil
}

func (s *blobStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get attributes for %s: %w", key, notFound(err))
	}

	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ETag:    attrs.ETag,
		ModTime: attrs.ModTime,
	}, nil
}

func (s *blobStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, notFound(err))
	}
	return nil
}

func (s *blobStore) RemoveAll(ctx context.Context, dir string) error {
	objs, err := s.List(ctx, dir)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := s.bucket.Delete(ctx, obj.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("delete %s: %w", obj.Key, err)
		}
	}
	// A location may also name a single object.
	if key := strings.Trim(dir, "/"); key != "" {
		if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// CopyObject copies within the bucket using the provider's server-side copy.
func (s *blobStore) CopyObject(ctx context.Context, dstKey, srcKey string) error {
	if err := s.bucket.Copy(ctx, dstKey, srcKey, nil); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", srcKey, dstKey, notFound(err))
	}
	return nil
}

func (s *blobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

func notFound(err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	}
	return err
}

var (
	_ Store            = (*blobStore)(nil)
	_ ServerSideCopier = (*blobStore)(nil)
)
