package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/colinmarc/hdfs/v2"
	"github.com/google/uuid"
)

// hdfsStore reads and writes an HDFS namespace through the namenode at addr.
// Keys are paths relative to the filesystem root.
type hdfsStore struct {
	client *hdfs.Client
	addr   string
}

func newHDFSStore(addr, user string) (*hdfsStore, error) {
	client, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: []string{addr},
		User:      user,
	})
	if err != nil {
		return nil, fmt.Errorf("connect namenode %s: %w", addr, err)
	}
	return &hdfsStore{client: client, addr: addr}, nil
}

func abs(key string) string {
	return "/" + strings.TrimPrefix(key, "/")
}

func (s *hdfsStore) List(_ context.Context, dir string) ([]ObjectInfo, error) {
	root := abs(dir)
	var objs []ObjectInfo
	err := s.client.Walk(root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() || isTempName(info.Name()) {
			return nil
		}
		objs = append(objs, ObjectInfo{
			Key:     strings.TrimPrefix(p, "/"),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return objs, nil
}

func (s *hdfsStore) NewReader(_ context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Open(abs(key))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, hdfsNotFound(err))
	}
	return r, nil
}

// NewWriter writes to a temporary sibling and renames it into place on Close,
// so readers never observe a partial file.
func (s *hdfsStore) NewWriter(_ context.Context, key string) (io.WriteCloser, error) {
	final := abs(key)
	if err := s.client.MkdirAll(path.Dir(final), 0755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", key, err)
	}

	temp := final + ".tmp." + uuid.New().String()
	w, err := s.client.Create(temp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", temp, err)
	}
	return &hdfsWriter{client: s.client, w: w, temp: temp, final: final}, nil
}

func (s *hdfsStore) Head(_ context.Context, key string) (*ObjectInfo, error) {
	info, err := s.client.Stat(abs(key))
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, hdfsNotFound(err))
	}
	return &ObjectInfo{
		Key:     key,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (s *hdfsStore) Delete(_ context.Context, key string) error {
	if err := s.client.Remove(abs(key)); err != nil {
		return fmt.Errorf("delete %s: %w", key, hdfsNotFound(err))
	}
	return nil
}

func (s *hdfsStore) RemoveAll(_ context.Context, dir string) error {
	if err := s.client.RemoveAll(abs(dir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

func (s *hdfsStore) Close() error {
	return s.client.Close()
}

type hdfsWriter struct {
	client *hdfs.Client
	w      *hdfs.FileWriter
	temp   string
	final  string
}

func (w *hdfsWriter) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

func (w *hdfsWriter) Close() error {
	if err := w.w.Close(); err != nil {
		w.client.Remove(w.temp)
		return fmt.Errorf("close %s: %w", w.temp, err)
	}
	if err := w.client.Rename(w.temp, w.final); err != nil {
		w.client.Remove(w.temp)
		return fmt.Errorf("rename %s to %s: %w", w.temp, w.final, err)
	}
	return nil
}

func isTempName(name string) bool {
	return strings.Contains(name, ".tmp.")
}

func hdfsNotFound(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	}
	return err
}

var _ Store = (*hdfsStore)(nil)
