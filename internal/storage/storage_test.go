package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		uri     string
		scheme  string
		host    string
		key     string
		wantErr bool
	}{
		{uri: "s3://bucket/db/table", scheme: "s3", host: "bucket", key: "db/table"},
		{uri: "S3://bucket/db/table/", scheme: "s3", host: "bucket", key: "db/table"},
		{uri: "hdfs://nn:8020/warehouse/t", scheme: "hdfs", host: "nn:8020", key: "warehouse/t"},
		{uri: "file:///tmp/data", scheme: "file", host: "", key: "tmp/data"},
		{uri: "mem://b", scheme: "mem", host: "b", key: ""},
		{uri: "/no/scheme", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			loc, err := ParseLocation(tt.uri)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidLocation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, loc.Scheme)
			assert.Equal(t, tt.host, loc.Host)
			assert.Equal(t, tt.key, loc.Key())
		})
	}
}

func TestLocationRel(t *testing.T) {
	base := MustParseLocation("s3://bucket/db/table")

	rel, ok := MustParseLocation("s3://bucket/db/table/p=1/f.parquet").Rel(base)
	require.True(t, ok)
	assert.Equal(t, "p=1/f.parquet", rel)

	rel, ok = base.Rel(base)
	require.True(t, ok)
	assert.Equal(t, "", rel)

	assert.False(t, MustParseLocation("s3://bucket/db/table2").IsDescendantOf(base))
	assert.False(t, MustParseLocation("s3://other/db/table/x").IsDescendantOf(base))
	assert.False(t, MustParseLocation("gs://bucket/db/table/x").IsDescendantOf(base))
	assert.True(t, MustParseLocation("mem://b/x").IsDescendantOf(MustParseLocation("mem://b")))
}

func TestLocationJoinAndString(t *testing.T) {
	loc := MustParseLocation("s3://bucket/db").Join("table", "ctt-1")
	assert.Equal(t, "s3://bucket/db/table/ctt-1", loc.String())
	assert.Equal(t, "s3://bucket/db/table", loc.Parent().String())
	assert.Equal(t, "ctt-1", loc.Base())
	assert.Equal(t, "mem://b", MustParseLocation("mem://b/").String())
}

func writeObject(t *testing.T, s Store, key, body string) {
	t.Helper()
	w, err := s.NewWriter(context.Background(), key)
	require.NoError(t, err)
	_, err = io.WriteString(w, body)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestBlobStoreOperations(t *testing.T) {
	ctx := context.Background()
	opener := NewOpener(Options{})
	defer opener.Close()

	s, err := opener.Open(ctx, MustParseLocation("mem://bucket"))
	require.NoError(t, err)

	writeObject(t, s, "db/t/a.parquet", "aaaa")
	writeObject(t, s, "db/t/sub/b.parquet", "bb")
	writeObject(t, s, "db/t2/c.parquet", "c")

	objs, err := s.List(ctx, "db/t")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "db/t/a.parquet", objs[0].Key)
	assert.Equal(t, int64(4), objs[0].Size)

	info, err := s.Head(ctx, "db/t/sub/b.parquet")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)

	_, err = s.Head(ctx, "db/t/missing")
	require.ErrorIs(t, err, ErrObjectNotFound)

	ssc, ok := s.(ServerSideCopier)
	require.True(t, ok)
	require.NoError(t, ssc.CopyObject(ctx, "db/copy/a.parquet", "db/t/a.parquet"))

	r, err := s.NewReader(ctx, "db/copy/a.parquet")
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "aaaa", string(body))

	require.NoError(t, s.RemoveAll(ctx, "db/t"))
	objs, err = s.List(ctx, "db/t")
	require.NoError(t, err)
	assert.Empty(t, objs)

	// Prefix siblings survive.
	objs, err = s.List(ctx, "db/t2")
	require.NoError(t, err)
	assert.Len(t, objs, 1)

	require.NoError(t, s.RemoveAll(ctx, "db/never-existed"))
}

func TestOpenerSharesMemoryBuckets(t *testing.T) {
	ctx := context.Background()
	opener := NewOpener(Options{})
	defer opener.Close()

	a, err := opener.Open(ctx, MustParseLocation("mem://shared/x"))
	require.NoError(t, err)
	b, err := opener.Open(ctx, MustParseLocation("mem://shared/y"))
	require.NoError(t, err)
	other, err := opener.Open(ctx, MustParseLocation("mem://other"))
	require.NoError(t, err)

	writeObject(t, a, "k", "v")
	_, err = b.Head(ctx, "k")
	require.NoError(t, err)
	_, err = other.Head(ctx, "k")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestOpenerUnsupportedScheme(t *testing.T) {
	opener := NewOpener(Options{})
	_, err := opener.Open(context.Background(), MustParseLocation("ftp://host/x"))
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestS3URL(t *testing.T) {
	o := NewOpener(Options{S3Endpoint: "https://minio:9000", S3Region: "us-east-1"})
	u := o.s3URL("bucket")
	assert.True(t, strings.HasPrefix(u, "s3://bucket?"))
	assert.Contains(t, u, "region=us-east-1")
	assert.Contains(t, u, "s3ForcePathStyle=true")

	assert.Equal(t, "s3://bucket", NewOpener(Options{}).s3URL("bucket"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opener := NewOpener(Options{})
	defer opener.Close()

	loc := MustParseLocation("file://" + dir)
	s, err := opener.Open(ctx, loc)
	require.NoError(t, err)

	writeObject(t, s, loc.Join("t", "part-0.parquet").Key(), "data")

	_, err = os.Stat(filepath.Join(dir, "t", "part-0.parquet"))
	require.NoError(t, err)

	m := NewManipulator(opener)
	require.NoError(t, m.Delete(ctx, loc.Join("t").String()))

	objs, err := s.List(ctx, loc.Join("t").Key())
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestManipulatorDelete(t *testing.T) {
	ctx := context.Background()
	opener := NewOpener(Options{})
	defer opener.Close()

	s, err := opener.Open(ctx, MustParseLocation("mem://b"))
	require.NoError(t, err)
	writeObject(t, s, "db/t/ctt-1/f1", "x")
	writeObject(t, s, "db/t/ctt-2/f1", "y")

	m := NewManipulator(opener)
	require.NoError(t, m.Delete(ctx, "mem://b/db/t/ctt-1"))

	objs, err := s.List(ctx, "db/t")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "db/t/ctt-2/f1", objs[0].Key)
}

func TestManipulatorDeleteErrors(t *testing.T) {
	m := NewManipulator(NewOpener(Options{}))
	ctx := context.Background()

	for _, loc := range []string{"no-scheme", "ftp://h/x", "mem://bucket"} {
		err := m.Delete(ctx, loc)
		require.ErrorIs(t, err, ErrDeletionFailed, loc)

		var de *DeletionError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, loc, de.Location)
	}

	err := m.Delete(ctx, "ftp://h/x")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestOpenerMount(t *testing.T) {
	ctx := context.Background()
	opener := NewOpener(Options{})
	defer opener.Close()

	mem := NewMemoryStore()
	opener.Mount(MustParseLocation("hdfs://namenode/"), mem)

	s, err := opener.Open(ctx, MustParseLocation("hdfs://namenode/warehouse/t"))
	require.NoError(t, err)
	writeObject(t, s, "warehouse/t/f", "x")

	_, err = mem.Head(ctx, "warehouse/t/f")
	require.NoError(t, err)
}
