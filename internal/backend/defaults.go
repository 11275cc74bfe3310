package backend

import (
	"fmt"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/copier"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
)

func isS3(scheme string) bool {
	switch scheme {
	case "s3", "s3a", "s3n":
		return true
	}
	return false
}

func isHDFS(scheme string) bool {
	return scheme == "hdfs"
}

func isBlob(scheme string) bool {
	switch scheme {
	case "gs", "file", "mem":
		return true
	}
	return false
}

func newStreamCopier(opener *storage.Opener, opts copier.Options) (copier.Copier, error) {
	if s := opts.CopyStrategy(); s != copier.StrategyStream {
		return nil, fmt.Errorf("unsupported copy strategy %q", s)
	}
	return copier.NewStreamCopier(opener), nil
}

func newManipulator(opener *storage.Opener) storage.DataManipulator {
	return storage.NewManipulator(opener)
}

// S3ToS3 copies between S3 buckets, server-side within a bucket.
var S3ToS3 = Backend{
	Name:               "s3-s3",
	Supports:           func(src, dst string) bool { return isS3(src) && isS3(dst) },
	NewCopier:          newStreamCopier,
	NewDataManipulator: newManipulator,
}

// HDFSToS3 uploads from an HDFS cluster to S3.
var HDFSToS3 = Backend{
	Name:               "hdfs-s3",
	Supports:           func(src, dst string) bool { return isHDFS(src) && isS3(dst) },
	NewCopier:          newStreamCopier,
	NewDataManipulator: newManipulator,
}

// HDFSToHDFS copies within or between HDFS clusters.
var HDFSToHDFS = Backend{
	Name:               "hdfs-hdfs",
	Supports:           func(src, dst string) bool { return isHDFS(src) && isHDFS(dst) },
	NewCopier:          newStreamCopier,
	NewDataManipulator: newManipulator,
}

// Blob handles the remaining gocloud.dev bucket pairs: GCS, local files and
// memory on either side, and S3 to any of those.
var Blob = Backend{
	Name: "blob",
	Supports: func(src, dst string) bool {
		if isBlob(src) {
			return isBlob(dst) || isS3(dst)
		}
		return isS3(src) && isBlob(dst)
	},
	NewCopier:          newStreamCopier,
	NewDataManipulator: newManipulator,
}

// DefaultRegistry returns the registry used by the replicator.
func DefaultRegistry() *Registry {
	return NewRegistry(S3ToS3, HDFSToS3, HDFSToHDFS, Blob)
}
