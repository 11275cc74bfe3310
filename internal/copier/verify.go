package copier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
)

// ErrVerificationFailed is returned when a replica object does not match its
// source.
var ErrVerificationFailed = errors.New("replica verification failed")

// VerificationResult contains the outcome of checking one replica object.
type VerificationResult struct {
	Passed   bool
	Errors   []string
	ByteSize int64
	RowCount int64
}

// Err returns nil for a passing result.
func (r VerificationResult) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrVerificationFailed, strings.Join(r.Errors, "; "))
}

// verifyObject checks a copied object:
// - it exists in the replica store
// - its size matches the source listing
// - when countRows is set, .parquet files open and report a row count
func verifyObject(ctx context.Context, dst storage.Store, task copyTask, countRows bool) VerificationResult {
	result := VerificationResult{Passed: true}

	info, err := dst.Head(ctx, task.DstKey)
	if err != nil {
		result.Passed = false
		result.Errors = append(result.Errors, fmt.Sprintf("replica object %s unreadable: %v", task.DstKey, err))
		return result
	}
	result.ByteSize = info.Size

	if info.Size != task.Size {
		result.Passed = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("size mismatch for %s: have %d, expected %d", task.DstKey, info.Size, task.Size))
	}

	if countRows && strings.HasSuffix(task.DstKey, ".parquet") {
		rows, err := countParquetRows(ctx, dst, task.DstKey)
		if err != nil {
			result.Passed = false
			result.Errors = append(result.Errors, fmt.Sprintf("parquet check for %s: %v", task.DstKey, err))
		} else {
			result.RowCount = rows
		}
	}

	return result
}

// countParquetRows reads the file footer. The object is buffered in memory
// because parquet needs random access.
func countParquetRows(ctx context.Context, s storage.Store, key string) (int64, error) {
	r, err := s.NewReader(ctx, key)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}

	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open parquet: %w", err)
	}
	return f.NumRows(), nil
}
