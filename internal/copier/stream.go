package copier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
)

// StreamCopier copies objects through a pool of workers. Objects are either
// copied server-side, when source and replica share a bucket, or streamed
// through the process. Every copied object is verified before it counts.
type StreamCopier struct {
	opener  *storage.Opener
	backoff time.Duration
	log     *slog.Logger
}

// NewStreamCopier creates a copier that opens stores through opener.
func NewStreamCopier(opener *storage.Opener) *StreamCopier {
	return &StreamCopier{
		opener:  opener,
		backoff: time.Second,
		log:     slog.With("component", "stream_copier"),
	}
}

// Copy copies every object beneath the source base location, or beneath
// each sub-location when present, to the same relative path under the
// replica location.
func (c *StreamCopier) Copy(ctx context.Context, cc Context) (Metrics, error) {
	m := Metrics{StartTime: time.Now()}
	fail := func(err error) (Metrics, error) {
		m.Duration = time.Since(m.StartTime)
		return m, &CopyError{Source: cc.SourceBaseLocation, Replica: cc.ReplicaLocation, Err: err}
	}

	if s := cc.Options.CopyStrategy(); s != StrategyStream {
		return fail(fmt.Errorf("unsupported copy strategy %q", s))
	}

	base, err := storage.ParseLocation(cc.SourceBaseLocation)
	if err != nil {
		return fail(err)
	}
	replica, err := storage.ParseLocation(cc.ReplicaLocation)
	if err != nil {
		return fail(err)
	}

	src, err := c.opener.Open(ctx, base)
	if err != nil {
		return fail(fmt.Errorf("open source store: %w", err))
	}
	dst, err := c.opener.Open(ctx, replica)
	if err != nil {
		return fail(fmt.Errorf("open replica store: %w", err))
	}

	tasks, err := c.plan(ctx, src, base, replica, cc)
	if err != nil {
		return fail(err)
	}

	workers := cc.Options.Workers()
	log := c.log.With("event_id", cc.EventID, "replica", cc.ReplicaLocation)
	log.Info("starting copy", "objects", len(tasks), "workers", workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workQueue := make(chan copyTask)
	resultChan := make(chan copyResult, workers)
	var wg sync.WaitGroup

	verify := cc.Options.VerifyParquet()
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range workQueue {
				resultChan <- c.processTask(ctx, src, dst, task, verify)
			}
		}()
	}

	go func() {
		defer close(workQueue)
		for _, task := range tasks {
			select {
			case <-ctx.Done():
				return
			case workQueue <- task:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var firstErr error
	for r := range resultChan {
		if r.Err != nil {
			if firstErr == nil {
				firstErr = r.Err
				cancel()
			}
			continue
		}
		m.BytesReplicated += r.Bytes
		m.FilesReplicated++
		m.RowsVerified += r.Rows
		log.Debug("object copied", "key", r.Task.DstKey, "bytes", r.Bytes, "duration_ms", r.Duration.Milliseconds())
	}

	m.Duration = time.Since(m.StartTime)
	if firstErr != nil {
		return m, &CopyError{Source: cc.SourceBaseLocation, Replica: cc.ReplicaLocation, Err: firstErr}
	}

	log.Info("copy complete",
		"files", m.FilesReplicated,
		"bytes", m.BytesReplicated,
		"rows_verified", m.RowsVerified,
		"duration_ms", m.Duration.Milliseconds(),
	)
	return m, nil
}

// plan lists the source objects and maps each to its replica key.
func (c *StreamCopier) plan(ctx context.Context, src storage.Store, base, replica storage.Location, cc Context) ([]copyTask, error) {
	dirs := []storage.Location{base}
	if len(cc.SourceSubLocations) > 0 {
		dirs = dirs[:0]
		for _, sub := range cc.SourceSubLocations {
			loc, err := storage.ParseLocation(sub)
			if err != nil {
				return nil, err
			}
			dirs = append(dirs, loc)
		}
	}

	maxRetry := cc.Options.Retries()
	seen := make(map[string]bool)
	var tasks []copyTask
	for _, dir := range dirs {
		objs, err := src.List(ctx, dir.Key())
		if err != nil {
			return nil, fmt.Errorf("list source %s: %w", dir, err)
		}
		for _, obj := range objs {
			if seen[obj.Key] {
				continue
			}
			seen[obj.Key] = true
			tasks = append(tasks, copyTask{
				SrcKey:   obj.Key,
				DstKey:   replica.Join(relKey(obj.Key, base.Key())).Key(),
				Size:     obj.Size,
				MaxRetry: maxRetry,
			})
		}
	}
	return tasks, nil
}

func relKey(key, baseKey string) string {
	if baseKey == "" {
		return key
	}
	return strings.TrimPrefix(key, baseKey+"/")
}

// processTask copies one object, retrying with exponential backoff.
func (c *StreamCopier) processTask(ctx context.Context, src, dst storage.Store, task copyTask, verify bool) copyResult {
	start := time.Now()
	for {
		bytes, rows, err := c.copyObject(ctx, src, dst, task, verify)
		if err == nil {
			return copyResult{Task: task, Bytes: bytes, Rows: rows, Duration: time.Since(start)}
		}
		if task.Attempt >= task.MaxRetry || ctx.Err() != nil {
			return copyResult{
				Task: task,
				Err:  fmt.Errorf("copy %s failed after %d attempts: %w", task.SrcKey, task.Attempt+1, err),
			}
		}

		c.log.Warn("object copy failed, retrying", "key", task.SrcKey, "attempt", task.Attempt+1, "error", err)
		backoff := c.backoff * time.Duration(1<<task.Attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return copyResult{Task: task, Err: ctx.Err()}
		}
		task.Attempt++
	}
}

func (c *StreamCopier) copyObject(ctx context.Context, src, dst storage.Store, task copyTask, verify bool) (int64, int64, error) {
	if ssc, ok := src.(storage.ServerSideCopier); ok && src == dst {
		if err := ssc.CopyObject(ctx, task.DstKey, task.SrcKey); err != nil {
			return 0, 0, err
		}
	} else if err := streamObject(ctx, src, dst, task.SrcKey, task.DstKey); err != nil {
		return 0, 0, err
	}

	result := verifyObject(ctx, dst, task, verify)
	if !result.Passed {
		return 0, 0, result.Err()
	}
	return result.ByteSize, result.RowCount, nil
}

func streamObject(ctx context.Context, src, dst storage.Store, srcKey, dstKey string) error {
	r, err := src.NewReader(ctx, srcKey)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := dst.NewWriter(ctx, dstKey)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("copy to %s: %w", dstKey, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", dstKey, err)
	}
	return nil
}

var _ Copier = (*StreamCopier)(nil)
