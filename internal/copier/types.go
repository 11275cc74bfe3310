package copier

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/catalog"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
)

// ErrInvalidContext is returned when a Context fails validation.
var ErrInvalidContext = errors.New("invalid copy context")

// Option keys understood by the stream copier. Unknown keys pass through to
// backends untouched.
const (
	OptionWorkers       = "workers"
	OptionVerifyParquet = "verify_parquet"
	OptionCopyStrategy  = "copy_strategy"
	OptionRetries       = "retries"
)

const (
	StrategyStream = "stream"

	defaultWorkers = 4
)

// Options are string-typed copier settings merged from global and per-table
// configuration.
type Options map[string]string

// Merge returns a copy of o overlaid with override.
func (o Options) Merge(override Options) Options {
	out := make(Options, len(o)+len(override))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Workers returns the worker pool size, at least 1.
func (o Options) Workers() int {
	n, err := strconv.Atoi(o[OptionWorkers])
	if err != nil || n < 1 {
		return defaultWorkers
	}
	return n
}

// Retries returns the number of extra attempts per object.
func (o Options) Retries() int {
	n, err := strconv.Atoi(o[OptionRetries])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// VerifyParquet reports whether copied .parquet files get their rows counted.
func (o Options) VerifyParquet() bool {
	b, _ := strconv.ParseBool(o[OptionVerifyParquet])
	return b
}

// CopyStrategy returns the configured strategy, defaulting to stream.
func (o Options) CopyStrategy() string {
	if s := strings.ToLower(o[OptionCopyStrategy]); s != "" {
		return s
	}
	return StrategyStream
}

// Context is the immutable input of a single copy.
type Context struct {
	EventID            string
	SourceBaseLocation string

	// SourceSubLocations are partition locations beneath the base. Empty
	// means the whole base location is copied.
	SourceSubLocations []string

	ReplicaLocation  string
	Options          Options
	SourceTable      *catalog.Table
	SourcePartitions []catalog.Partition
}

// Validate checks that every location parses and that each sub-location is
// a descendant of the base location.
func (c Context) Validate() error {
	base, err := storage.ParseLocation(c.SourceBaseLocation)
	if err != nil {
		return fmt.Errorf("%w: source base: %w", ErrInvalidContext, err)
	}
	if _, err := storage.ParseLocation(c.ReplicaLocation); err != nil {
		return fmt.Errorf("%w: replica: %w", ErrInvalidContext, err)
	}
	for _, sub := range c.SourceSubLocations {
		loc, err := storage.ParseLocation(sub)
		if err != nil {
			return fmt.Errorf("%w: sub-location: %w", ErrInvalidContext, err)
		}
		if !loc.IsDescendantOf(base) {
			return fmt.Errorf("%w: %s is not beneath %s", ErrInvalidContext, sub, c.SourceBaseLocation)
		}
	}
	return nil
}

// Metrics summarises a copy. Zero values are reported when a copy fails
// before any data moves.
type Metrics struct {
	BytesReplicated int64
	FilesReplicated int64
	RowsVerified    int64
	StartTime       time.Time
	Duration        time.Duration
}

// copyTask is one object sent to a worker.
type copyTask struct {
	SrcKey   string
	DstKey   string
	Size     int64
	Attempt  int
	MaxRetry int
}

type copyResult struct {
	Task     copyTask
	Bytes    int64
	Rows     int64
	Err      error
	Duration time.Duration
}
