// Package location derives event-scoped replica locations and decides
// whether a run needs to copy data.
package location

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/catalog"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
)

// Event id type tags.
const (
	TagUnpartitioned = "ctt"
	TagPartitioned   = "ctp"
)

const timestampLayout = "20060102T150405.000Z"

var eventIDPattern = regexp.MustCompile(`^ct[tp]-\d{8}t\d{6}\.\d{3}z-\w{8}$`)

// ErrNoReplicaLocation is returned when neither a table location nor a
// catalog base location is configured.
var ErrNoReplicaLocation = errors.New("no replica location configured")

// NewEventID returns <tag>-<yyyymmdd>t<hhmmss>.<mmm>z-<8 random chars>.
func NewEventID(tag string, now time.Time) string {
	ts := strings.ToLower(now.UTC().Format(timestampLayout))
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return tag + "-" + ts + "-" + suffix
}

// IsEventID reports whether s has the shape of a generated event id.
func IsEventID(s string) bool {
	return eventIDPattern.MatchString(s)
}

// TagFor returns the event id tag for a source table.
func TagFor(t *catalog.Table) string {
	if t.IsPartitioned() {
		return TagPartitioned
	}
	return TagUnpartitioned
}

// TableBase resolves the stable base location of a replica table: the
// explicit table location when set, otherwise <catalogBase>/<db>/<table>.
func TableBase(tableLocation, catalogBase, db, table string) (storage.Location, error) {
	if tableLocation != "" {
		return storage.ParseLocation(tableLocation)
	}
	if catalogBase == "" {
		return storage.Location{}, fmt.Errorf("replica %s.%s: %w", db, table, ErrNoReplicaLocation)
	}
	base, err := storage.ParseLocation(catalogBase)
	if err != nil {
		return storage.Location{}, err
	}
	return base.Join(db, table), nil
}

// Plan is the location decision for one run.
type Plan struct {
	EventID string

	// TableBase is stable across runs.
	TableBase storage.Location

	// DataLocation receives copied data. It is always TableBase/<EventID>;
	// partition data lands beneath it at the partition's path relative to
	// the source base.
	DataLocation storage.Location

	// TableLocation is written to the replica table.
	TableLocation string

	// MetadataOnly runs skip the copier.
	MetadataOnly bool

	PreviousEventID  string
	PreviousLocation string

	// Superseded is a previous event location that is no longer referenced
	// once this run publishes. Empty when nothing can be cleaned up.
	Superseded string
}

// Request describes the inputs to planning.
type Request struct {
	TableBase storage.Location
	Source    *catalog.Table

	// Existing is the current replica table, nil when absent.
	Existing *catalog.Table

	// SourcePartitions is the number of partitions selected for copy.
	SourcePartitions int

	// ForceMetadataOnly requests a metadata update without a copy.
	ForceMetadataOnly bool

	Now time.Time
}

// NewPlan stamps a fresh event id and reconciles the derived locations with
// the existing replica.
func NewPlan(req Request) Plan {
	eventID := NewEventID(TagFor(req.Source), req.Now)
	p := Plan{
		EventID:      eventID,
		TableBase:    req.TableBase,
		DataLocation: req.TableBase.Join(eventID),
	}

	if req.Existing != nil {
		p.PreviousEventID, _ = req.Existing.Parameter(catalog.ParamReplicationEvent)
		p.PreviousLocation = req.Existing.Location
	}

	partitioned := req.Source.IsPartitioned()
	p.MetadataOnly = req.ForceMetadataOnly || (partitioned && req.SourcePartitions == 0)

	switch {
	case p.MetadataOnly && p.PreviousLocation != "":
		p.TableLocation = p.PreviousLocation
	case partitioned || p.MetadataOnly:
		p.TableLocation = req.TableBase.String()
	default:
		p.TableLocation = p.DataLocation.String()
	}

	if !partitioned && !p.MetadataOnly {
		p.Superseded = supersededLocation(req.TableBase, p.PreviousLocation, p.TableLocation)
	}
	return p
}

// supersededLocation returns previous only when it is an event directory
// directly beneath base and differs from the new location.
func supersededLocation(base storage.Location, previous, current string) string {
	if previous == "" || previous == current {
		return ""
	}
	prev, err := storage.ParseLocation(previous)
	if err != nil {
		return ""
	}
	if prev.Parent() != base || !IsEventID(prev.Base()) {
		return ""
	}
	return prev.String()
}
