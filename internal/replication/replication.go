// Package replication runs one table replication: source snapshot, backend
// selection, event-scoped copy, replica catalog publish and housekeeping.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/audit"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/backend"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/batch"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/catalog"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/config"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/copier"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/location"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/logging"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/teardown"
)

var (
	// ErrSourceTableNotFound is returned when the source table does not exist.
	ErrSourceTableNotFound = errors.New("source table not found")

	// ErrReplicaTableNotFound is returned by metadata updates without a replica.
	ErrReplicaTableNotFound = errors.New("replica table not found")

	// ErrNotReplicaTable is returned when the replica table exists but was not
	// written by a replication.
	ErrNotReplicaTable = errors.New("existing table is not a replica")
)

// Config holds settings shared by every replication.
type Config struct {
	SourceCatalogName   string
	ReplicaBaseLocation string
	CopierOptions       copier.Options
}

// Result describes a completed run.
type Result struct {
	EventID         string
	ReplicaTable    string
	TableLocation   string
	Backend         string
	MetadataOnly    bool
	Partitions      int
	DeletedLocation string
	PreviousEventID string
	Copy            copier.Metrics
	Duration        time.Duration
}

// Replicator replicates tables from a source catalog into a replica catalog.
// It holds no per-table state; every run re-reads the catalogs.
type Replicator struct {
	cfg      Config
	source   catalog.Client
	replica  catalog.Client
	registry *backend.Registry
	opener   *storage.Opener
	teardown *teardown.Service

	listener copier.Listener
	emitter  audit.Emitter
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithListener adds a copier lifecycle listener.
func WithListener(l copier.Listener) Option {
	return func(r *Replicator) { r.listener = l }
}

// WithEmitter sets the audit emitter.
func WithEmitter(e audit.Emitter) Option {
	return func(r *Replicator) { r.emitter = e }
}

// WithMetrics records run metrics and adds the copier metrics listener.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Replicator) { r.metrics = m }
}

// WithClock overrides the time source used for event ids.
func WithClock(now func() time.Time) Option {
	return func(r *Replicator) { r.now = now }
}

// New creates a Replicator.
func New(cfg Config, source, replica catalog.Client, registry *backend.Registry, opener *storage.Opener, opts ...Option) *Replicator {
	r := &Replicator{
		cfg:      cfg,
		source:   source,
		replica:  replica,
		registry: registry,
		opener:   opener,
		teardown: teardown.NewService(),
		emitter:  audit.NoopEmitter{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Replicator) copyListener() copier.Listener {
	var ls copier.Listeners
	if r.listener != nil {
		ls = append(ls, r.listener)
	}
	if r.metrics != nil {
		ls = append(ls, r.metrics.Listener())
	}
	return ls
}

// Replicate runs one replication of tr. The run is sequential: the copy
// completes before the replica is published, and the replica is published
// before superseded data is deleted.
func (r *Replicator) Replicate(ctx context.Context, tr config.TableReplication) (Result, error) {
	start := r.now()
	res, err := r.replicate(ctx, tr)
	res.Duration = r.now().Sub(start)
	if r.metrics != nil {
		r.metrics.ObserveReplication(tr.ReplicaTable.QualifiedName(), tr.ReplicationMode, res.Duration, err)
	}
	return res, err
}

func (r *Replicator) replicate(ctx context.Context, tr config.TableReplication) (Result, error) {
	srcDB, srcName := tr.SourceTable.DatabaseName, tr.SourceTable.TableName
	dstDB, dstName := tr.ReplicaTable.DatabaseName, tr.ReplicaTable.TableName
	res := Result{ReplicaTable: tr.ReplicaTable.QualifiedName()}
	metadataUpdate := tr.ReplicationMode == config.ModeMetadataUpdate

	source, err := r.source.GetTable(ctx, srcDB, srcName)
	if errors.Is(err, catalog.ErrNotFound) {
		return res, fmt.Errorf("get source table %s.%s: %w", srcDB, srcName, ErrSourceTableNotFound)
	}
	if err != nil {
		return res, fmt.Errorf("get source table %s.%s: %w", srcDB, srcName, err)
	}

	var partitions []catalog.Partition
	if source.IsPartitioned() {
		partitions, err = r.sourcePartitions(ctx, source, tr.SourceTable.PartitionFilter)
		if err != nil {
			return res, err
		}
	}

	tableBase, err := location.TableBase(tr.ReplicaTable.TableLocation, r.cfg.ReplicaBaseLocation, dstDB, dstName)
	if err != nil {
		return res, err
	}

	var be backend.Backend
	if !metadataUpdate {
		be, err = r.registry.SelectFor(source.Location, tableBase.String())
		if err != nil {
			return res, err
		}
		res.Backend = be.Name
	}

	existing, err := r.existingReplica(ctx, dstDB, dstName)
	if err != nil {
		return res, err
	}
	if metadataUpdate && existing == nil {
		return res, fmt.Errorf("metadata update of %s.%s: %w", dstDB, dstName, ErrReplicaTableNotFound)
	}
	if existing != nil && tr.ReplicationMode == config.ModeFullOverwrite {
		if err := r.teardown.DropTableAndData(ctx, r.replica, dstDB, dstName, be.NewDataManipulator(r.opener)); err != nil {
			return res, fmt.Errorf("overwrite replica %s.%s: %w", dstDB, dstName, err)
		}
		existing = nil
	}

	plan := location.NewPlan(location.Request{
		TableBase:         tableBase,
		Source:            source,
		Existing:          existing,
		SourcePartitions:  len(partitions),
		ForceMetadataOnly: metadataUpdate,
		Now:               r.now(),
	})
	res.EventID = plan.EventID
	res.TableLocation = plan.TableLocation
	res.MetadataOnly = plan.MetadataOnly
	res.PreviousEventID = plan.PreviousEventID

	log := logging.RunLogger(ctx, plan.EventID, source.QualifiedName(), res.ReplicaTable)
	log.Info("starting replication",
		"mode", tr.ReplicationMode,
		"backend", be.Name,
		"partitions", len(partitions),
		"metadata_only", plan.MetadataOnly,
		"previous_event_id", plan.PreviousEventID,
	)

	if !plan.MetadataOnly {
		res.Copy, err = r.copy(ctx, be, tr, source, partitions, plan)
		if err != nil {
			return res, err
		}
	}

	replicaTable := r.replicaTable(source, tr, plan)
	if err := r.replicateAvroSchema(ctx, replicaTable, existing, plan, log); err != nil {
		return res, err
	}
	if existing == nil {
		err = r.replica.CreateTable(ctx, replicaTable)
	} else {
		err = r.replica.AlterTable(ctx, dstDB, dstName, replicaTable)
	}
	if err != nil {
		return res, fmt.Errorf("publish replica table %s: %w", res.ReplicaTable, err)
	}

	if source.IsPartitioned() {
		res.Partitions, err = r.publishPartitions(ctx, source, partitions, replicaTable, plan, existing != nil, log)
		if err != nil {
			return res, err
		}
		if r.metrics != nil {
			r.metrics.AddPartitionsReplicated(res.ReplicaTable, res.Partitions)
		}
	}

	if tr.Housekeeping && plan.Superseded != "" {
		if err := be.NewDataManipulator(r.opener).Delete(ctx, plan.Superseded); err != nil {
			return res, fmt.Errorf("delete superseded location of %s: %w", res.ReplicaTable, err)
		}
		res.DeletedLocation = plan.Superseded
		if r.metrics != nil {
			r.metrics.IncDataDeletions(res.ReplicaTable)
		}
		log.Info("deleted superseded location", "location", plan.Superseded)
	}

	if err := r.emitter.Emit(ctx, r.auditEvent(source, tr, plan, res)); err != nil {
		return res, fmt.Errorf("emit audit event: %w", err)
	}

	log.Info("replication complete",
		"table_location", plan.TableLocation,
		"files", res.Copy.FilesReplicated,
		"bytes", res.Copy.BytesReplicated,
		"partitions", res.Partitions,
	)
	return res, nil
}

// sourcePartitions lists partition names, applies the optional filter and
// resolves the remaining names in catalog-sized batches.
func (r *Replicator) sourcePartitions(ctx context.Context, source *catalog.Table, filter string) ([]catalog.Partition, error) {
	db, name := source.DatabaseName, source.TableName
	names, err := r.source.ListPartitionNames(ctx, db, name, -1)
	if err != nil {
		return nil, fmt.Errorf("list source partitions of %s: %w", source.QualifiedName(), err)
	}

	if filter != "" {
		re, err := regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("compile partition filter: %w", err)
		}
		kept := names[:0:0]
		for _, n := range names {
			if re.MatchString(n) {
				kept = append(kept, n)
			}
		}
		names = kept
	}

	partitions, err := batch.ForEach(names, batch.DefaultSize, func(b []string) ([]catalog.Partition, error) {
		return r.source.GetPartitionsByNames(ctx, db, name, b)
	})
	if err != nil {
		return nil, fmt.Errorf("get source partitions of %s: %w", source.QualifiedName(), err)
	}
	return partitions, nil
}

func (r *Replicator) existingReplica(ctx context.Context, db, name string) (*catalog.Table, error) {
	existing, err := r.replica.GetTable(ctx, db, name)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get replica table %s.%s: %w", db, name, err)
	}
	if _, ok := existing.Parameter(catalog.ParamReplicationEvent); !ok {
		return nil, fmt.Errorf("replica %s.%s: %w", db, name, ErrNotReplicaTable)
	}
	return existing, nil
}

func (r *Replicator) copy(ctx context.Context, be backend.Backend, tr config.TableReplication, source *catalog.Table, partitions []catalog.Partition, plan location.Plan) (copier.Metrics, error) {
	opts := r.cfg.CopierOptions.Merge(tr.CopierOptions)
	c, err := be.NewCopier(r.opener, opts)
	if err != nil {
		return copier.Metrics{}, fmt.Errorf("create %s copier: %w", be.Name, err)
	}

	cc := copier.Context{
		EventID:            plan.EventID,
		SourceBaseLocation: source.Location,
		ReplicaLocation:    plan.DataLocation.String(),
		Options:            opts,
		SourceTable:        source,
		SourcePartitions:   partitions,
	}
	for _, p := range partitions {
		if p.Location != "" {
			cc.SourceSubLocations = append(cc.SourceSubLocations, p.Location)
		}
	}

	m, err := copier.Run(ctx, be.Name, c, r.copyListener(), cc)
	if err != nil {
		return m, fmt.Errorf("copy %s: %w", source.QualifiedName(), err)
	}
	return m, nil
}

// replicaTable shapes the source definition into an external replica table
// stamped with provenance parameters.
func (r *Replicator) replicaTable(source *catalog.Table, tr config.TableReplication, plan location.Plan) *catalog.Table {
	t := source.Clone()
	t.DatabaseName = tr.ReplicaTable.DatabaseName
	t.TableName = tr.ReplicaTable.TableName
	t.TableType = catalog.ExternalTable
	t.Location = plan.TableLocation
	if t.Parameters == nil {
		t.Parameters = make(map[string]string)
	}
	for k, v := range provenance(source, r.cfg.SourceCatalogName, tr.ReplicationMode, plan.EventID, r.now()) {
		t.Parameters[k] = v
	}
	t.Parameters[catalog.ParamExternal] = "TRUE"
	return t
}

func provenance(source *catalog.Table, sourceCatalog, mode, eventID string, now time.Time) map[string]string {
	return map[string]string{
		catalog.ParamReplicationEvent: eventID,
		catalog.ParamReplicationMode:  mode,
		catalog.ParamSourceTable:      source.QualifiedName(),
		catalog.ParamSourceLocation:   source.Location,
		catalog.ParamSourceCatalog:    sourceCatalog,
		catalog.ParamLastReplicated:   now.UTC().Format(time.RFC3339),
	}
}

// publishPartitions registers replica partitions. Copied partitions point at
// the new event location; metadata-only runs keep the locations of existing
// replica partitions and skip partitions the replica does not have.
func (r *Replicator) publishPartitions(ctx context.Context, source *catalog.Table, partitions []catalog.Partition, replica *catalog.Table, plan location.Plan, replicaExisted bool, log *slog.Logger) (int, error) {
	if len(partitions) == 0 {
		return 0, nil
	}
	db, name := replica.DatabaseName, replica.TableName

	current := make(map[string]catalog.Partition)
	if replicaExisted {
		names, err := r.replica.ListPartitionNames(ctx, db, name, -1)
		if err != nil {
			return 0, fmt.Errorf("list replica partitions of %s: %w", replica.QualifiedName(), err)
		}
		existing, err := batch.ForEach(names, batch.DefaultSize, func(b []string) ([]catalog.Partition, error) {
			return r.replica.GetPartitionsByNames(ctx, db, name, b)
		})
		if err != nil {
			return 0, fmt.Errorf("get replica partitions of %s: %w", replica.QualifiedName(), err)
		}
		for _, p := range existing {
			current[catalog.PartitionName(replica.PartitionKeys, p.Values)] = p
		}
	}

	sourceBase, err := storage.ParseLocation(source.Location)
	if err != nil && !plan.MetadataOnly {
		return 0, fmt.Errorf("parse source location: %w", err)
	}

	var toAdd, toAlter []catalog.Partition
	skipped := 0
	for _, sp := range partitions {
		p := sp.Clone()
		p.DatabaseName, p.TableName = db, name
		if p.Parameters == nil {
			p.Parameters = make(map[string]string)
		}
		p.Parameters[catalog.ParamReplicationEvent] = plan.EventID

		prev, exists := current[catalog.PartitionName(source.PartitionKeys, sp.Values)]
		if plan.MetadataOnly {
			if !exists {
				skipped++
				continue
			}
			p.Location = prev.Location
		} else {
			p.Location = replicaPartitionLocation(sourceBase, sp.Location, plan)
		}

		if exists {
			toAlter = append(toAlter, *p)
		} else {
			toAdd = append(toAdd, *p)
		}
	}
	if skipped > 0 {
		log.Warn("metadata update skipped partitions missing from replica", "skipped", skipped)
	}

	if _, err := batch.ForEach(toAdd, batch.DefaultSize, func(b []catalog.Partition) ([]struct{}, error) {
		return nil, r.replica.AddPartitions(ctx, b)
	}); err != nil {
		return 0, fmt.Errorf("add replica partitions of %s: %w", replica.QualifiedName(), err)
	}
	if _, err := batch.ForEach(toAlter, batch.DefaultSize, func(b []catalog.Partition) ([]struct{}, error) {
		return nil, r.replica.AlterPartitions(ctx, db, name, b)
	}); err != nil {
		return 0, fmt.Errorf("alter replica partitions of %s: %w", replica.QualifiedName(), err)
	}
	return len(toAdd) + len(toAlter), nil
}

// replicaPartitionLocation maps a source partition beneath the source base to
// the same relative path beneath the event data location.
func replicaPartitionLocation(sourceBase storage.Location, partitionLocation string, plan location.Plan) string {
	loc, err := storage.ParseLocation(partitionLocation)
	if err != nil {
		return ""
	}
	rel, ok := loc.Rel(sourceBase)
	if !ok {
		return ""
	}
	return plan.DataLocation.Join(rel).String()
}

func (r *Replicator) auditEvent(source *catalog.Table, tr config.TableReplication, plan location.Plan, res Result) *audit.Event {
	return &audit.Event{
		EventID:   plan.EventID,
		Timestamp: r.now().UTC(),
		Replication: audit.ReplicationInfo{
			SourceCatalog:   r.cfg.SourceCatalogName,
			SourceTable:     source.QualifiedName(),
			SourceLocation:  source.Location,
			ReplicaTable:    res.ReplicaTable,
			ReplicaLocation: plan.TableLocation,
			Mode:            tr.ReplicationMode,
			Backend:         res.Backend,
			MetadataOnly:    plan.MetadataOnly,
			Partitions:      res.Partitions,
		},
		Copy: audit.CopyInfo{
			BytesReplicated: res.Copy.BytesReplicated,
			FilesReplicated: res.Copy.FilesReplicated,
			RowsVerified:    res.Copy.RowsVerified,
			DurationMs:      res.Copy.Duration.Milliseconds(),
		},
		Producer: audit.ProducerInfo{Name: "table-replicator", Version: Version},
	}
}

// Version is stamped into audit events; overridden at build time.
var Version = "dev"
