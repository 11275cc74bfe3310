package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/audit"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/backend"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/catalog"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/config"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/logging"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/replication"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/teardown"
)

// app holds the long-lived clients shared by the commands.
type app struct {
	cfg        config.Config
	source     catalog.Client
	replica    catalog.Client
	opener     *storage.Opener
	registry   *backend.Registry
	emitter    audit.Emitter
	replicator *replication.Replicator
	log        *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      logging.Component("main"),
		registry: backend.DefaultRegistry(),
		opener: storage.NewOpener(storage.Options{
			S3Endpoint: cfg.Storage.S3Endpoint,
			S3Region:   cfg.Storage.S3Region,
			HDFSUser:   cfg.Storage.HDFSUser,
		}),
	}

	var err error
	if a.source, err = openCatalog(ctx, cfg.SourceCatalog); err != nil {
		a.Close()
		return nil, fmt.Errorf("open source catalog: %w", err)
	}
	if a.replica, err = openCatalog(ctx, cfg.ReplicaCatalog); err != nil {
		a.Close()
		return nil, fmt.Errorf("open replica catalog: %w", err)
	}

	a.emitter, err = audit.NewEmitter(audit.Config{
		Enabled:  cfg.Audit.Enabled,
		Dir:      cfg.Audit.Dir,
		Endpoint: cfg.Audit.Endpoint,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create audit emitter: %w", err)
	}

	opts := []replication.Option{replication.WithEmitter(a.emitter)}
	if cfg.Metrics.Enabled {
		m := metrics.Init(cfg.Metrics.Namespace)
		opts = append(opts, replication.WithMetrics(m))
		go func() {
			a.log.Info("starting metrics server", "address", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				a.log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	a.replicator = replication.New(replication.Config{
		SourceCatalogName:   cfg.SourceCatalog.Name,
		ReplicaBaseLocation: cfg.ReplicaCatalog.BaseLocation,
		CopierOptions:       cfg.CopierOptions,
	}, a.source, a.replica, a.registry, a.opener, opts...)

	return a, nil
}

func openCatalog(ctx context.Context, cc config.CatalogConfig) (catalog.Client, error) {
	if cc.PostgresDSN == "" {
		slog.Warn("no postgres_dsn configured, using in-memory catalog", "catalog", cc.Name)
		return catalog.NewMemoryClient(), nil
	}
	c, err := catalog.NewPostgresClient(ctx, catalog.PostgresConfig{Name: cc.Name, DSN: cc.PostgresDSN})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// replicateAll runs every configured replication. A non-empty only limits
// the run to that replica table. A failed table does not stop the others.
func (a *app) replicateAll(ctx context.Context, only string) error {
	var errs []error
	matched := false
	for _, tr := range a.cfg.TableReplications {
		if only != "" && !strings.EqualFold(tr.ReplicaTable.QualifiedName(), only) {
			continue
		}
		matched = true
		if ctx.Err() != nil {
			return ctx.Err()
		}

		runCtx := logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
		res, err := a.replicator.Replicate(runCtx, tr)
		if err != nil {
			a.log.Error("replication failed",
				"source_table", tr.SourceTable.QualifiedName(),
				"replica_table", tr.ReplicaTable.QualifiedName(),
				"event_id", res.EventID,
				"correlation_id", logging.CorrelationID(runCtx),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", tr.ReplicaTable.QualifiedName(), err))
			continue
		}
		a.log.Info("replicated table",
			"replica_table", res.ReplicaTable,
			"event_id", res.EventID,
			"location", res.TableLocation,
			"metadata_only", res.MetadataOnly,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}
	if only != "" && !matched {
		return fmt.Errorf("no table replication configured for %s", only)
	}
	return errors.Join(errs...)
}

// dropReplica drops a replica table. With data, the table's data is deleted
// through the manipulator of the backend that claims its location.
func (a *app) dropReplica(ctx context.Context, db, name string, withData bool) error {
	svc := teardown.NewService()
	if !withData {
		return svc.DropTable(ctx, a.replica, db, name)
	}

	table, err := a.replica.GetTable(ctx, db, name)
	if errors.Is(err, catalog.ErrNotFound) {
		return svc.DropTable(ctx, a.replica, db, name)
	}
	if err != nil {
		return fmt.Errorf("get table %s.%s: %w", db, name, err)
	}
	if table.Location == "" {
		return fmt.Errorf("table %s.%s has no location to delete data from", db, name)
	}
	b, err := a.registry.SelectFor(table.Location, table.Location)
	if err != nil {
		return fmt.Errorf("drop table %s.%s: %w", db, name, err)
	}
	return svc.DropTableAndData(ctx, a.replica, db, name, b.NewDataManipulator(a.opener))
}

func (a *app) Close() {
	if a.emitter != nil {
		if err := a.emitter.Close(); err != nil {
			a.log.Warn("close audit emitter", "error", err)
		}
	}
	for _, c := range []catalog.Client{a.source, a.replica} {
		if c != nil {
			c.Close()
		}
	}
	if err := a.opener.Close(); err != nil {
		a.log.Warn("close storage", "error", err)
	}
}
