// Package teardown drops replica tables, optionally deleting their data
// first.
package teardown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/batch"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/catalog"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
)

// Service drops tables. It keeps no state between calls and never retries.
type Service struct {
	batchSize int
	log       *slog.Logger
}

// NewService returns a Service that resolves partitions in batches of
// batch.DefaultSize.
func NewService() *Service {
	return &Service{
		batchSize: batch.DefaultSize,
		log:       slog.With("component", "teardown"),
	}
}

// DropTable drops the table metadata only. A missing table is not an error.
func (s *Service) DropTable(ctx context.Context, client catalog.Client, db, name string) error {
	return s.drop(ctx, client, db, name, nil)
}

// DropTableAndData deletes the table's data through m and then drops the
// table. When any deletion fails the table is left in place and nothing
// already deleted is restored.
func (s *Service) DropTableAndData(ctx context.Context, client catalog.Client, db, name string, m storage.DataManipulator) error {
	if m == nil {
		return errors.New("drop table and data: nil data manipulator")
	}
	return s.drop(ctx, client, db, name, m)
}

func (s *Service) drop(ctx context.Context, client catalog.Client, db, name string, m storage.DataManipulator) error {
	log := s.log.With("table", db+"."+name)

	table, err := client.GetTable(ctx, db, name)
	if errors.Is(err, catalog.ErrNotFound) {
		log.Info("table not found, nothing to drop")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get table %s.%s: %w", db, name, err)
	}

	// EXTERNAL=TRUE must be the only parameter left before the drop.
	if table.IsExternal() {
		table.Parameters = map[string]string{catalog.ParamExternal: "TRUE"}
		if err := client.AlterTable(ctx, db, name, table); err != nil {
			return fmt.Errorf("normalize parameters of %s.%s: %w", db, name, err)
		}
	}

	if m != nil {
		if err := s.deleteData(ctx, client, table, m); err != nil {
			return err
		}
	}

	if err := client.DropTable(ctx, db, name, true, true); err != nil {
		return fmt.Errorf("drop table %s.%s: %w", db, name, err)
	}
	log.Info("dropped table", "with_data", m != nil)
	return nil
}

func (s *Service) deleteData(ctx context.Context, client catalog.Client, table *catalog.Table, m storage.DataManipulator) error {
	db, name := table.DatabaseName, table.TableName

	if !table.IsPartitioned() {
		if table.Location == "" {
			return nil
		}
		if err := m.Delete(ctx, table.Location); err != nil {
			return fmt.Errorf("delete data of %s.%s: %w", db, name, err)
		}
		return nil
	}

	names, err := client.ListPartitionNames(ctx, db, name, -1)
	if err != nil {
		return fmt.Errorf("list partitions of %s.%s: %w", db, name, err)
	}

	// Each batch is resolved and deleted before the next one is requested.
	partitions, err := batch.ForEach(names, s.batchSize, func(b []string) ([]catalog.Partition, error) {
		ps, err := client.GetPartitionsByNames(ctx, db, name, b)
		if err != nil {
			return nil, fmt.Errorf("get partitions: %w", err)
		}
		for _, p := range ps {
			if p.Location == "" {
				continue
			}
			if err := m.Delete(ctx, p.Location); err != nil {
				return nil, fmt.Errorf("delete partition data: %w", err)
			}
		}
		return ps, nil
	})
	if err != nil {
		return fmt.Errorf("delete partitions of %s.%s: %w", db, name, err)
	}
	s.log.Debug("deleted partition data", "table", table.QualifiedName(), "partitions", len(partitions))
	return nil
}
