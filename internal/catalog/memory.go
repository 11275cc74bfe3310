package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryClient is an in-process catalog. It backs tests and dry runs where no
// PostgreSQL catalog is configured.
type MemoryClient struct {
	mu         sync.Mutex
	tables     map[string]*Table
	partitions map[string]map[string]*Partition // table key -> partition name -> partition
}

// NewMemoryClient returns an empty in-process catalog.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		tables:     make(map[string]*Table),
		partitions: make(map[string]map[string]*Partition),
	}
}

func tableKey(db, name string) string {
	return db + "." + name
}

func (m *MemoryClient) GetTable(_ context.Context, db, name string) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[tableKey(db, name)]
	if !ok {
		return nil, fmt.Errorf("get table %s.%s: %w", db, name, ErrNotFound)
	}
	return t.Clone(), nil
}

func (m *MemoryClient) CreateTable(_ context.Context, table *Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tableKey(table.DatabaseName, table.TableName)
	if _, ok := m.tables[key]; ok {
		return fmt.Errorf("create table %s: %w", key, ErrAlreadyExists)
	}
	m.tables[key] = table.Clone()
	m.partitions[key] = make(map[string]*Partition)
	return nil
}

func (m *MemoryClient) AlterTable(_ context.Context, db, name string, table *Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tableKey(db, name)
	if _, ok := m.tables[key]; !ok {
		return fmt.Errorf("alter table %s: %w", key, ErrNotFound)
	}
	m.tables[key] = table.Clone()
	return nil
}

func (m *MemoryClient) DropTable(_ context.Context, db, name string, _ bool, ignoreUnknown bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tableKey(db, name)
	if _, ok := m.tables[key]; !ok {
		if ignoreUnknown {
			return nil
		}
		return fmt.Errorf("drop table %s: %w", key, ErrNotFound)
	}
	delete(m.tables, key)
	delete(m.partitions, key)
	return nil
}

func (m *MemoryClient) ListPartitionNames(_ context.Context, db, name string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tableKey(db, name)
	t, ok := m.tables[key]
	if !ok {
		return nil, fmt.Errorf("list partitions %s: %w", key, ErrNotFound)
	}

	names := make([]string, 0, len(m.partitions[key]))
	for _, p := range m.partitions[key] {
		names = append(names, PartitionName(t.PartitionKeys, p.Values))
	}
	sort.Strings(names)
	if limit >= 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

func (m *MemoryClient) GetPartitionsByNames(_ context.Context, db, name string, names []string) ([]Partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tableKey(db, name)
	if _, ok := m.tables[key]; !ok {
		return nil, fmt.Errorf("get partitions %s: %w", key, ErrNotFound)
	}

	out := make([]Partition, 0, len(names))
	for _, n := range names {
		if p, ok := m.partitions[key][n]; ok {
			out = append(out, *p.Clone())
		}
	}
	return out, nil
}

func (m *MemoryClient) AddPartitions(_ context.Context, partitions []Partition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range partitions {
		p := &partitions[i]
		key := tableKey(p.DatabaseName, p.TableName)
		t, ok := m.tables[key]
		if !ok {
			return fmt.Errorf("add partition to %s: %w", key, ErrNotFound)
		}
		pname := PartitionName(t.PartitionKeys, p.Values)
		if _, exists := m.partitions[key][pname]; exists {
			return fmt.Errorf("add partition %s to %s: %w", pname, key, ErrAlreadyExists)
		}
		m.partitions[key][pname] = p.Clone()
	}
	return nil
}

func (m *MemoryClient) AlterPartitions(_ context.Context, db, name string, partitions []Partition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tableKey(db, name)
	t, ok := m.tables[key]
	if !ok {
		return fmt.Errorf("alter partitions of %s: %w", key, ErrNotFound)
	}
	for i := range partitions {
		pname := PartitionName(t.PartitionKeys, partitions[i].Values)
		if _, exists := m.partitions[key][pname]; !exists {
			return fmt.Errorf("alter partition %s of %s: %w", pname, key, ErrNotFound)
		}
		m.partitions[key][pname] = partitions[i].Clone()
	}
	return nil
}

func (m *MemoryClient) Close() error { return nil }
