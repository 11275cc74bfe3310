package teardown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/catalog"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
)

type dropCall struct {
	db, name                  string
	deleteData, ignoreUnknown bool
}

// mockClient implements catalog.Client and records every call.
type mockClient struct {
	catalog.Client // unused methods panic

	mu         sync.Mutex
	table      *catalog.Table
	getErr     error
	names      []string
	partitions map[string]catalog.Partition

	calls      []string
	alters     []*catalog.Table
	drops      []dropCall
	batchSizes []int
	listLimit  int
}

func (m *mockClient) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockClient) GetTable(_ context.Context, db, name string) (*catalog.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("getTable")
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.table == nil {
		return nil, fmt.Errorf("get table %s.%s: %w", db, name, catalog.ErrNotFound)
	}
	return m.table.Clone(), nil
}

func (m *mockClient) AlterTable(_ context.Context, _, _ string, t *catalog.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("alterTable")
	m.alters = append(m.alters, t.Clone())
	return nil
}

func (m *mockClient) DropTable(_ context.Context, db, name string, deleteData, ignoreUnknown bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("dropTable")
	m.drops = append(m.drops, dropCall{db, name, deleteData, ignoreUnknown})
	return nil
}

func (m *mockClient) ListPartitionNames(_ context.Context, _, _ string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("listPartitionNames")
	m.listLimit = limit
	return m.names, nil
}

func (m *mockClient) GetPartitionsByNames(_ context.Context, _, _ string, names []string) ([]catalog.Partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("getPartitionsByNames")
	m.batchSizes = append(m.batchSizes, len(names))
	out := make([]catalog.Partition, 0, len(names))
	for _, n := range names {
		out = append(out, m.partitions[n])
	}
	return out, nil
}

// mockManipulator records deletes and fails on the configured location.
type mockManipulator struct {
	mu      sync.Mutex
	deleted []string
	failOn  string
}

func (m *mockManipulator) Delete(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if location == m.failOn {
		return &storage.DeletionError{Location: location, Err: errors.New("access denied")}
	}
	m.deleted = append(m.deleted, location)
	return nil
}

func unpartitioned(params map[string]string) *catalog.Table {
	return &catalog.Table{
		DatabaseName: "db",
		TableName:    "t",
		Location:     "s3://bucket/db/t/ctt-1",
		Parameters:   params,
	}
}

func partitioned(n int) (*catalog.Table, []string, map[string]catalog.Partition) {
	t := &catalog.Table{
		DatabaseName:  "db",
		TableName:     "t",
		Location:      "s3://bucket/db/t",
		PartitionKeys: []catalog.Column{{Name: "p", Type: "int"}},
		Parameters:    map[string]string{"EXTERNAL": "TRUE"},
	}
	names := make([]string, n)
	parts := make(map[string]catalog.Partition, n)
	for i := 0; i < n; i++ {
		v := fmt.Sprintf("%05d", i)
		names[i] = "p=" + v
		parts[names[i]] = catalog.Partition{
			DatabaseName: "db",
			TableName:    "t",
			Values:       []string{v},
			Location:     "s3://bucket/db/t/ctp-1/p=" + v,
		}
	}
	return t, names, parts
}

func TestDropTableNotFoundIsNoop(t *testing.T) {
	client := &mockClient{}
	m := &mockManipulator{}

	require.NoError(t, NewService().DropTable(context.Background(), client, "db", "t"))
	require.NoError(t, NewService().DropTableAndData(context.Background(), client, "db", "t", m))

	assert.Equal(t, []string{"getTable", "getTable"}, client.calls)
	assert.Empty(t, m.deleted)
}

func TestDropTableLookupFailure(t *testing.T) {
	client := &mockClient{getErr: catalog.ErrUnavailable}

	err := NewService().DropTable(context.Background(), client, "db", "t")
	assert.ErrorIs(t, err, catalog.ErrUnavailable)
	assert.Equal(t, []string{"getTable"}, client.calls)
}

func TestDropTableNormalizesExternalParameter(t *testing.T) {
	for _, params := range []map[string]string{
		{"EXTERNAL": "TRUE", "REPLICATION_EVENT": "ctt-1", "other": "x"},
		{"external": "true"},
		{"External": "True", "SOURCE_TABLE": "db.src"},
		{"EXTERNAL": "FALSE", "external": "true"},
	} {
		client := &mockClient{table: unpartitioned(params)}

		require.NoError(t, NewService().DropTable(context.Background(), client, "db", "t"))

		assert.Equal(t, []string{"getTable", "alterTable", "dropTable"}, client.calls)
		require.Len(t, client.alters, 1)
		assert.Equal(t, map[string]string{"EXTERNAL": "TRUE"}, client.alters[0].Parameters)
		assert.Equal(t, []dropCall{{"db", "t", true, true}}, client.drops)
	}
}

func TestDropTableManagedSkipsAlter(t *testing.T) {
	client := &mockClient{table: unpartitioned(map[string]string{"EXTERNAL": "false", "k": "v"})}

	require.NoError(t, NewService().DropTable(context.Background(), client, "db", "t"))
	assert.Equal(t, []string{"getTable", "dropTable"}, client.calls)
	assert.Empty(t, client.alters)
}

func TestDropTableWithoutExternalKeySkipsAlter(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
	}{
		{"nil parameters", nil},
		{"empty parameters", map[string]string{}},
		{"unrelated parameters", map[string]string{"k": "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{table: unpartitioned(tt.params)}

			require.NoError(t, NewService().DropTable(context.Background(), client, "db", "t"))
			assert.Equal(t, []string{"getTable", "dropTable"}, client.calls)
			assert.Empty(t, client.alters)
		})
	}
}

func TestDropTableAndDataUnpartitioned(t *testing.T) {
	client := &mockClient{table: unpartitioned(map[string]string{"EXTERNAL": "TRUE"})}
	m := &mockManipulator{}

	require.NoError(t, NewService().DropTableAndData(context.Background(), client, "db", "t", m))

	assert.Equal(t, []string{"s3://bucket/db/t/ctt-1"}, m.deleted)
	assert.Equal(t, []string{"getTable", "alterTable", "dropTable"}, client.calls)
}

func TestDropTableAndDataUnpartitionedDeleteFailure(t *testing.T) {
	client := &mockClient{table: unpartitioned(nil)}
	m := &mockManipulator{failOn: "s3://bucket/db/t/ctt-1"}

	err := NewService().DropTableAndData(context.Background(), client, "db", "t", m)
	assert.ErrorIs(t, err, storage.ErrDeletionFailed)
	assert.Empty(t, client.drops)
}

func TestDropTableAndDataPartitionedBatches(t *testing.T) {
	table, names, parts := partitioned(1001)
	client := &mockClient{table: table, names: names, partitions: parts}
	m := &mockManipulator{}

	require.NoError(t, NewService().DropTableAndData(context.Background(), client, "db", "t", m))

	assert.Equal(t, -1, client.listLimit)
	assert.Equal(t, []int{1000, 1}, client.batchSizes)
	require.Len(t, m.deleted, 1001)
	assert.Equal(t, "s3://bucket/db/t/ctp-1/p=00000", m.deleted[0])
	assert.Equal(t, "s3://bucket/db/t/ctp-1/p=01000", m.deleted[1000])
	assert.Equal(t, []dropCall{{"db", "t", true, true}}, client.drops)
	assert.Equal(t, "dropTable", client.calls[len(client.calls)-1])
}

func TestDropTableAndDataPartitionedDeleteFailure(t *testing.T) {
	table, names, parts := partitioned(5)
	client := &mockClient{table: table, names: names, partitions: parts}
	m := &mockManipulator{failOn: "s3://bucket/db/t/ctp-1/p=00002"}

	err := NewService().DropTableAndData(context.Background(), client, "db", "t", m)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrDeletionFailed)

	// Deletes stop at the failure and nothing is restored.
	assert.Equal(t, []string{"s3://bucket/db/t/ctp-1/p=00000", "s3://bucket/db/t/ctp-1/p=00001"}, m.deleted)
	assert.Empty(t, client.drops)
}

func TestDropTableAndDataStopsAtFailingBatch(t *testing.T) {
	table, names, parts := partitioned(1001)
	client := &mockClient{table: table, names: names, partitions: parts}
	m := &mockManipulator{failOn: "s3://bucket/db/t/ctp-1/p=00010"}

	err := NewService().DropTableAndData(context.Background(), client, "db", "t", m)
	assert.ErrorIs(t, err, storage.ErrDeletionFailed)

	// The second batch is never resolved once the first one fails.
	assert.Equal(t, []int{1000}, client.batchSizes)
	assert.Len(t, m.deleted, 10)
	assert.Empty(t, client.drops)
}

func TestDropTableAndDataPartitionedNoPartitions(t *testing.T) {
	table, _, _ := partitioned(0)
	client := &mockClient{table: table}
	m := &mockManipulator{}

	require.NoError(t, NewService().DropTableAndData(context.Background(), client, "db", "t", m))
	assert.Empty(t, client.batchSizes)
	assert.Empty(t, m.deleted)
	assert.Len(t, client.drops, 1)
}

func TestDropTableAndDataRequiresManipulator(t *testing.T) {
	client := &mockClient{table: unpartitioned(nil)}
	assert.Error(t, NewService().DropTableAndData(context.Background(), client, "db", "t", nil))
	assert.Empty(t, client.calls)
}

func TestDropTableAgainstMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	client := catalog.NewMemoryClient()
	require.NoError(t, client.CreateTable(ctx, unpartitioned(map[string]string{"EXTERNAL": "TRUE"})))

	require.NoError(t, NewService().DropTable(ctx, client, "db", "t"))

	_, err := client.GetTable(ctx, "db", "t")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
