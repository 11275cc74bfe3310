package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExternal(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		want   bool
	}{
		{"nil params", nil, false},
		{"upper", map[string]string{"EXTERNAL": "TRUE"}, true},
		{"lower key", map[string]string{"external": "true"}, true},
		{"mixed", map[string]string{"ExTeRnAl": "TrUe"}, true},
		{"false value", map[string]string{"EXTERNAL": "false"}, false},
		{"other key", map[string]string{"EXTERNALISH": "true"}, false},
		{"exact key false, variant true", map[string]string{"EXTERNAL": "FALSE", "external": "true"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := &Table{Parameters: tt.params}
			assert.Equal(t, tt.want, tbl.IsExternal())
		})
	}
}

func TestParameterKey(t *testing.T) {
	tbl := &Table{Parameters: map[string]string{"Avro.Schema.URL": "hdfs://nn/s.avsc"}}
	k, ok := tbl.ParameterKey(ParamAvroSchemaURL)
	assert.True(t, ok)
	assert.Equal(t, "Avro.Schema.URL", k)

	_, ok = tbl.ParameterKey(ParamExternal)
	assert.False(t, ok)
}

func TestPartitionName(t *testing.T) {
	keys := []Column{{Name: "year"}, {Name: "month"}}
	assert.Equal(t, "year=2024/month=03", PartitionName(keys, []string{"2024", "03"}))
	assert.Equal(t, []string{"2024", "03"}, ParsePartitionName("year=2024/month=03"))
	assert.Nil(t, ParsePartitionName(""))
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Table{
		DatabaseName: "db",
		TableName:    "t",
		Columns:      []Column{{Name: "a", Type: "int"}},
		Parameters:   map[string]string{"k": "v"},
	}
	c := orig.Clone()
	c.Parameters["k"] = "changed"
	c.Columns[0].Name = "b"

	assert.Equal(t, "v", orig.Parameters["k"])
	assert.Equal(t, "a", orig.Columns[0].Name)
}

func TestMemoryClientTableLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()

	_, err := m.GetTable(ctx, "db", "t")
	require.True(t, errors.Is(err, ErrNotFound))

	tbl := &Table{DatabaseName: "db", TableName: "t", Location: "mem://b/db/t"}
	require.NoError(t, m.CreateTable(ctx, tbl))
	require.True(t, errors.Is(m.CreateTable(ctx, tbl), ErrAlreadyExists))

	// Mutating the caller's copy must not leak into the catalog.
	tbl.Location = "mem://other"
	got, err := m.GetTable(ctx, "db", "t")
	require.NoError(t, err)
	assert.Equal(t, "mem://b/db/t", got.Location)

	got.Parameters = map[string]string{"EXTERNAL": "TRUE"}
	require.NoError(t, m.AlterTable(ctx, "db", "t", got))
	got, err = m.GetTable(ctx, "db", "t")
	require.NoError(t, err)
	assert.True(t, got.IsExternal())

	require.NoError(t, m.DropTable(ctx, "db", "t", true, false))
	require.NoError(t, m.DropTable(ctx, "db", "t", true, true))
	require.True(t, errors.Is(m.DropTable(ctx, "db", "t", true, false), ErrNotFound))
}

func TestMemoryClientPartitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	require.NoError(t, m.CreateTable(ctx, &Table{
		DatabaseName:  "db",
		TableName:     "t",
		PartitionKeys: []Column{{Name: "p", Type: "string"}},
	}))

	var parts []Partition
	for i := 0; i < 5; i++ {
		parts = append(parts, Partition{
			DatabaseName: "db",
			TableName:    "t",
			Values:       []string{fmt.Sprintf("%02d", i)},
			Location:     fmt.Sprintf("mem://b/db/t/p=%02d", i),
		})
	}
	require.NoError(t, m.AddPartitions(ctx, parts))
	require.True(t, errors.Is(m.AddPartitions(ctx, parts[:1]), ErrAlreadyExists))

	names, err := m.ListPartitionNames(ctx, "db", "t", -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"p=00", "p=01", "p=02", "p=03", "p=04"}, names)

	limited, err := m.ListPartitionNames(ctx, "db", "t", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	got, err := m.GetPartitionsByNames(ctx, "db", "t", []string{"p=03", "p=01", "p=99"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "mem://b/db/t/p=03", got[0].Location)
	assert.Equal(t, "mem://b/db/t/p=01", got[1].Location)

	got[0].Location = "mem://moved/p=03"
	require.NoError(t, m.AlterPartitions(ctx, "db", "t", got[:1]))
	again, err := m.GetPartitionsByNames(ctx, "db", "t", []string{"p=03"})
	require.NoError(t, err)
	assert.Equal(t, "mem://moved/p=03", again[0].Location)

	missing := Partition{DatabaseName: "db", TableName: "t", Values: []string{"zz"}}
	require.True(t, errors.Is(m.AlterPartitions(ctx, "db", "t", []Partition{missing}), ErrNotFound))
}

func TestClassify(t *testing.T) {
	err := classify("get table db.t", fmt.Errorf("wrapped: %w", pgx.ErrNoRows))
	assert.True(t, errors.Is(err, ErrNotFound))
}
