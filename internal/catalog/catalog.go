// Package catalog models the metastore that holds table and partition
// definitions, and provides clients for it.
package catalog

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a table or partition does not exist.
	ErrNotFound = errors.New("catalog object not found")

	// ErrAlreadyExists is returned when creating a table or partition that exists.
	ErrAlreadyExists = errors.New("catalog object already exists")

	// ErrUnavailable is returned when the catalog cannot be reached.
	ErrUnavailable = errors.New("catalog unavailable")
)

// Well-known table parameters.
const (
	ParamExternal         = "EXTERNAL"
	ParamReplicationEvent = "REPLICATION_EVENT"
	ParamReplicationMode  = "REPLICATION_MODE"
	ParamSourceTable      = "SOURCE_TABLE"
	ParamSourceLocation   = "SOURCE_LOCATION"
	ParamSourceCatalog    = "SOURCE_CATALOG"
	ParamLastReplicated   = "LAST_REPLICATED"

	// ParamAvroSchemaURL points Avro tables at their external schema file.
	ParamAvroSchemaURL = "avro.schema.url"
)

// Table types.
const (
	ManagedTable  = "MANAGED_TABLE"
	ExternalTable = "EXTERNAL_TABLE"
)

// Column is a named, typed field of a table or partition key.
type Column struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Comment string `json:"comment,omitempty"`
}

// Table is a catalog table definition.
type Table struct {
	DatabaseName  string            `json:"database_name"`
	TableName     string            `json:"table_name"`
	TableType     string            `json:"table_type"`
	Location      string            `json:"location"`
	Columns       []Column          `json:"columns"`
	PartitionKeys []Column          `json:"partition_keys,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

// QualifiedName returns "db.table".
func (t *Table) QualifiedName() string {
	return t.DatabaseName + "." + t.TableName
}

// IsPartitioned reports whether the table declares partition keys.
func (t *Table) IsPartitioned() bool {
	return len(t.PartitionKeys) > 0
}

// Parameter looks up a parameter with a case-insensitive key match.
func (t *Table) Parameter(key string) (string, bool) {
	if v, ok := t.Parameters[key]; ok {
		return v, true
	}
	for k, v := range t.Parameters {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// ParameterKey returns the stored spelling of a case-insensitively matched
// parameter key.
func (t *Table) ParameterKey(key string) (string, bool) {
	if _, ok := t.Parameters[key]; ok {
		return key, true
	}
	for k := range t.Parameters {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}

// IsExternal reports whether any EXTERNAL parameter, in any key case, is set
// to true in any value case.
func (t *Table) IsExternal() bool {
	for k, v := range t.Parameters {
		if strings.EqualFold(k, ParamExternal) && strings.EqualFold(v, "true") {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := *t
	c.Columns = append([]Column(nil), t.Columns...)
	c.PartitionKeys = append([]Column(nil), t.PartitionKeys...)
	c.Parameters = cloneParams(t.Parameters)
	return &c
}

// Partition is a single partition of a partitioned table.
type Partition struct {
	DatabaseName string            `json:"database_name"`
	TableName    string            `json:"table_name"`
	Values       []string          `json:"values"`
	Location     string            `json:"location"`
	Columns      []Column          `json:"columns,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

// Clone returns a deep copy of the partition.
func (p *Partition) Clone() *Partition {
	c := *p
	c.Values = append([]string(nil), p.Values...)
	c.Columns = append([]Column(nil), p.Columns...)
	c.Parameters = cloneParams(p.Parameters)
	return &c
}

// PartitionName renders partition values in the k1=v1/k2=v2 form used to
// address partitions by name.
func PartitionName(keys []Column, values []string) string {
	parts := make([]string, 0, len(keys))
	for i, k := range keys {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		parts = append(parts, k.Name+"="+v)
	}
	return strings.Join(parts, "/")
}

// ParsePartitionName splits a k1=v1/k2=v2 name into its values.
func ParsePartitionName(name string) []string {
	if name == "" {
		return nil
	}
	segs := strings.Split(name, "/")
	values := make([]string, 0, len(segs))
	for _, s := range segs {
		if i := strings.IndexByte(s, '='); i >= 0 {
			values = append(values, s[i+1:])
		} else {
			values = append(values, s)
		}
	}
	return values
}

// Client is the narrow catalog surface used by the replicator.
type Client interface {
	GetTable(ctx context.Context, db, name string) (*Table, error)
	CreateTable(ctx context.Context, table *Table) error
	AlterTable(ctx context.Context, db, name string, table *Table) error
	DropTable(ctx context.Context, db, name string, deleteData, ignoreUnknown bool) error

	// ListPartitionNames returns up to limit partition names; limit < 0 means all.
	ListPartitionNames(ctx context.Context, db, name string, limit int) ([]string, error)

	// GetPartitionsByNames resolves a bounded list of names. Callers must
	// keep len(names) within the catalog's batch limit.
	GetPartitionsByNames(ctx context.Context, db, name string, names []string) ([]Partition, error)

	AddPartitions(ctx context.Context, partitions []Partition) error
	AlterPartitions(ctx context.Context, db, name string, partitions []Partition) error

	Close() error
}

func cloneParams(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
