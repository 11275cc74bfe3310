// Package audit emits a tamper-evident trail of completed replications.
package audit

import (
	"time"
)

const (
	EventVersion = "1.0"
	EventType    = "table_replication"
)

// Event records one completed replication run.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Replication ReplicationInfo `json:"replication"`
	Copy        CopyInfo        `json:"copy"`
	Producer    ProducerInfo    `json:"producer"`
	Chain       ChainInfo       `json:"chain"`
}

// ReplicationInfo identifies what was replicated and where.
type ReplicationInfo struct {
	SourceCatalog   string `json:"source_catalog"`
	SourceTable     string `json:"source_table"`
	SourceLocation  string `json:"source_location"`
	ReplicaTable    string `json:"replica_table"`
	ReplicaLocation string `json:"replica_location"`
	Mode            string `json:"mode"`
	Backend         string `json:"backend,omitempty"`
	MetadataOnly    bool   `json:"metadata_only"`
	Partitions      int    `json:"partitions"`
}

// CopyInfo summarises the data movement of the run.
type CopyInfo struct {
	BytesReplicated int64 `json:"bytes_replicated"`
	FilesReplicated int64 `json:"files_replicated"`
	RowsVerified    int64 `json:"rows_verified"`
	DurationMs      int64 `json:"duration_ms"`
}

// ProducerInfo identifies the software that produced the replica.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo provides hash chaining for tamper-evident audit log.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this event belongs to: one chain per replica
// table.
func (e *Event) ChainKey() string {
	return e.Replication.ReplicaTable
}

// SetChainHashes links the event to prevHash and computes its own hash.
func (e *Event) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}
