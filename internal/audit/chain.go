package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const headsFile = "replica-chain-heads.json"

var (
	// ErrNoChainHead is returned for replica tables with no emitted event.
	ErrNoChainHead = errors.New("no chain head found")

	// ErrEventAlreadyChained is returned when an event id is already the head
	// of its replica table's chain.
	ErrEventAlreadyChained = errors.New("event already chained")
)

// ComputeEventHash hashes the event's JSON form with event_hash blanked.
func ComputeEventHash(evt *Event) string {
	c := *evt
	c.Chain.EventHash = ""

	canonical, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// VerifyEventHash reports whether the stored event hash matches the content.
func VerifyEventHash(evt *Event) bool {
	return evt.Chain.EventHash != "" && evt.Chain.EventHash == ComputeEventHash(evt)
}

// ReplicaHead is the last emitted event of one replica table.
type ReplicaHead struct {
	EventID         string    `json:"event_id"`
	EventHash       string    `json:"event_hash"`
	ReplicaLocation string    `json:"replica_location"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ReplicaChain tracks the head event of every replica table's audit chain
// and persists the heads as JSON under its directory.
type ReplicaChain struct {
	mu    sync.RWMutex
	heads map[string]ReplicaHead // replica table -> head
	path  string
}

// NewReplicaChain loads the heads persisted in dir, if any.
func NewReplicaChain(dir string) (*ReplicaChain, error) {
	if dir == "" {
		dir = "./state"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	c := &ReplicaChain{
		heads: make(map[string]ReplicaHead),
		path:  filepath.Join(dir, headsFile),
	}
	if err := c.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load replica chain heads: %w", err)
	}
	return c, nil
}

// Head returns the last event emitted for replicaTable.
func (c *ReplicaChain) Head(replicaTable string) (ReplicaHead, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.heads[replicaTable]
	if !ok || h.EventHash == "" {
		return ReplicaHead{}, fmt.Errorf("%s: %w", replicaTable, ErrNoChainHead)
	}
	return h, nil
}

// Advance makes evt the head of its replica table's chain. evt must already
// carry its event hash.
func (c *ReplicaChain) Advance(evt *Event, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	table := evt.ChainKey()
	if cur, ok := c.heads[table]; ok && cur.EventID == evt.EventID {
		return fmt.Errorf("%s %s: %w", table, evt.EventID, ErrEventAlreadyChained)
	}
	c.heads[table] = ReplicaHead{
		EventID:         evt.EventID,
		EventHash:       evt.Chain.EventHash,
		ReplicaLocation: evt.Replication.ReplicaLocation,
		UpdatedAt:       at.UTC(),
	}
	return c.save()
}

func (c *ReplicaChain) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &c.heads)
}

func (c *ReplicaChain) save() error {
	data, err := json.MarshalIndent(c.heads, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
