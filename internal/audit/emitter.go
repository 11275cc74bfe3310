package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Config selects the audit sinks.
type Config struct {
	Enabled  bool
	Dir      string // backup files and chain heads
	Endpoint string // optional HTTP collector
}

// Emitter records audit events.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// NewEmitter creates an emitter based on configuration.
func NewEmitter(cfg Config) (Emitter, error) {
	log := slog.With("component", "audit")
	if !cfg.Enabled {
		log.Debug("audit disabled, using no-op emitter")
		return NoopEmitter{}, nil
	}

	chain, err := NewReplicaChain(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create replica chain: %w", err)
	}
	backup, err := NewFileBackup(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	e := &ChainEmitter{chain: chain, backup: backup, log: log, now: time.Now}
	if cfg.Endpoint != "" {
		e.sink = newHTTPSink(cfg.Endpoint)
		log.Info("using HTTP audit emitter", "endpoint", cfg.Endpoint, "dir", cfg.Dir)
	} else {
		log.Info("using file-only audit emitter", "dir", cfg.Dir)
	}
	return e, nil
}

// ChainEmitter links each event to the previous one for the same replica
// table, writes a local backup and, when configured, posts it.
type ChainEmitter struct {
	chain  *ReplicaChain
	backup *FileBackup
	sink   *httpSink
	log    *slog.Logger
	now    func() time.Time
}

// Emit finalises the event's chain fields and records it. The chain head
// only advances once every sink has accepted the event.
func (e *ChainEmitter) Emit(ctx context.Context, evt *Event) error {
	replicaTable := evt.ChainKey()

	var prevHash string
	head, err := e.chain.Head(replicaTable)
	switch {
	case errors.Is(err, ErrNoChainHead):
	case err != nil:
		return fmt.Errorf("get chain head: %w", err)
	case head.EventID == evt.EventID:
		return fmt.Errorf("emit %s: %w", evt.EventID, ErrEventAlreadyChained)
	default:
		prevHash = head.EventHash
	}

	evt.Version = EventVersion
	evt.EventType = EventType
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now().UTC()
	}
	evt.SetChainHashes(prevHash)

	if err := e.backup.Save(evt); err != nil {
		return fmt.Errorf("backup event: %w", err)
	}

	if e.sink != nil {
		if err := e.sink.postWithRetry(ctx, evt); err != nil {
			return fmt.Errorf("audit emit failed: %w", err)
		}
	}

	if err := e.chain.Advance(evt, e.now()); err != nil {
		return fmt.Errorf("update chain head: %w", err)
	}

	e.log.Info("emitted audit event",
		"event_id", evt.EventID,
		"previous_event_id", head.EventID,
		"replica_table", replicaTable,
		"event_hash", evt.Chain.EventHash,
	)
	return nil
}

func (e *ChainEmitter) Close() error {
	return nil
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, *Event) error { return nil }
func (NoopEmitter) Close() error                       { return nil }
