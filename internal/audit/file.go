package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// FileBackup saves events as zstd-compressed JSON files.
type FileBackup struct {
	dir string
	log *slog.Logger
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./audit"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir, log: slog.With("component", "audit")}, nil
}

// Path returns the backup file path for an event:
// {replica_table}_{event_id}.json.zst
func (f *FileBackup) Path(evt *Event) string {
	name := strings.ReplaceAll(evt.Replication.ReplicaTable, "/", "_")
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s.json.zst", name, evt.EventID))
}

// Save writes an event to its backup file.
func (f *FileBackup) Save(evt *Event) error {
	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	path := f.Path(evt)
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	enc, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}
	if err := enc.Close(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush zstd writer: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s to %s: %w", tmpPath, path, err)
	}

	f.log.Debug("backed up event", "path", path)
	return nil
}

// ReadBackup decodes an event written by Save.
func ReadBackup(path string) (*Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	var evt Event
	if err := json.NewDecoder(dec).Decode(&evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &evt, nil
}
