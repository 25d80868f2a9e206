package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateName returns the cursor name used for a contract.
func StateName(contract string) string {
	return "ingest:" + contract
}

// FileStateStore keeps named cursors in a local JSON file. It backs resume
// when entities live in memory.
type FileStateStore struct {
	Path string

	mu sync.Mutex
}

type stateRecord struct {
	Cursors   map[string]uint64 `json:"cursors"`
	UpdatedAt string            `json:"updated_at"`
}

func (s *FileStateStore) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if s == nil || s.Path == "" {
		return 0, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return 0, false, err
	}
	v, ok := rec.Cursors[name]
	return v, ok, nil
}

func (s *FileStateStore) SaveState(ctx context.Context, name string, value uint64) error {
	if s == nil || s.Path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return err
	}
	rec.Cursors[name] = value
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func (s *FileStateStore) read() (stateRecord, error) {
	rec := stateRecord{Cursors: make(map[string]uint64)}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, nil
		}
		return rec, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse state: %w", err)
	}
	if rec.Cursors == nil {
		rec.Cursors = make(map[string]uint64)
	}
	return rec, nil
}
