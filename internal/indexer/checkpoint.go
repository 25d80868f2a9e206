package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"paperTrading/internal/storage"
)

// Checkpointer persists the last collected block of one contract.
type Checkpointer interface {
	Load(ctx context.Context) (last uint64, ok bool, err error)
	Save(ctx context.Context, last uint64) error
}

// CheckpointName keys the collector cursor inside a storage.StateStore.
func CheckpointName(contract common.Address) string {
	return "collector:" + strings.ToLower(contract.Hex())
}

type fileCheckpoint struct {
	Contract           string `json:"contract"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

// FileCheckpoint keeps the cursor in a small JSON file replaced atomically
// on every save.
type FileCheckpoint struct {
	path     string
	contract common.Address
}

func NewFileCheckpoint(path string, contract common.Address) *FileCheckpoint {
	return &FileCheckpoint{path: path, contract: contract}
}

// Load returns the saved cursor. A file written for another contract is an
// error rather than a silent restart.
func (c *FileCheckpoint) Load(context.Context) (uint64, bool, error) {
	data, err := os.ReadFile(c.path)
	switch {
	case os.IsNotExist(err):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp fileCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint %s: %w", c.path, err)
	}
	if cp.Contract != "" && !strings.EqualFold(cp.Contract, c.contract.Hex()) {
		return 0, false, fmt.Errorf("checkpoint %s belongs to contract %s, not %s", c.path, cp.Contract, c.contract.Hex())
	}
	return cp.LastProcessedBlock, true, nil
}

func (c *FileCheckpoint) Save(_ context.Context, last uint64) error {
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	data, err := json.Marshal(fileCheckpoint{
		Contract:           c.contract.Hex(),
		LastProcessedBlock: last,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// StoreCheckpoint keeps the cursor in a storage.StateStore under
// CheckpointName.
type StoreCheckpoint struct {
	state storage.StateStore
	name  string
}

func NewStoreCheckpoint(state storage.StateStore, contract common.Address) *StoreCheckpoint {
	return &StoreCheckpoint{state: state, name: CheckpointName(contract)}
}

func (c *StoreCheckpoint) Load(ctx context.Context) (uint64, bool, error) {
	last, ok, err := c.state.LoadState(ctx, c.name)
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint %s: %w", c.name, err)
	}
	return last, ok, nil
}

func (c *StoreCheckpoint) Save(ctx context.Context, last uint64) error {
	if err := c.state.SaveState(ctx, c.name, last); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", c.name, err)
	}
	return nil
}
