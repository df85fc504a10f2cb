package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"RewardPool/internal/model"
)

// Store persists the ledger state between restarts.
type Store interface {
	Load() (*model.LedgerState, error)
	Save(state *model.LedgerState) error
}

// FileStore keeps the ledger state as a JSON document on disk.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the state file. Returns nil if the file doesn't exist.
func (s *FileStore) Load() (*model.LedgerState, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state model.LedgerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode ledger state: %w", err)
	}
	return &state, nil
}

// Save writes the state to a temp file and renames it over the previous one.
func (s *FileStore) Save(state *model.LedgerState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}
