package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// FileSnapshot keeps the lamp state in a single JSON file.
type FileSnapshot struct {
	path string
}

func NewFileSnapshot(path string) *FileSnapshot {
	return &FileSnapshot{path: path}
}

// LoadState returns nil without error when no snapshot has been written yet.
func (f *FileSnapshot) LoadState() (*model.LampState, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var state model.LampState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (f *FileSnapshot) SaveState(state model.LampState) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}

	tmpPath := f.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		file.Close()
		return err
	}
	file.Sync()
	file.Close()

	return os.Rename(tmpPath, f.path)
}
