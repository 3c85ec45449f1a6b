package train

import (
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
)

// A CheckpointStore persists the best-so-far model state. Save overwrites
// wholesale; the encoding is whatever the model's State produced.
type CheckpointStore interface {
	Save(state []byte) error
	Load() ([]byte, error)
}

// FileCheckpoint stores the state at a single path, overwritten on every
// improvement.
type FileCheckpoint struct {
	Path string
}

// Save overwrites the checkpoint file.
func (f *FileCheckpoint) Save(state []byte) error {
	err := ioutil.WriteFile(f.Path, state, 0644)
	if err != nil {
		return errors.Wrapf(err, "Could not write checkpoint to %s", f.Path)
	}
	return nil
}

// Load reads the checkpoint file.
func (f *FileCheckpoint) Load() ([]byte, error) {
	data, err := ioutil.ReadFile(f.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not read checkpoint from %s", f.Path)
	}
	return data, nil
}

// Exists reports whether a checkpoint has been written yet.
func (f *FileCheckpoint) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

// MemoryCheckpoint keeps the state in memory. Used in tests and when no
// persistence is wanted.
type MemoryCheckpoint struct {
	state []byte
	saves int
}

// Save replaces the stored state.
func (m *MemoryCheckpoint) Save(state []byte) error {
	m.state = append([]byte(nil), state...)
	m.saves++
	return nil
}

// Load returns the stored state.
func (m *MemoryCheckpoint) Load() ([]byte, error) {
	if m.state == nil {
		return nil, errors.Errorf("No checkpoint saved yet")
	}
	return append([]byte(nil), m.state...), nil
}

// Saves returns how many times Save has been called.
func (m *MemoryCheckpoint) Saves() int {
	return m.saves
}
