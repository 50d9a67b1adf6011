// Package store persists the pipeline registry as a single JSON snapshot.
// Writes go to a temp file in the same directory and are renamed into
// place, so readers never observe a partial snapshot.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fabriq/fabriq/pkg/models"
)

// Store reads and writes the pipeline snapshot file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a store for the given snapshot path. The parent directory is
// created on the first save if absent.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Save serializes the full registry and atomically replaces the snapshot.
func (s *Store) Save(pipelines map[string]*models.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	data, err := json.MarshalIndent(pipelines, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pipelines: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot back into a registry map. A missing file yields
// an empty registry; a corrupt file is a hard error.
func (s *Store) Load() (map[string]*models.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*models.Pipeline{}, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	pipelines := map[string]*models.Pipeline{}
	if err := json.Unmarshal(data, &pipelines); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", s.path, err)
	}
	return pipelines, nil
}
