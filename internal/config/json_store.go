package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/micro-nova/mspi-tuning/internal/profile"
)

const debounceDelay = 500 * time.Millisecond

// JSONStore is an atomic JSON file store with debounced writes.
type JSONStore struct {
	mu      sync.Mutex
	path    string
	timer   *time.Timer
	pending *profile.Board
}

// NewJSONStore creates a store backed by the profile file at path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the file path used by this store.
func (s *JSONStore) Path() string { return s.path }

// Load reads the profile from disk. Returns the default profile on ENOENT or
// parse errors. A profile that parses but describes an impossible clock plan
// is an error: tuning against it would be meaningless.
func (s *JSONStore) Load() (*profile.Board, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			def := profile.Default()
			return &def, nil
		}
		return nil, err
	}

	var b profile.Board
	if err := json.Unmarshal(data, &b); err != nil {
		slog.Warn("config: corrupt profile, using defaults", "path", s.path, "err", err)
		def := profile.Default()
		return &def, nil
	}

	migrateBoard(&b)
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", s.path, err)
	}
	return &b, nil
}

// Save schedules a debounced write of the profile to disk.
func (s *JSONStore) Save(b *profile.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *b
	s.pending = &cp

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		s.mu.Lock()
		pending := s.pending
		s.mu.Unlock()
		if pending != nil {
			if err := s.writeAtomic(pending); err != nil {
				slog.Error("config: failed to write profile", "path", s.path, "err", err)
			}
		}
	})
	return nil
}

// Flush forces an immediate write of any pending profile.
func (s *JSONStore) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pending := s.pending
	s.mu.Unlock()
	if pending == nil {
		return nil
	}
	return s.writeAtomic(pending)
}

func (s *JSONStore) writeAtomic(b *profile.Board) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	// Write to temp file, then rename (atomic on Linux)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
