package config

import (
	"sync"

	"github.com/micro-nova/mspi-tuning/internal/profile"
)

// MemStore is an in-memory Store for tests and the simulator.
type MemStore struct {
	mu    sync.Mutex
	board *profile.Board
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Load returns a copy of the stored profile, or the default if none was saved.
func (s *MemStore) Load() (*profile.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.board == nil {
		def := profile.Default()
		return &def, nil
	}
	cp := *s.board
	return &cp, nil
}

// Save stores a copy of b.
func (s *MemStore) Save(b *profile.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.board = &cp
	return nil
}

func (s *MemStore) Path() string { return ":memory:" }

func (s *MemStore) Flush() error { return nil }
