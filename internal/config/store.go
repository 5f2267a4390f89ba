// Package config loads and saves the board profile the tuning daemon runs with.
package config

import "github.com/micro-nova/mspi-tuning/internal/profile"

// Store is the interface for persisting the board profile.
type Store interface {
	// Load loads the profile. Returns profile.Default if no file exists.
	Load() (*profile.Board, error)

	// Save persists the profile. Implementations may debounce rapid saves.
	Save(b *profile.Board) error

	// Path returns the file path used by this store.
	Path() string

	// Flush forces an immediate write of any pending profile.
	Flush() error
}
