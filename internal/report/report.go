// Package report persists tuning reports as one JSON file per run and
// streams new ones to watchers.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/micro-nova/mspi-tuning/internal/models"
)

const ext = ".json"

// ErrNotFound is returned by Get for an unknown report ID.
var ErrNotFound = errors.New("report: not found")

// Store is a directory of reports.
type Store struct {
	dir string
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the report directory.
func (s *Store) Dir() string { return s.dir }

// Save writes r, assigning an ID and timestamp when missing.
func (s *Store) Save(r *models.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Time.IsZero() {
		r.Time = time.Now().UTC()
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}

	// Temp files don't carry the extension, so List and Watch skip them.
	path := s.path(r.ID)
	tmpPath := filepath.Join(s.dir, "."+r.ID+".tmp")
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+ext)
}

// Get reads the report with the given ID.
func (s *Store) Get(id string) (models.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Report{}, ErrNotFound
	}
	r, err := readReport(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return models.Report{}, ErrNotFound
	}
	return r, err
}

// List returns every readable report, oldest first. Corrupt files are
// skipped with a warning.
func (s *Store) List() ([]models.Report, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := []models.Report{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		r, err := readReport(filepath.Join(s.dir, e.Name()))
		if err != nil {
			slog.Warn("report: skipping unreadable report", "file", e.Name(), "err", err)
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.Report) int { return a.Time.Compare(b.Time) })
	return out, nil
}

func readReport(path string) (models.Report, error) {
	var r models.Report
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("report: %s: %w", filepath.Base(path), err)
	}
	return r, nil
}

// Watch calls fn for every report that appears in the directory until ctx is
// done. Reports already present when Watch starts are not replayed.
func (s *Store) Watch(ctx context.Context, fn func(models.Report)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("report: watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("report: watch %s: %w", s.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Save renames into place, which shows up as Create.
			if !strings.HasSuffix(event.Name, ext) || !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				continue
			}
			r, err := readReport(event.Name)
			if err != nil {
				slog.Warn("report: failed to read new report", "file", event.Name, "err", err)
				continue
			}
			fn(r)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("report: watcher error", "err", err)
		}
	}
}

// Prune deletes reports last written more than maxAge ago and returns how
// many were removed.
func (s *Store) Prune(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.dir, e.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("report: failed to prune old report", "file", path, "err", err)
			} else {
				slog.Info("report: pruned old report", "file", path)
				removed++
			}
		}
	}
	return removed
}
