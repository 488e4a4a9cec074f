package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Version of the on-disk envelope
const Version = 1

var (
	// ErrNotExist means no state file: a fresh start
	ErrNotExist = errors.New("state file does not exist")
	// ErrCorrupt means a state file exists but cannot be trusted; startup must abort
	ErrCorrupt = errors.New("state file is corrupt")
)

type envelope[T any] struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Data    T         `json:"data"`
}

// File persists one snapshot value of type T as versioned JSON
type File[T any] struct {
	path string
}

// NewFile binds a state file path
func NewFile[T any](path string) *File[T] {
	return &File[T]{path: path}
}

// Path of the state file
func (f *File[T]) Path() string {
	return f.path
}

// Load reads the snapshot. A missing file returns ErrNotExist; an unreadable,
// unparsable or future-version file returns an error wrapping ErrCorrupt.
func (f *File[T]) Load() (T, time.Time, error) {
	var zero T
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, time.Time{}, ErrNotExist
		}
		return zero, time.Time{}, fmt.Errorf("%w: read %s: %v", ErrCorrupt, f.path, err)
	}

	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return zero, time.Time{}, fmt.Errorf("%w: parse %s: %v", ErrCorrupt, f.path, err)
	}
	if env.Version != Version {
		return zero, time.Time{}, fmt.Errorf("%w: %s has version %d, want %d", ErrCorrupt, f.path, env.Version, Version)
	}
	return env.Data, env.SavedAt, nil
}

// Save writes the snapshot atomically
func (f *File[T]) Save(v T, now time.Time) error {
	data, err := json.MarshalIndent(envelope[T]{Version: Version, SavedAt: now, Data: v}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	return WriteAtomic(f.path, data, 0o600)
}

// Remove deletes the state file; a missing file is not an error
func (f *File[T]) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// WriteAtomic writes data to a temp file in the target directory and renames it
// over path, so readers never see a partial file
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
