package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FlagStore holds the one-shot "just logged out" marker. It must outlive a
// Store instance so the next boot can see it.
type FlagStore interface {
	Set() error
	// Consume reports whether the flag was set and clears it.
	Consume() (bool, error)
}

type MemoryFlag struct {
	mu  sync.Mutex
	set bool
}

func (f *MemoryFlag) Set() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = true
	return nil
}

func (f *MemoryFlag) Consume() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.set
	f.set = false
	return was, nil
}

const flagFileName = "logged-out"

// FileFlag survives process restarts. Consume relies on os.Remove so only one
// reader can ever observe the flag.
type FileFlag struct {
	path string
}

func NewFileFlag(dir string) *FileFlag {
	return &FileFlag{path: filepath.Join(dir, flagFileName)}
}

func (f *FileFlag) Set() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(f.path, []byte("1"), 0o600); err != nil {
		return fmt.Errorf("write logout flag: %w", err)
	}
	return nil
}

func (f *FileFlag) Consume() (bool, error) {
	err := os.Remove(f.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("consume logout flag: %w", err)
}
