// Package credstore persists the single OAuth2 grant the process works with.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
)

var (
	// ErrNotFound is returned by Load when no usable grant is stored. Corrupt
	// and partial records are reported the same way so callers fall back to
	// the interactive flow.
	ErrNotFound = errors.New("no stored grant")
	// ErrIncompleteGrant is returned by Save for a grant missing a token.
	ErrIncompleteGrant = errors.New("grant is missing access or refresh token")
)

// Store loads and saves the grant.
type Store interface {
	Load() (*Grant, error)
	Save(g *Grant) error
}

// DefaultPath returns the XDG data location of the grant file.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, "doccal", "google-grant.json")
}

// FileStore keeps the grant as a JSON file. Saves are serialized and
// atomic; loads may run concurrently.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileStore returns a store backed by the file at path. The file and
// its directory are created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the location of the grant file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the grant from disk.
func (s *FileStore) Load() (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("unable to read grant file: %w", err)
	}

	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: %s is corrupt: %v", ErrNotFound, s.path, err)
	}
	if !g.Complete() {
		return nil, fmt.Errorf("%w: %s holds a partial grant", ErrNotFound, s.path)
	}
	return &g, nil
}

// Save writes the grant through a temp file in the same directory and
// renames it into place, so readers never observe a half-written file.
func (s *FileStore) Save(g *Grant) error {
	if !g.Complete() {
		return ErrIncompleteGrant
	}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create grant directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".grant-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp grant file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write grant: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync grant: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close grant file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to restrict grant file permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to move grant into place: %w", err)
	}
	return nil
}

// MemoryStore keeps the grant in memory. It is used for dry runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	grant *Grant
	saves int
}

// NewMemoryStore returns a store holding a copy of g, which may be nil.
func NewMemoryStore(g *Grant) *MemoryStore {
	s := &MemoryStore{}
	if g != nil {
		cp := *g
		s.grant = &cp
	}
	return s
}

// Load returns a copy of the held grant, or ErrNotFound.
func (s *MemoryStore) Load() (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.grant.Complete() {
		return nil, ErrNotFound
	}
	cp := *s.grant
	return &cp, nil
}

// Save replaces the held grant with a copy of g.
func (s *MemoryStore) Save(g *Grant) error {
	if !g.Complete() {
		return ErrIncompleteGrant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.grant = &cp
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
