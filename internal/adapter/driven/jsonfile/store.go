// Package jsonfile implements the CredentialStore port as a single JSON file
// on local disk.
package jsonfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

// dirPerms is used when creating the directory that holds the store file.
const dirPerms = 0o700

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*Store)(nil)

// Store is a JSON-file implementation of the CredentialStore port. Writes go
// through a temp file in the same directory followed by a rename, so readers
// never observe a partially written file. Content that fails to parse is
// reported as driven.ErrMalformedStore and is never merged.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a Store backed by the file at path. The file does not need
// to exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the store file. A missing file yields an empty mapping.
func (s *Store) Load(_ context.Context) (model.CredentialMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save replaces the store file with the serialized mapping.
func (s *Store) Save(_ context.Context, m model.CredentialMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(m)
}

// Upsert sets userID to rec and writes the full mapping back. The load and the
// save happen under one lock, so concurrent Upserts for different users never
// drop each other's records.
func (s *Store) Upsert(_ context.Context, userID string, rec model.CredentialRecord) (model.CredentialMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return nil, err
	}

	updated := current.With(userID, rec)
	if err := s.save(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) load() (model.CredentialMapping, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.CredentialMapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", s.path, driven.ErrLocalIO, err)
	}

	m, err := model.DecodeMapping(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", s.path, driven.ErrMalformedStore, err)
	}
	return m, nil
}

func (s *Store) save(m model.CredentialMapping) error {
	data, err := model.EncodeMapping(m)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, dirPerms); err != nil {
			return fmt.Errorf("create directory %s: %w: %w", dir, driven.ErrLocalIO, err)
		}
	}

	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w: %w", s.path, driven.ErrLocalIO, err)
	}
	return nil
}
