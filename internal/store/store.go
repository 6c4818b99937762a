// Package store persists suspended lattice nodes. A Store seals every
// payload in an integrity envelope before handing it to its backend, so a
// damaged record is reported instead of being decoded into the lattice.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"patternlattice/internal/config"
	"patternlattice/internal/logging"
)

var (
	// ErrNotFound is returned when no record exists under an id.
	ErrNotFound = errors.New("suspended record not found")
	// ErrIntegrity is returned when a record fails its integrity check.
	ErrIntegrity = errors.New("suspended record failed integrity check")
)

// Backend is a byte-oriented key/value store for sealed records.
type Backend interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Store adapts a Backend to the engine's suspension hook.
type Store struct {
	backend Backend
	name    string
}

// New wraps an opened backend.
func New(name string, b Backend) *Store {
	return &Store{backend: b, name: name}
}

// Open opens the backend selected by cfg.
func Open(cfg config.StoreConfig) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open "+cfg.Backend)
	defer timer.Stop()

	var (
		b   Backend
		err error
	)
	switch cfg.Backend {
	case "", "memory":
		b = NewMemory()
	case "sqlite":
		b, err = OpenSQLite(cfg.Path)
	case "badger":
		b, err = OpenBadger(BadgerConfig{Path: cfg.Path, SyncWrites: cfg.SyncWrites})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		logging.StoreError("Failed to open %s backend at %s: %v", cfg.Backend, cfg.Path, err)
		return nil, err
	}
	name := cfg.Backend
	if name == "" {
		name = "memory"
	}
	logging.Store("Suspension store ready: backend=%s path=%s", name, cfg.Path)
	return New(name, b), nil
}

// Backend returns the name of the underlying backend.
func (s *Store) Backend() string { return s.name }

// Store seals data and writes it under id, replacing any earlier record.
func (s *Store) Store(ctx context.Context, id string, data []byte) error {
	if err := s.backend.Put(ctx, id, seal(data)); err != nil {
		return fmt.Errorf("store %s: %w", id, err)
	}
	logging.StoreDebug("Stored record %s (%d bytes)", id, len(data))
	return nil
}

// Retrieve reads and verifies the record stored under id.
func (s *Store) Retrieve(ctx context.Context, id string) ([]byte, error) {
	sealed, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", id, err)
	}
	data, err := unseal(sealed)
	if err != nil {
		logging.StoreWarn("Record %s rejected: %v", id, err)
		return nil, fmt.Errorf("retrieve %s: %w", id, err)
	}
	return data, nil
}

// NewID returns a fresh record id.
func (s *Store) NewID() string { return uuid.NewString() }

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) { return s.backend.Count(ctx) }

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }
