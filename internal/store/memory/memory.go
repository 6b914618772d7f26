// Package memory provides an in-process PositionStore backed by a map.
// Suitable for tests and single-node deployments without durability needs.
package memory

import (
	"context"
	"sync"

	"portfolio-systemv1/internal/model"
)

// Store is a map-backed PositionStore. Individual calls are atomic; GetAll
// copies under the read lock, so it returns a consistent snapshot.
type Store struct {
	mu        sync.RWMutex
	positions map[string]model.Position
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{positions: make(map[string]model.Position)}
}

// Get returns the position for a symbol, or (nil, nil) when absent.
func (s *Store) Get(_ context.Context, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return nil, nil
	}
	return &pos, nil
}

// Put inserts or replaces the position keyed by its symbol.
func (s *Store) Put(_ context.Context, pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.Symbol] = pos
	return nil
}

// Delete removes the position for a symbol. Absent symbols are a no-op.
func (s *Store) Delete(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, symbol)
	return nil
}

// GetAll returns a snapshot of all positions.
func (s *Store) GetAll(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]model.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		result = append(result, pos)
	}
	return result, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
