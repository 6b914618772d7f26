package model

import "context"

// ── Storage Port Interface ──
// PositionStore decouples the ledger from concrete storage implementations
// (in-memory, SQLite, Redis). The ledger is the only writer; it serializes
// read-modify-write cycles per symbol, so implementations only need to make
// each individual call atomic and GetAll a consistent snapshot.

// PositionStore is a keyed table of positions, one row per symbol.
type PositionStore interface {
	// Get returns the position for a normalized symbol.
	// Returns (nil, nil) when no position exists — absence is not an error.
	Get(ctx context.Context, symbol string) (*Position, error)

	// Put inserts or replaces the position keyed by its symbol.
	Put(ctx context.Context, pos Position) error

	// Delete removes the position for a symbol. Deleting an absent symbol
	// is a no-op.
	Delete(ctx context.Context, symbol string) error

	// GetAll returns a snapshot of every held position. Order is not
	// significant; callers that need stable order must sort.
	GetAll(ctx context.Context) ([]Position, error)

	// Close releases underlying resources.
	Close() error
}
