// Package sqlite provides a durable PositionStore backed by a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"portfolio-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists positions in a single SQLite table keyed by symbol.
// The pool is capped at one connection: the ledger serializes writes per
// symbol anyway, and a single-writer pool sidesteps SQLITE_BUSY entirely.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens (or creates) the positions database with WAL mode and schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened positions database at %s", dbPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			symbol   TEXT    NOT NULL PRIMARY KEY,
			qty      INTEGER NOT NULL,
			avg_cost REAL    NOT NULL
		);
	`)
	return err
}

// Get returns the position for a symbol, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, symbol string) (*model.Position, error) {
	var pos model.Position
	err := s.db.QueryRowContext(ctx,
		`SELECT symbol, qty, avg_cost FROM positions WHERE symbol = ?`, symbol,
	).Scan(&pos.Symbol, &pos.Qty, &pos.AvgCost)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite query position: %w", err)
	}
	return &pos, nil
}

// Put inserts or replaces the position keyed by its symbol.
func (s *Store) Put(ctx context.Context, pos model.Position) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO positions (symbol, qty, avg_cost) VALUES (?, ?, ?)`,
		pos.Symbol, pos.Qty, pos.AvgCost,
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert position: %w", err)
	}
	return nil
}

// Delete removes the position for a symbol. Absent symbols are a no-op.
func (s *Store) Delete(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("sqlite delete position: %w", err)
	}
	return nil
}

// GetAll returns every stored position. A single SELECT sees one consistent
// database snapshot under WAL.
func (s *Store) GetAll(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, qty, avg_cost FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query positions: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var pos model.Position
		if err := rows.Scan(&pos.Symbol, &pos.Qty, &pos.AvgCost); err != nil {
			return nil, fmt.Errorf("sqlite scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
