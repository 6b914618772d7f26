// Package redis provides a PositionStore backed by a Redis hash, with a
// circuit breaker so a flapping Redis fails fast instead of stalling every
// ledger call.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"portfolio-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const defaultHashKey = "portfolio:positions"

// Config configures the Redis store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	HashKey  string // hash holding all positions; defaults to "portfolio:positions"

	// Breaker thresholds; zero values pick defaults (5 failures / 10s reset).
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// Store keeps every position as one field of a single Redis hash, keyed by
// symbol with a JSON-encoded row. A single hash means HGETALL reads the whole
// portfolio in one command, which is the snapshot GetAll needs.
type Store struct {
	client  *goredis.Client
	hashKey string
	cb      *CircuitBreaker
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Breaker returns the store's circuit breaker, e.g. for metrics callbacks.
func (s *Store) Breaker() *CircuitBreaker { return s.cb }

// New creates a Redis-backed store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	hashKey := cfg.HashKey
	if hashKey == "" {
		hashKey = defaultHashKey
	}
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	resetTimeout := cfg.BreakerResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 10 * time.Second
	}

	cb := NewCircuitBreaker(maxFailures, resetTimeout)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
	}

	log.Printf("[redis] connected to %s (hash %s)", cfg.Addr, hashKey)
	return &Store{client: client, hashKey: hashKey, cb: cb}, nil
}

// Get returns the position for a symbol, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, symbol string) (*model.Position, error) {
	var pos *model.Position
	err := s.cb.Execute(func() error {
		raw, err := s.client.HGet(ctx, s.hashKey, symbol).Result()
		if err == goredis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redis hget: %w", err)
		}
		var p model.Position
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return fmt.Errorf("decode position %s: %w", symbol, err)
		}
		pos = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// Put inserts or replaces the position keyed by its symbol.
func (s *Store) Put(ctx context.Context, pos model.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode position %s: %w", pos.Symbol, err)
	}
	return s.cb.Execute(func() error {
		if err := s.client.HSet(ctx, s.hashKey, pos.Symbol, data).Err(); err != nil {
			return fmt.Errorf("redis hset: %w", err)
		}
		return nil
	})
}

// Delete removes the position for a symbol. Absent symbols are a no-op.
func (s *Store) Delete(ctx context.Context, symbol string) error {
	return s.cb.Execute(func() error {
		if err := s.client.HDel(ctx, s.hashKey, symbol).Err(); err != nil {
			return fmt.Errorf("redis hdel: %w", err)
		}
		return nil
	})
}

// GetAll reads the whole portfolio with one HGETALL, a consistent snapshot
// since Redis executes each command atomically.
func (s *Store) GetAll(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	err := s.cb.Execute(func() error {
		fields, err := s.client.HGetAll(ctx, s.hashKey).Result()
		if err != nil {
			return fmt.Errorf("redis hgetall: %w", err)
		}
		positions = make([]model.Position, 0, len(fields))
		for symbol, raw := range fields {
			var p model.Position
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				return fmt.Errorf("decode position %s: %w", symbol, err)
			}
			positions = append(positions, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
