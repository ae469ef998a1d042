// Package postgres implements the metadata store on PostgreSQL through
// pgxpool. Search filters compile to SQL, latest metric values are kept in a
// dedicated table maintained on write, and batch logging runs in a single
// transaction.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL-backed metadata store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping pool: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
