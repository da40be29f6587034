package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dwsmith1983/pipemedic/internal/store"
)

// Compile-time interface satisfaction check.
var _ store.OutcomeStore = (*Store)(nil)

// Store is a Postgres-backed OutcomeStore.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres Store and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate runs the schema DDL to create tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Start applies the schema. The DDL is idempotent.
func (s *Store) Start(ctx context.Context) error {
	return s.Migrate(ctx)
}

// Stop closes the connection pool.
func (s *Store) Stop(_ context.Context) error {
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}
