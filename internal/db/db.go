// Package db backs the Validator API (C2) and Event Worker (C3) with a
// Postgres connection pool via jackc/pgx. This package implements only the
// operations the core performs against the schema, not the schema itself.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgxpool.Pool for the validator and event-worker binaries.
type Pool struct {
	pool *pgxpool.Pool
}

// Open establishes a connection pool against databaseURL.
func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// Close releases all pooled connections.
func (p *Pool) Close() {
	p.pool.Close()
}
