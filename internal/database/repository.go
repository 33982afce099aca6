// Package database provides the PostgreSQL persistence layer: connection
// pooling, schema migrations and typed repositories for users, signals,
// the activity feed and backtest runs. The database is optional; services
// take the repository through narrow store interfaces and run without it.
package database

import (
	"context"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}
