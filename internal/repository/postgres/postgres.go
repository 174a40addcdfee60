// Package postgres implements the repository.Store on PostgreSQL via pgx.
// Cross-record atomicity comes from serializable transactions retried on
// serialization failure; change feeds ride LISTEN/NOTIFY so watches work
// across processes.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"doodle-sync-backend/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Store implements repository.Store on a pgx connection pool.
type Store struct {
	db       *pgxpool.Pool
	listener *listener
}

var _ repository.Store = (*Store)(nil)

// New creates a store and starts its notification listener. The listener
// runs until ctx is cancelled.
func New(ctx context.Context, db *pgxpool.Pool) *Store {
	s := &Store{db: db}
	s.listener = newListener(db, s)
	go s.listener.run(ctx)
	return s
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
