package postgres

import (
	"context"
	"errors"
	"fmt"

	"doodle-sync-backend/internal/models"
	"doodle-sync-backend/internal/repository"

	"github.com/jackc/pgx/v5"
)

const pairColumns = `id, code, user1_id, user2_id, created_at`

func scanPair(row rowScanner) (*models.Pair, error) {
	var pair models.Pair
	err := row.Scan(&pair.ID, &pair.Code, &pair.User1ID, &pair.User2ID, &pair.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan pair: %w", err)
	}
	return &pair, nil
}

// GetPair retrieves a pair by its code.
func (s *Store) GetPair(ctx context.Context, code string) (*models.Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE id = $1`
	return scanPair(s.db.QueryRow(ctx, query, code))
}

// CreatePair inserts a new open pair record.
func (s *Store) CreatePair(ctx context.Context, pair *models.Pair) error {
	query := `
		INSERT INTO pairs (id, code, user1_id, user2_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.Exec(ctx, query, pair.ID, pair.Code, pair.User1ID, pair.User2ID, pair.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pair: %w", err)
	}
	return nil
}
