package postgres

import (
	"context"
	"errors"
	"fmt"

	"doodle-sync-backend/internal/models"
	"doodle-sync-backend/internal/repository"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, display_name, partner_id, pair_id, invite_code, device_token, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.PartnerID, &user.PairID,
		&user.InviteCode, &user.DeviceToken, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

// CreateUser inserts a new user record.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if err := repository.ValidatePairingFields(user); err != nil {
		return err
	}
	query := `
		INSERT INTO users (id, display_name, partner_id, pair_id, invite_code, device_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.Exec(ctx, query,
		user.ID, user.DisplayName, user.PartnerID, user.PairID,
		user.InviteCode, user.DeviceToken, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRow(ctx, query, id))
}

// UpdateDeviceToken sets or clears the push token for a user and notifies
// watchers in the same transaction.
func (s *Store) UpdateDeviceToken(ctx context.Context, userID string, token *string) error {
	query := `
		WITH upd AS (
			UPDATE users SET device_token = $1 WHERE id = $2 RETURNING id
		)
		SELECT pg_notify('user_changed', id) FROM upd
	`
	tag, err := s.db.Exec(ctx, query, token, userID)
	if err != nil {
		return fmt.Errorf("failed to update device token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// WatchUser opens a change feed on one user record, backed by the shared
// LISTEN connection.
func (s *Store) WatchUser(_ context.Context, id string) (repository.UserWatch, error) {
	return s.listener.watchUser(id), nil
}
