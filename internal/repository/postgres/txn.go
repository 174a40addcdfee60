package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"doodle-sync-backend/internal/models"
	"doodle-sync-backend/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxTxnAttempts = 5

type txn struct {
	ctx context.Context
	tx  pgx.Tx
	err error
}

func (t *txn) GetUser(id string) (*models.User, error) {
	if t.err != nil {
		return nil, t.err
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(t.tx.QueryRow(t.ctx, query, id))
}

func (t *txn) GetPair(code string) (*models.Pair, error) {
	if t.err != nil {
		return nil, t.err
	}
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE id = $1`
	return scanPair(t.tx.QueryRow(t.ctx, query, code))
}

// PutUser upserts a user record and queues a change notification. The
// Txn interface carries no error return; failures are held and surfaced
// when the transaction function returns.
func (t *txn) PutUser(user *models.User) {
	if t.err != nil {
		return
	}
	if err := repository.ValidatePairingFields(user); err != nil {
		t.err = err
		return
	}
	query := `
		WITH up AS (
			INSERT INTO users (id, display_name, partner_id, pair_id, invite_code, device_token, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				partner_id = EXCLUDED.partner_id,
				pair_id = EXCLUDED.pair_id,
				invite_code = EXCLUDED.invite_code,
				device_token = EXCLUDED.device_token
			RETURNING id
		)
		SELECT pg_notify('user_changed', id) FROM up
	`
	_, err := t.tx.Exec(t.ctx, query,
		user.ID, user.DisplayName, user.PartnerID, user.PairID,
		user.InviteCode, user.DeviceToken, user.CreatedAt,
	)
	if err != nil {
		t.err = fmt.Errorf("failed to put user: %w", err)
	}
}

func (t *txn) PutPair(pair *models.Pair) {
	if t.err != nil {
		return
	}
	query := `
		INSERT INTO pairs (id, code, user1_id, user2_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET user2_id = EXCLUDED.user2_id
	`
	_, err := t.tx.Exec(t.ctx, query, pair.ID, pair.Code, pair.User1ID, pair.User2ID, pair.CreatedAt)
	if err != nil {
		t.err = fmt.Errorf("failed to put pair: %w", err)
	}
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure or deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// RunTransaction executes fn in a serializable transaction, re-running it
// when the commit loses against a concurrent write.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx repository.Txn) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			t := &txn{ctx: ctx, tx: tx}
			if err := fn(t); err != nil {
				return err
			}
			return t.err
		})
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("%w: %v", repository.ErrConflict, lastErr)
}
