package postgres

import (
	"context"
	"errors"
	"fmt"

	"doodle-sync-backend/internal/models"
	"doodle-sync-backend/internal/repository"

	"github.com/jackc/pgx/v5"
)

const drawingColumns = `id, pair_id, from_user_id, to_user_id, created_at, vector_bytes, image_url`

func scanDrawing(row rowScanner) (*models.DrawingRecord, error) {
	var rec models.DrawingRecord
	err := row.Scan(
		&rec.ID, &rec.PairID, &rec.FromUserID, &rec.ToUserID,
		&rec.CreatedAt, &rec.VectorBytes, &rec.ImageURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan drawing: %w", err)
	}
	return &rec, nil
}

// CreateDrawing inserts an immutable drawing record and notifies feed
// consumers in the same transaction.
func (s *Store) CreateDrawing(ctx context.Context, rec *models.DrawingRecord) error {
	if len(rec.VectorBytes) == 0 && rec.ImageURL == nil {
		return errors.New("drawing record needs vector bytes or an image url")
	}
	query := `
		WITH ins AS (
			INSERT INTO drawings (id, pair_id, from_user_id, to_user_id, created_at, vector_bytes, image_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		)
		SELECT pg_notify('drawing_created', id) FROM ins
	`
	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.PairID, rec.FromUserID, rec.ToUserID,
		rec.CreatedAt, rec.VectorBytes, rec.ImageURL,
	)
	if err != nil {
		return fmt.Errorf("failed to create drawing: %w", err)
	}
	return nil
}

// GetDrawing retrieves one record by id.
func (s *Store) GetDrawing(ctx context.Context, id string) (*models.DrawingRecord, error) {
	query := `SELECT ` + drawingColumns + ` FROM drawings WHERE id = $1`
	return scanDrawing(s.db.QueryRow(ctx, query, id))
}

func (s *Store) listDrawings(ctx context.Context, column, userID string) ([]*models.DrawingRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM drawings
		WHERE %s = $1
		ORDER BY created_at DESC
	`, drawingColumns, column)
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drawings: %w", err)
	}
	defer rows.Close()

	var recs []*models.DrawingRecord
	for rows.Next() {
		rec, err := scanDrawing(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drawings: %w", err)
	}
	return recs, nil
}

// ListReceived returns records addressed to userID, newest first.
func (s *Store) ListReceived(ctx context.Context, userID string) ([]*models.DrawingRecord, error) {
	return s.listDrawings(ctx, "to_user_id", userID)
}

// ListSent returns records authored by userID, newest first.
func (s *Store) ListSent(ctx context.Context, userID string) ([]*models.DrawingRecord, error) {
	return s.listDrawings(ctx, "from_user_id", userID)
}

// SubscribeReceived opens a snapshot feed of records addressed to userID.
func (s *Store) SubscribeReceived(ctx context.Context, userID string) (repository.DrawingFeed, error) {
	feed := s.listener.subscribeReceived(userID)
	// Deliver the current result set up front; later deliveries are driven
	// by notifications.
	snapshot, err := s.ListReceived(ctx, userID)
	if err != nil {
		feed.Cancel()
		return nil, err
	}
	feed.send(snapshot)
	return feed, nil
}

// SubscribeCreated opens a feed of all newly created drawing records.
func (s *Store) SubscribeCreated(_ context.Context) (repository.CreatedFeed, error) {
	return s.listener.subscribeCreated(), nil
}
