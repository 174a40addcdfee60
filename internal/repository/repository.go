// Package repository defines the storage adapter for users, pairs and
// drawing records: plain reads and writes, an atomic transaction primitive
// with conflict retry, and change feeds used for partner watches and
// drawing subscriptions.
package repository

import (
	"context"
	"errors"

	"doodle-sync-backend/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by a transaction that lost against a
	// concurrent write and exhausted its retries.
	ErrConflict = errors.New("transaction conflict")
)

// Txn is the view handed to a transaction function. Reads observe a
// consistent snapshot; writes are buffered and committed atomically. If a
// concurrently committed write invalidates the snapshot, the whole function
// is re-run by the store.
type Txn interface {
	GetUser(id string) (*models.User, error)
	GetPair(code string) (*models.Pair, error)
	PutUser(user *models.User)
	PutPair(pair *models.Pair)
}

// UserWatch is a standing subscription to one user record. Updates delivers
// the record after each committed change. Cancel is idempotent; no delivery
// is guaranteed after it returns, but a racing one must not panic.
type UserWatch interface {
	Updates() <-chan *models.User
	Cancel()
}

// DrawingFeed delivers, on every change, the full result set of drawings
// addressed to the subscribed user, newest first. The latest delivery is
// authoritative over any earlier one-shot read.
type DrawingFeed interface {
	Snapshots() <-chan []*models.DrawingRecord
	Cancel()
}

// CreatedFeed delivers every newly created drawing record once, for
// out-of-band consumers such as the push dispatcher.
type CreatedFeed interface {
	Records() <-chan *models.DrawingRecord
	Cancel()
}

// Store is the full storage surface. Both the postgres and the in-memory
// implementations provide it.
type Store interface {
	// CreateUser inserts a new user record.
	CreateUser(ctx context.Context, user *models.User) error
	// GetUser loads a user by id, ErrNotFound if absent.
	GetUser(ctx context.Context, id string) (*models.User, error)
	// UpdateDeviceToken sets or clears the push token on a user record.
	UpdateDeviceToken(ctx context.Context, userID string, token *string) error
	// WatchUser opens a change feed on one user record.
	WatchUser(ctx context.Context, id string) (UserWatch, error)

	// GetPair loads a pair by code, ErrNotFound if absent.
	GetPair(ctx context.Context, code string) (*models.Pair, error)
	// CreatePair inserts a new open pair record.
	CreatePair(ctx context.Context, pair *models.Pair) error

	// RunTransaction executes fn atomically, retrying it on conflicting
	// concurrent writes. Writes made through the Txn are all-or-nothing.
	RunTransaction(ctx context.Context, fn func(tx Txn) error) error

	// CreateDrawing inserts a drawing record. Records are immutable.
	CreateDrawing(ctx context.Context, rec *models.DrawingRecord) error
	// GetDrawing loads one record by id, ErrNotFound if absent.
	GetDrawing(ctx context.Context, id string) (*models.DrawingRecord, error)
	// ListReceived returns records addressed to userID, newest first.
	ListReceived(ctx context.Context, userID string) ([]*models.DrawingRecord, error)
	// ListSent returns records authored by userID, newest first.
	ListSent(ctx context.Context, userID string) ([]*models.DrawingRecord, error)
	// SubscribeReceived opens a snapshot feed of records addressed to userID.
	SubscribeReceived(ctx context.Context, userID string) (DrawingFeed, error)
	// SubscribeCreated opens a feed of all newly created records.
	SubscribeCreated(ctx context.Context) (CreatedFeed, error)
}

// ValidatePairingFields enforces the both-or-neither invariant on
// partner/pair bindings before a user record is written.
func ValidatePairingFields(user *models.User) error {
	if (user.PartnerID == nil) != (user.PairID == nil) {
		return errors.New("partner_id and pair_id must be set together")
	}
	return nil
}
