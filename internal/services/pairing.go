package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"doodle-sync-backend/internal/invitecode"
	"doodle-sync-backend/internal/models"
	"doodle-sync-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// Protocol errors surfaced verbatim to the caller. Anything else is a
// transport/storage failure, logged and returned generically.
var (
	ErrInvalidCode   = errors.New("invalid pair code")
	ErrSelfPairing   = errors.New("cannot pair with yourself")
	ErrAlreadyPaired = errors.New("user is already paired")
)

// PairingEventType tags events pushed to the session.
type PairingEventType string

const (
	// PairingPartnerUpdated carries the partner's latest record.
	PairingPartnerUpdated PairingEventType = "partner_update"
	// PairingDisconnected means the partner's side dropped the binding.
	PairingDisconnected PairingEventType = "partner_disconnected"
)

// PairingEvent is delivered on the coordinator's callback whenever the
// partner watch observes a change.
type PairingEvent struct {
	Type    PairingEventType
	Partner *models.User
}

// PairingCoordinator owns the pairing state machine for one user session.
// Published state is serialized behind one mutex; watch deliveries funnel
// through a single goroutine before touching it.
type PairingCoordinator struct {
	store   repository.Store
	onEvent func(PairingEvent)

	mu      sync.Mutex
	paired  bool
	partner *models.User
	watch   repository.UserWatch
}

// NewPairingCoordinator creates a coordinator. onEvent may be nil; when
// set, it is invoked from the watch goroutine, one event at a time.
func NewPairingCoordinator(store repository.Store, onEvent func(PairingEvent)) *PairingCoordinator {
	return &PairingCoordinator{store: store, onEvent: onEvent}
}

// IsPaired reports the current session pairing state.
func (c *PairingCoordinator) IsPaired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paired
}

// Partner returns the cached partner record, nil when unpaired.
func (c *PairingCoordinator) Partner() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partner
}

// EnsureOwnPairOpen makes sure an open pair exists under the user's
// current invite code. Idempotent; safe to call on every session start.
// The read-then-create is not atomic: only the code's owner ever calls
// this for their own code, so the race cannot double-create.
func (c *PairingCoordinator) EnsureOwnPairOpen(ctx context.Context, user *models.User) error {
	code := strings.ToUpper(user.InviteCode)

	_, err := c.store.GetPair(ctx, code)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to check pair: %w", err)
	}

	pair := &models.Pair{
		ID:        code,
		Code:      code,
		User1ID:   user.ID,
		User2ID:   nil,
		CreatedAt: time.Now(),
	}
	if err := c.store.CreatePair(ctx, pair); err != nil {
		return fmt.Errorf("failed to create pair: %w", err)
	}
	return nil
}

// JoinWithCode claims the pair behind rawCode for callerId. The claim and
// both user bindings commit in one transaction; under two concurrent join
// attempts exactly one succeeds and the loser observes ErrAlreadyPaired.
// On success the partner's record is loaded and watched.
func (c *PairingCoordinator) JoinWithCode(ctx context.Context, rawCode, callerID string) (*models.User, error) {
	normalized := invitecode.Normalize(rawCode)
	if len(normalized) != invitecode.Length {
		return nil, ErrInvalidCode
	}

	var partnerID string
	err := c.store.RunTransaction(ctx, func(tx repository.Txn) error {
		pair, err := tx.GetPair(normalized)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrInvalidCode
			}
			return err
		}
		if pair.User1ID == "" {
			return ErrInvalidCode
		}
		if pair.User1ID == callerID {
			return ErrSelfPairing
		}
		if pair.User2ID != nil {
			return ErrAlreadyPaired
		}

		pair.User2ID = &callerID
		tx.PutPair(pair)

		owner, err := tx.GetUser(pair.User1ID)
		if err != nil {
			return fmt.Errorf("failed to load code owner: %w", err)
		}
		owner.PartnerID = &callerID
		owner.PairID = &normalized
		tx.PutUser(owner)

		me, err := tx.GetUser(callerID)
		if err != nil {
			return fmt.Errorf("failed to load caller: %w", err)
		}
		me.PartnerID = &pair.User1ID
		me.PairID = &normalized
		tx.PutUser(me)

		partnerID = pair.User1ID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrSelfPairing) || errors.Is(err, ErrAlreadyPaired) {
			return nil, err
		}
		log.Error().Err(err).Str("pair_code", normalized).Str("user_id", callerID).Msg("Join transaction failed")
		return nil, fmt.Errorf("failed to join pair: %w", err)
	}

	partner, err := c.loadPartnerAndWatch(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", callerID).
		Str("partner_id", partnerID).
		Str("pair_code", normalized).
		Msg("Pair joined")

	return partner, nil
}

// CheckPairingStatus reads the caller's record and syncs local state: if a
// partner is bound, it is loaded and watched, otherwise the session drops
// to unpaired.
func (c *PairingCoordinator) CheckPairingStatus(ctx context.Context, userID string) error {
	me, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !me.Paired() {
		c.setUnpaired()
		return nil
	}
	_, err = c.loadPartnerAndWatch(ctx, *me.PartnerID)
	return err
}

func (c *PairingCoordinator) loadPartnerAndWatch(ctx context.Context, partnerID string) (*models.User, error) {
	partner, err := c.store.GetUser(ctx, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load partner: %w", err)
	}

	watch, err := c.store.WatchUser(ctx, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to watch partner: %w", err)
	}

	c.mu.Lock()
	if c.watch != nil {
		c.watch.Cancel()
	}
	c.watch = watch
	c.paired = true
	c.partner = partner
	c.mu.Unlock()

	go c.watchLoop(watch)
	return partner, nil
}

// watchLoop consumes one partner watch. A watch replaced by a newer one
// stops mattering the moment it is cancelled; a racing delivery is ignored.
func (c *PairingCoordinator) watchLoop(watch repository.UserWatch) {
	for partner := range watch.Updates() {
		c.mu.Lock()
		if c.watch != watch {
			c.mu.Unlock()
			return
		}
		var event PairingEvent
		if partner.PartnerID == nil {
			// The other side disconnected. Eventually consistent,
			// bounded by notification latency.
			c.paired = false
			c.partner = nil
			c.watch = nil
			event = PairingEvent{Type: PairingDisconnected}
			c.mu.Unlock()
			watch.Cancel()
			if c.onEvent != nil {
				c.onEvent(event)
			}
			return
		}
		c.partner = partner
		event = PairingEvent{Type: PairingPartnerUpdated, Partner: partner}
		c.mu.Unlock()
		if c.onEvent != nil {
			c.onEvent(event)
		}
	}
}

// Disconnect drops the current pairing. Both user records are cleared and
// re-coded in one atomic write; local state resets immediately after it
// commits. Creating the fresh open pair for the caller's new code is
// best-effort: on failure the next EnsureOwnPairOpen call repairs it.
func (c *PairingCoordinator) Disconnect(ctx context.Context, userID string) error {
	c.mu.Lock()
	partner := c.partner
	c.mu.Unlock()
	if partner == nil {
		return nil
	}
	partnerID := partner.ID

	myNewCode := invitecode.Generate()
	partnerNewCode := invitecode.Generate()

	err := c.store.RunTransaction(ctx, func(tx repository.Txn) error {
		me, err := tx.GetUser(userID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		other, err := tx.GetUser(partnerID)
		if err != nil {
			return fmt.Errorf("failed to load partner: %w", err)
		}

		me.PartnerID = nil
		me.PairID = nil
		me.InviteCode = myNewCode
		tx.PutUser(me)

		other.PartnerID = nil
		other.PairID = nil
		other.InviteCode = partnerNewCode
		tx.PutUser(other)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Disconnect transaction failed")
		return fmt.Errorf("failed to disconnect: %w", err)
	}

	c.setUnpaired()

	newPair := &models.Pair{
		ID:        myNewCode,
		Code:      myNewCode,
		User1ID:   userID,
		CreatedAt: time.Now(),
	}
	if err := c.store.CreatePair(ctx, newPair); err != nil {
		// Tolerated: EnsureOwnPairOpen self-heals on next session start.
		log.Warn().Err(err).Str("pair_code", myNewCode).Msg("Failed to create replacement pair")
	}

	log.Info().Str("user_id", userID).Str("partner_id", partnerID).Msg("Pair disconnected")
	return nil
}

func (c *PairingCoordinator) setUnpaired() {
	c.mu.Lock()
	watch := c.watch
	c.watch = nil
	c.paired = false
	c.partner = nil
	c.mu.Unlock()
	if watch != nil {
		watch.Cancel()
	}
}

// Close stops the partner watch and clears state.
func (c *PairingCoordinator) Close() {
	c.setUnpaired()
}
