package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"doodle-sync-backend/internal/models"
	"doodle-sync-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUser(id, code string) *models.User {
	return &models.User{ID: id, DisplayName: id, InviteCode: code, CreatedAt: time.Now()}
}

func TestUserRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateUser(ctx, newUser("alice", "ABCDEF")))

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.ID)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// Mutating the returned record must not leak into the store.
	u.DisplayName = "mutated"
	again, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.DisplayName)
}

func TestValidatePairingFieldsOnCreate(t *testing.T) {
	ctx := context.Background()
	s := New()

	partner := "bob"
	err := s.CreateUser(ctx, &models.User{ID: "alice", InviteCode: "ABCDEF", PartnerID: &partner})
	assert.Error(t, err, "partner without pair id must be rejected")
}

func TestTransactionAbortsOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateUser(ctx, newUser("alice", "ABCDEF")))

	sentinel := errors.New("boom")
	attempts := 0
	err := s.RunTransaction(ctx, func(tx repository.Txn) error {
		attempts++
		u, err := tx.GetUser("alice")
		if err != nil {
			return err
		}
		u.DisplayName = "changed"
		tx.PutUser(u)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts, "fn errors must not be retried")

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.DisplayName, "aborted writes must not apply")
}

func TestTransactionRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateUser(ctx, newUser("alice", "ABCDEF")))

	var once sync.Once
	attempts := 0
	err := s.RunTransaction(ctx, func(tx repository.Txn) error {
		attempts++
		u, err := tx.GetUser("alice")
		if err != nil {
			return err
		}
		// Invalidate the snapshot from outside on the first attempt.
		once.Do(func() {
			token := "t"
			require.NoError(t, s.UpdateDeviceToken(ctx, "alice", &token))
		})
		u.DisplayName = "renamed"
		tx.PutUser(u)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "renamed", u.DisplayName)
	require.NotNil(t, u.DeviceToken, "the external write must survive the retry")
}

func TestTransactionReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateUser(ctx, newUser("alice", "ABCDEF")))

	err := s.RunTransaction(ctx, func(tx repository.Txn) error {
		u, err := tx.GetUser("alice")
		if err != nil {
			return err
		}
		u.DisplayName = "first"
		tx.PutUser(u)

		again, err := tx.GetUser("alice")
		if err != nil {
			return err
		}
		assert.Equal(t, "first", again.DisplayName)
		return nil
	})
	require.NoError(t, err)
}

func TestWatchUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateUser(ctx, newUser("alice", "ABCDEF")))

	w, err := s.WatchUser(ctx, "alice")
	require.NoError(t, err)

	token := "tok"
	require.NoError(t, s.UpdateDeviceToken(ctx, "alice", &token))

	select {
	case u := <-w.Updates():
		require.NotNil(t, u.DeviceToken)
		assert.Equal(t, "tok", *u.DeviceToken)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch update")
	}

	w.Cancel()
	w.Cancel() // idempotent
	_, open := <-w.Updates()
	assert.False(t, open, "cancel must close the channel")
}

func TestSubscribeReceivedInitialSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateDrawing(ctx, &models.DrawingRecord{
		ID: "d1", PairID: "P", FromUserID: "alice", ToUserID: "bob",
		CreatedAt: time.Now(), VectorBytes: []byte("{}"),
	}))

	f, err := s.SubscribeReceived(ctx, "bob")
	require.NoError(t, err)
	defer f.Cancel()

	select {
	case snap := <-f.Snapshots():
		require.Len(t, snap, 1)
		assert.Equal(t, "d1", snap[0].ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}
}

func TestCreateDrawingRequiresPayload(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.CreateDrawing(ctx, &models.DrawingRecord{
		ID: "d1", PairID: "P", FromUserID: "alice", ToUserID: "bob",
		CreatedAt: time.Now(),
	})
	assert.Error(t, err, "a record with neither vector bytes nor an image url must be rejected")

	url := "https://example.com/d1.png"
	require.NoError(t, s.CreateDrawing(ctx, &models.DrawingRecord{
		ID: "d1", PairID: "P", FromUserID: "alice", ToUserID: "bob",
		CreatedAt: time.Now(), ImageURL: &url,
	}))
}

func TestSubscribeCreated(t *testing.T) {
	ctx := context.Background()
	s := New()

	f, err := s.SubscribeCreated(ctx)
	require.NoError(t, err)
	defer f.Cancel()

	require.NoError(t, s.CreateDrawing(ctx, &models.DrawingRecord{
		ID: "d1", PairID: "P", FromUserID: "alice", ToUserID: "bob",
		CreatedAt: time.Now(), VectorBytes: []byte("{}"),
	}))

	select {
	case rec := <-f.Records():
		assert.Equal(t, "d1", rec.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for created record")
	}
}

func TestListSentAndReceived(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Now()
	for i, id := range []string{"d1", "d2", "d3"} {
		to := "bob"
		if id == "d3" {
			to = "carol"
		}
		require.NoError(t, s.CreateDrawing(ctx, &models.DrawingRecord{
			ID: id, PairID: "P", FromUserID: "alice", ToUserID: to,
			CreatedAt: base.Add(time.Duration(i) * time.Second), VectorBytes: []byte("{}"),
		}))
	}

	recv, err := s.ListReceived(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, recv, 2)
	assert.Equal(t, "d2", recv[0].ID, "newest first")

	sent, err := s.ListSent(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sent, 3)
	assert.Equal(t, "d3", sent[0].ID)
}
