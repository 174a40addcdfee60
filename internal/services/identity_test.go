package services

import (
	"context"
	"testing"

	"doodle-sync-backend/internal/invitecode"
	"doodle-sync-backend/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewIdentityService(store, "test-secret")

	user, token, err := svc.CreateUser(ctx, "Alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.True(t, invitecode.IsValid(user.InviteCode))
	assert.False(t, user.Paired())
	require.NotEmpty(t, token)

	userID, err := svc.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	stored, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.InviteCode, stored.InviteCode)
}

func TestCreateUserDefaultName(t *testing.T) {
	svc := NewIdentityService(memory.New(), "test-secret")
	user, _, err := svc.CreateUser(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Anonymous", user.DisplayName)
}

func TestValidateJWTRejectsBadTokens(t *testing.T) {
	svc := NewIdentityService(memory.New(), "test-secret")

	_, err := svc.ValidateJWT("not-a-token")
	assert.Error(t, err)

	other := NewIdentityService(memory.New(), "other-secret")
	token, err := other.GenerateJWT("alice")
	require.NoError(t, err)
	_, err = svc.ValidateJWT(token)
	assert.Error(t, err, "token signed with a different secret must be rejected")
}
