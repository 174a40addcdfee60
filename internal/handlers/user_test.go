package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"doodle-sync-backend/internal/middleware"
	"doodle-sync-backend/internal/repository/memory"
	"doodle-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(store *memory.Store) (*chi.Mux, *services.IdentityService) {
	identity := services.NewIdentityService(store, "test-secret")
	userHandler := NewUserHandler(identity)
	drawingHandler := NewDrawingHandler(store)

	r := chi.NewRouter()
	r.Post("/api/v1/users", userHandler.CreateUser)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(identity))
		r.Put("/api/v1/users/device-token", userHandler.UpdateDeviceToken)
		r.Get("/api/v1/drawings/{drawing_id}", drawingHandler.GetDrawing)
	})
	return r, identity
}

func TestCreateUserEndpoint(t *testing.T) {
	store := memory.New()
	r, identity := newTestRouter(store)

	body := bytes.NewBufferString(`{"name":"Alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CreateUserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "Alice", resp.DisplayName)
	assert.Len(t, resp.InviteCode, 6)
	require.NotEmpty(t, resp.Token)

	userID, err := identity.ValidateJWT(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, userID)
}

func TestCreateUserEndpointBadBody(t *testing.T) {
	r, _ := newTestRouter(memory.New())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateDeviceTokenEndpoint(t *testing.T) {
	store := memory.New()
	r, identity := newTestRouter(store)

	user, token, err := identity.CreateUser(context.Background(), "Alice")
	require.NoError(t, err)

	body := bytes.NewBufferString(`{"device_token":"apns-token"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/device-token", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := store.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DeviceToken)
	assert.Equal(t, "apns-token", *stored.DeviceToken)

	// A null token clears the field.
	req = httptest.NewRequest(http.MethodPut, "/api/v1/users/device-token", bytes.NewBufferString(`{"device_token":null}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err = store.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DeviceToken)
}

func TestUpdateDeviceTokenRequiresAuth(t *testing.T) {
	r, _ := newTestRouter(memory.New())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/device-token", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/users/device-token", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
