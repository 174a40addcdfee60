package handlers

import (
	"encoding/json"
	"net/http"

	"doodle-sync-backend/internal/middleware"
	"doodle-sync-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// UserHandler handles identity-related HTTP requests
type UserHandler struct {
	identity *services.IdentityService
}

// NewUserHandler creates a new user handler
func NewUserHandler(identity *services.IdentityService) *UserHandler {
	return &UserHandler{identity: identity}
}

// CreateUserRequest represents the request body for creating a user
type CreateUserRequest struct {
	Name string `json:"name"`
}

// CreateUserResponse carries the new user and its bearer token
type CreateUserResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	InviteCode  string `json:"invite_code"`
	Token       string `json:"token"`
}

// CreateUser handles POST /api/v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.identity.CreateUser(r.Context(), req.Name)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create user")
		respondError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("user_id", user.ID).
		Str("invite_code", user.InviteCode).
		Msg("User created")

	respondJSON(w, CreateUserResponse{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		InviteCode:  user.InviteCode,
		Token:       token,
	}, http.StatusOK)
}

// DeviceTokenRequest represents the request body for token upkeep. A null
// token clears the field.
type DeviceTokenRequest struct {
	DeviceToken *string `json:"device_token"`
}

// UpdateDeviceToken handles PUT /api/v1/users/device-token
func (h *UserHandler) UpdateDeviceToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req DeviceTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.identity.UpdateDeviceToken(ctx, userID, req.DeviceToken); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update device token")
		respondError(w, "Failed to update device token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
