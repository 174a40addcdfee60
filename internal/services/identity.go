package services

import (
	"context"
	"fmt"
	"time"

	"doodle-sync-backend/internal/invitecode"
	"doodle-sync-backend/internal/models"
	"doodle-sync-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const jwtExpDays = 365

// IdentityService provisions anonymous users and issues the tokens the
// rest of the API authenticates with. The pairing core only ever consumes
// its output: a stable user id.
type IdentityService struct {
	store     repository.Store
	jwtSecret string
}

// NewIdentityService creates an identity service.
func NewIdentityService(store repository.Store, jwtSecret string) *IdentityService {
	return &IdentityService{store: store, jwtSecret: jwtSecret}
}

// CreateUser provisions a new user with a fresh invite code and a signed
// token.
func (s *IdentityService) CreateUser(ctx context.Context, displayName string) (*models.User, string, error) {
	if displayName == "" {
		displayName = "Anonymous"
	}

	userID := uuid.New().String()
	user := &models.User{
		ID:          userID,
		DisplayName: displayName,
		InviteCode:  invitecode.Generate(),
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.GenerateJWT(userID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}
	return user, token, nil
}

// UpdateDeviceToken keeps the push token current on the user record; nil
// clears it.
func (s *IdentityService) UpdateDeviceToken(ctx context.Context, userID string, token *string) error {
	return s.store.UpdateDeviceToken(ctx, userID, token)
}

// GenerateJWT signs a token carrying the user id.
func (s *IdentityService) GenerateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().AddDate(0, 0, jwtExpDays).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateJWT checks a token and returns the user id it carries.
func (s *IdentityService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	userID, ok := claims["user_id"].(string)
	if !ok {
		return "", fmt.Errorf("user_id not found in token")
	}
	return userID, nil
}
