package services

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Session is what the registry manages: one live attachment per user,
// closed when replaced.
type Session interface {
	Close()
}

// SessionRegistry enforces at most one active session per user. Starting
// a new one always closes the previous one first, which is what keeps the
// single-watch and single-subscription discipline from leaking listeners.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]Session)}
}

// Register installs the session for userID, closing any prior one.
func (r *SessionRegistry) Register(userID string, s Session) {
	r.mu.Lock()
	prev := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
		log.Info().Str("user_id", userID).Msg("Replaced existing session")
	}
	log.Info().Str("user_id", userID).Msg("Session registered")
}

// Unregister removes the session if it is still the current one. A
// session replaced by a newer registration must not evict its successor.
func (r *SessionRegistry) Unregister(userID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[userID] == s {
		delete(r.sessions, userID)
		log.Info().Str("user_id", userID).Msg("Session unregistered")
	}
}

// IsOnline reports whether the user has a live session.
func (r *SessionRegistry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[userID]
	return ok
}
