package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is an operator allowed to run the wizard and browse the admin.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewUser creates a new operator record with immutable pattern
func NewUser(username, passwordHash string) User {
	return User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
}

// Session binds an opaque browser token to a user until it expires.
type Session struct {
	Token     uuid.UUID `json:"token"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSession opens a session for the user lasting ttl.
func NewSession(userID uuid.UUID, ttl time.Duration) Session {
	now := time.Now()
	return Session{
		Token:     uuid.New(),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// Expired reports whether the session is no longer valid at t.
func (s Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}
