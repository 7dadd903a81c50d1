package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rpattn/csvmodels/internal/domain"
	"github.com/rpattn/csvmodels/internal/repository"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "csvmodels_session"

const minPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrUsernameRequired   = errors.New("username is required")
)

// Service manages operator accounts and their browser sessions.
type Service struct {
	users        repository.UserRepository
	sessions     repository.SessionRepository
	ttl          time.Duration
	cookieSecure bool
	logger       *zap.Logger
}

func NewService(users repository.UserRepository, sessions repository.SessionRepository, ttl time.Duration, cookieSecure bool, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{users: users, sessions: sessions, ttl: ttl, cookieSecure: cookieSecure, logger: logger}
}

// CreateUser registers an operator with a bcrypt hashed password.
func (s *Service) CreateUser(ctx context.Context, username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, ErrUsernameRequired
	}
	if len(password) < minPasswordLength {
		return domain.User{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	return s.users.Create(ctx, domain.NewUser(username, string(hash)))
}

// Authenticate checks the credentials of an operator.
func (s *Service) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// StartSession opens a session for user and sets the session cookie.
func (s *Service) StartSession(ctx context.Context, w http.ResponseWriter, user domain.User) error {
	session, err := s.sessions.Create(ctx, domain.NewSession(user.ID, s.ttl))
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.Token.String(),
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// EndSession deletes the request's session, if any, and clears the cookie.
func (s *Service) EndSession(w http.ResponseWriter, r *http.Request) error {
	if token, ok := sessionToken(r); ok {
		if err := s.sessions.Delete(r.Context(), token); err != nil {
			return err
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// resolve returns the operator owning the request's session. A missing,
// unknown or expired session yields ok == false.
func (s *Service) resolve(r *http.Request) (domain.User, bool, error) {
	token, ok := sessionToken(r)
	if !ok {
		return domain.User{}, false, nil
	}
	session, err := s.sessions.Get(r.Context(), token)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	if session.Expired(time.Now()) {
		return domain.User{}, false, nil
	}
	user, err := s.users.GetByID(r.Context(), session.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}

// PurgeExpired removes sessions past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) error {
	removed, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Info("purged expired sessions", zap.Int64("count", removed))
	}
	return nil
}

func sessionToken(r *http.Request) (uuid.UUID, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return uuid.Nil, false
	}
	token, err := uuid.Parse(cookie.Value)
	if err != nil {
		return uuid.Nil, false
	}
	return token, true
}
