// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth registers accounts, signs users in and verifies the bearer
// tokens issued at login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/your-org/str-analyzer/internal/resilience"
	"github.com/your-org/str-analyzer/internal/session"
	"github.com/your-org/str-analyzer/internal/store"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt ignores anything longer
	passwordCost      = 10
)

var (
	// ErrInvalidToken is returned for malformed, expired or revoked tokens
	ErrInvalidToken = errors.New("invalid or expired token")

	errInvalidCredentials = resilience.NewUnauthorizedError("Invalid email or password", nil)

	// dummyHash is compared against when the email is unknown so both
	// rejection paths pay for one bcrypt comparison
	dummyHash = sync.OnceValue(func() []byte {
		hash, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), passwordCost)
		if err != nil {
			panic(fmt.Sprintf("auth: hashing dummy password: %v", err))
		}
		return hash
	})
)

// Users is the account storage the service needs
type Users interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*store.User, error)
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	UserByID(ctx context.Context, id string) (*store.User, error)
}

// Claims are the JWT claims issued at login
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Identity is the verified caller of a request
type Identity struct {
	UserID    string
	SessionID string
}

// Token is the result of a successful login
type Token struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *store.User `json:"user"`
}

// Service implements registration, login and token verification
type Service struct {
	users    Users
	sessions *session.Manager
	secret   []byte
	logger   *zap.Logger
	now      func() time.Time
	compare  func(hash, password []byte) error
}

// NewService creates an auth service. Token lifetime follows the session TTL.
func NewService(users Users, sessions *session.Manager, secret string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		secret:   []byte(secret),
		logger:   logger.With(zap.String("component", "auth")),
		now:      time.Now,
		compare:  bcrypt.CompareHashAndPassword,
	}
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account
func (s *Service) Register(ctx context.Context, email, password string) (*store.User, error) {
	email = NormalizeEmail(email)

	fields := map[string]string{}
	if email == "" {
		fields["email"] = "Email is required"
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields["email"] = "Must be a valid email address"
	}
	switch {
	case password == "":
		fields["password"] = "Password is required"
	case len(password) < minPasswordLength:
		fields["password"] = fmt.Sprintf("Must be at least %d characters", minPasswordLength)
	case len(password) > maxPasswordLength:
		fields["password"] = fmt.Sprintf("Must be at most %d bytes", maxPasswordLength)
	}
	if len(fields) > 0 {
		return nil, resilience.NewValidationError("Invalid registration details", fields)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return nil, resilience.NewInternalError("Failed to create user", err)
	}

	user, err := s.users.CreateUser(ctx, email, string(hash))
	if errors.Is(err, store.ErrDuplicate) {
		return nil, resilience.NewBadRequestError("User already exists", err)
	}
	if err != nil {
		return nil, resilience.NewInternalError("Failed to create user", err)
	}

	s.logger.Info("Registered user", zap.String("user_id", user.ID))
	return user, nil
}

// Login verifies credentials, opens a session and signs a token for it
func (s *Service) Login(ctx context.Context, email, password string, meta session.Metadata) (*Token, error) {
	user, err := s.users.UserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		_ = s.compare(dummyHash(), []byte(password))
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, resilience.NewInternalError("Failed to sign in", err)
	}

	if err := s.compare([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("Rejected login", zap.String("user_id", user.ID))
		return nil, errInvalidCredentials
	}

	sess, err := s.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, resilience.NewServiceUnavailableError("Failed to sign in", err)
	}

	token, err := s.sign(user.ID, sess.ID, sess.ExpiresAt)
	if err != nil {
		return nil, resilience.NewInternalError("Failed to sign in", err)
	}

	return &Token{Token: token, ExpiresAt: sess.ExpiresAt, User: user}, nil
}

// Logout revokes the session behind a token
func (s *Service) Logout(ctx context.Context, id Identity) error {
	if err := s.sessions.Revoke(ctx, id.SessionID); err != nil {
		return resilience.NewServiceUnavailableError("Failed to sign out", err)
	}
	return nil
}

// LogoutAll revokes every session of the caller, including the current one.
// It returns the number of sessions revoked.
func (s *Service) LogoutAll(ctx context.Context, id Identity) (int, error) {
	n, err := s.sessions.RevokeUser(ctx, id.UserID)
	if err != nil {
		return 0, resilience.NewServiceUnavailableError("Failed to sign out", err)
	}
	s.logger.Info("Revoked all sessions", zap.String("user_id", id.UserID), zap.Int("count", n))
	return n, nil
}

// Sessions lists the caller's live sessions
func (s *Service) Sessions(ctx context.Context, id Identity) ([]*session.Session, error) {
	sessions, err := s.sessions.ListUserSessions(ctx, id.UserID)
	if err != nil {
		return nil, resilience.NewServiceUnavailableError("Failed to list sessions", err)
	}

	now := s.now()
	live := make([]*session.Session, 0, len(sessions))
	for _, sess := range sessions {
		if !sess.Expired(now) {
			live = append(live, sess)
		}
	}
	return live, nil
}

// CurrentUser loads the account behind the caller's token
func (s *Service) CurrentUser(ctx context.Context, id Identity) (*store.User, error) {
	user, err := s.users.UserByID(ctx, id.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, resilience.NewNotFoundError("User not found", err)
	}
	if err != nil {
		return nil, resilience.NewInternalError("Failed to load user", err)
	}
	return user, nil
}

// Authenticate verifies a token and its session
func (s *Service) Authenticate(ctx context.Context, tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return Identity{}, ErrInvalidToken
	}

	if _, err := s.sessions.Validate(ctx, claims.SessionID, claims.Subject); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, err
	}

	return Identity{UserID: claims.Subject, SessionID: claims.SessionID}, nil
}

func (s *Service) sign(userID, sessionID string, expiresAt time.Time) (string, error) {
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(s.now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

type identityKey struct{}

// WithIdentity stores the caller on a context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller stored by WithIdentity
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
