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

// Package session keeps server-side login sessions. A signed token names a
// session; deleting the session revokes the token before it expires.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/config"
)

// StorageType represents the type of storage backend for sessions
type StorageType string

const (
	// MemoryStorageType keeps sessions in process memory
	MemoryStorageType StorageType = "memory"
	// RedisStorageType keeps sessions in Redis so several replicas share them
	RedisStorageType StorageType = "redis"
)

// ErrSessionNotFound is returned for unknown, expired or revoked sessions
var ErrSessionNotFound = errors.New("session not found")

// Config holds configuration for session management
type Config struct {
	StorageType     StorageType   `json:"storage_type"`
	RedisURL        string        `json:"redis_url,omitempty"`
	DefaultTTL      time.Duration `json:"default_ttl"`
	MaxSessions     int           `json:"max_sessions"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		StorageType:     MemoryStorageType,
		DefaultTTL:      24 * time.Hour,
		MaxSessions:     10000,
		CleanupInterval: 5 * time.Minute,
	}
}

// ConfigFrom builds a session Config from the service configuration. Sessions
// live as long as the tokens that reference them.
func ConfigFrom(cfg config.SessionConfig, tokenTTL time.Duration) Config {
	return Config{
		StorageType:     StorageType(cfg.Storage),
		RedisURL:        cfg.RedisURL,
		DefaultTTL:      tokenTTL,
		MaxSessions:     cfg.MaxSessions,
		CleanupInterval: cfg.CleanupInterval,
	}
}

// Session is one signed-in device
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
}

// Expired reports whether the session has passed its expiry time
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Storage defines the interface for session storage backends
type Storage interface {
	// Get retrieves a live session or returns ErrSessionNotFound
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Set stores a session for ttl
	Set(ctx context.Context, session *Session, ttl time.Duration) error
	// Delete removes a session
	Delete(ctx context.Context, sessionID string) error
	// List returns the live sessions of a user
	List(ctx context.Context, userID string) ([]*Session, error)
	// Cleanup removes expired sessions
	Cleanup(ctx context.Context) error
	// Ping checks the backend is reachable
	Ping(ctx context.Context) error
	// Close releases the backend
	Close() error
}

// Metadata describes the client a session was created for
type Metadata struct {
	UserAgent string
	ClientIP  string
}

// Manager handles session lifecycle and storage operations
type Manager struct {
	storage Storage
	config  Config
	logger  *zap.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewManager creates a session manager with the configured storage backend
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var storage Storage
	switch config.StorageType {
	case MemoryStorageType, "":
		storage = NewMemoryStorage(config.MaxSessions)
	case RedisStorageType:
		redisStorage, err := NewRedisStorage(config.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis storage: %w", err)
		}
		storage = redisStorage
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.StorageType)
	}

	return NewManagerWithStorage(storage, config, logger), nil
}

// NewManagerWithStorage creates a manager around an existing backend and
// starts the cleanup loop when an interval is configured.
func NewManagerWithStorage(storage Storage, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig().DefaultTTL
	}

	manager := &Manager{
		storage: storage,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		manager.wg.Add(1)
		go manager.cleanupLoop()
	}

	return manager
}

// Create starts a session for a user
func (m *Manager) Create(ctx context.Context, userID string, meta Metadata) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:        GenerateSessionID(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.config.DefaultTTL),
		UserAgent: meta.UserAgent,
		ClientIP:  meta.ClientIP,
	}

	if err := m.storage.Set(ctx, session, m.config.DefaultTTL); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.Info("Created session",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID))

	return session, nil
}

// Validate returns the session when it is live and belongs to userID
func (m *Manager) Validate(ctx context.Context, sessionID, userID string) (*Session, error) {
	if !ValidateSessionID(sessionID) {
		return nil, ErrSessionNotFound
	}

	session, err := m.storage.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now()) || session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Revoke deletes a session. Revoking an unknown session is not an error.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if err := m.storage.Delete(ctx, sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	m.logger.Info("Revoked session", zap.String("session_id", sessionID))
	return nil
}

// RevokeUser deletes every session of a user and returns how many were removed
func (m *Manager) RevokeUser(ctx context.Context, userID string) (int, error) {
	sessions, err := m.storage.List(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	for _, s := range sessions {
		if err := m.Revoke(ctx, s.ID); err != nil {
			return 0, err
		}
	}
	return len(sessions), nil
}

// ListUserSessions returns the live sessions of a user
func (m *Manager) ListUserSessions(ctx context.Context, userID string) ([]*Session, error) {
	sessions, err := m.storage.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}
	return sessions, nil
}

// Ping checks the storage backend
func (m *Manager) Ping(ctx context.Context) error {
	return m.storage.Ping(ctx)
}

// cleanupLoop runs periodic cleanup of expired sessions
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.storage.Cleanup(ctx); err != nil {
				m.logger.Error("Failed to cleanup expired sessions", zap.Error(err))
			}
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the cleanup loop and closes the storage backend
func (m *Manager) Close() error {
	var err error
	m.once.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		if closeErr := m.storage.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close storage: %w", closeErr)
		}
	})
	return err
}

// GetStats returns session statistics
func (m *Manager) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"storage_type": string(m.config.StorageType),
		"max_sessions": m.config.MaxSessions,
		"default_ttl":  m.config.DefaultTTL.String(),
	}
	if mem, ok := m.storage.(*MemoryStorage); ok {
		stats["active_sessions"] = mem.Len()
	}
	return stats
}
