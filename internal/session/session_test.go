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

package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DefaultTTL = time.Hour
	cfg.CleanupInterval = 10 * time.Millisecond
	manager, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestManager_CreateValidateRevoke(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	s, err := manager.Create(ctx, "user-1", Metadata{UserAgent: "curl/8", ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	assert.True(t, ValidateSessionID(s.ID))
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.ExpiresAt, 5*time.Second)

	got, err := manager.Validate(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "curl/8", got.UserAgent)

	_, err = manager.Validate(ctx, s.ID, "user-2")
	assert.ErrorIs(t, err, ErrSessionNotFound, "a session only validates for its owner")

	require.NoError(t, manager.Revoke(ctx, s.ID))
	_, err = manager.Validate(ctx, s.ID, "user-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.NoError(t, manager.Revoke(ctx, s.ID), "revoking twice is not an error")
}

func TestManager_ValidateRejectsMalformedIDs(t *testing.T) {
	manager := newTestManager(t)

	for _, id := range []string{"", "session_", "abc", "session_" + strings.Repeat("z", 32)} {
		_, err := manager.Validate(context.Background(), id, "user-1")
		assert.ErrorIs(t, err, ErrSessionNotFound, id)
	}
}

func TestManager_RevokeUser(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	for i := 0; i < 3; i++ {
		_, err := manager.Create(ctx, "user-1", Metadata{})
		require.NoError(t, err)
	}
	other, err := manager.Create(ctx, "user-2", Metadata{})
	require.NoError(t, err)

	n, err := manager.RevokeUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	sessions, err := manager.ListUserSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = manager.Validate(ctx, other.ID, "user-2")
	assert.NoError(t, err)
}

func TestManager_Stats(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	_, err := manager.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)

	stats := manager.GetStats()
	assert.Equal(t, "memory", stats["storage_type"])
	assert.Equal(t, 1, stats["active_sessions"])
	assert.NoError(t, manager.Ping(ctx))
}

func TestNewManager_UnsupportedStorage(t *testing.T) {
	_, err := NewManager(Config{StorageType: "etcd"}, nil)
	assert.ErrorContains(t, err, "unsupported storage type")
}

func TestNewManager_RedisRequiresURL(t *testing.T) {
	_, err := NewManager(Config{StorageType: RedisStorageType}, nil)
	assert.Error(t, err)
}

func TestManager_CloseStopsCleanupLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := DefaultConfig()
	cfg.CleanupInterval = time.Millisecond
	manager, err := NewManager(cfg, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.SessionConfig{
		Storage:         "redis",
		RedisURL:        "redis://localhost:6379/0",
		MaxSessions:     50,
		CleanupInterval: time.Minute,
	}, 2*time.Hour)

	assert.Equal(t, RedisStorageType, cfg.StorageType)
	assert.Equal(t, 2*time.Hour, cfg.DefaultTTL)
	assert.Equal(t, 50, cfg.MaxSessions)
}
