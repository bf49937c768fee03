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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	storage, err := NewRedisStorage("redis://"+mr.Addr()+"/0", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage, mr
}

func TestRedisStorage_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	storage, mr := newTestRedisStorage(t)

	require.NoError(t, storage.Set(ctx, newTestSession("s1", "u1", time.Hour), time.Hour))
	assert.True(t, mr.Exists("str-analyzer:session:s1"))
	assert.Greater(t, mr.TTL("str-analyzer:session:s1"), 59*time.Minute)

	got, err := storage.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	require.NoError(t, storage.Delete(ctx, "s1"))
	_, err = storage.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, storage.Delete(ctx, "s1"), ErrSessionNotFound)
}

func TestRedisStorage_ExpiryAndIndexCleanup(t *testing.T) {
	ctx := context.Background()
	storage, mr := newTestRedisStorage(t)

	require.NoError(t, storage.Set(ctx, newTestSession("short", "u1", time.Minute), time.Minute))
	require.NoError(t, storage.Set(ctx, newTestSession("long", "u1", time.Hour), time.Hour))

	mr.FastForward(2 * time.Minute)

	_, err := storage.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, storage.Cleanup(ctx))
	members, err := mr.Members("str-analyzer:user_sessions:u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, members)

	sessions, err := storage.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "long", sessions[0].ID)
}

func TestRedisStorage_RejectsExpiredSessionWithoutTTL(t *testing.T) {
	storage, _ := newTestRedisStorage(t)
	s := newTestSession("old", "u1", -time.Minute)
	assert.Error(t, storage.Set(context.Background(), s, 0))
}

func TestRedisStorage_ManagerRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{
		StorageType: RedisStorageType,
		RedisURL:    "redis://" + mr.Addr(),
		DefaultTTL:  time.Hour,
	}, nil)
	require.NoError(t, err)
	defer manager.Close()

	s, err := manager.Create(ctx, "user-1", Metadata{ClientIP: "127.0.0.1"})
	require.NoError(t, err)

	got, err := manager.Validate(ctx, s.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", got.ClientIP)
	assert.NoError(t, manager.Ping(ctx))

	mr.Close()
	assert.Error(t, manager.Ping(ctx))
}

func TestNewRedisStorage_Errors(t *testing.T) {
	_, err := NewRedisStorage("", nil)
	assert.Error(t, err)

	_, err = NewRedisStorage("not a url", nil)
	assert.Error(t, err)

	_, err = NewRedisStorage("redis://127.0.0.1:1/0", nil)
	assert.Error(t, err)
}
