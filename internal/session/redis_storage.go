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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultRedisPrefix = "str-analyzer:"

// RedisStorage keeps sessions in Redis. Each session is a JSON value with a
// TTL; a set per user indexes the user's session IDs.
type RedisStorage struct {
	client *goredis.Client
	logger *zap.Logger
	prefix string
}

// NewRedisStorage connects to redisURL and verifies the connection
func NewRedisStorage(redisURL string, logger *zap.Logger) (*RedisStorage, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisStorageWithClient(client, logger), nil
}

// NewRedisStorageWithClient wraps an existing client
func NewRedisStorageWithClient(client *goredis.Client, logger *zap.Logger) *RedisStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStorage{
		client: client,
		logger: logger,
		prefix: defaultRedisPrefix,
	}
}

// Get retrieves a session by ID
func (r *RedisStorage) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Set stores a session. A positive ttl overrides its expiry time.
func (r *RedisStorage) Set(ctx context.Context, session *Session, ttl time.Duration) error {
	stored := *session
	if ttl > 0 {
		stored.ExpiresAt = time.Now().UTC().Add(ttl)
	} else {
		ttl = time.Until(stored.ExpiresAt)
		if ttl <= 0 {
			return fmt.Errorf("session %s is already expired", session.ID)
		}
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	userKey := r.userIndexKey(session.UserID)
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(session.ID), data, ttl)
		pipe.SAdd(ctx, userKey, session.ID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	return nil
}

// Delete removes a session
func (r *RedisStorage) Delete(ctx context.Context, sessionID string) error {
	session, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(sessionID))
		pipe.SRem(ctx, r.userIndexKey(session.UserID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}

// List returns the live sessions of a user
func (r *RedisStorage) List(ctx context.Context, userID string) ([]*Session, error) {
	userKey := r.userIndexKey(userID)
	ids, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read user session index: %w", err)
	}

	sessions := []*Session{}
	for _, id := range ids {
		session, err := r.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			r.client.SRem(ctx, userKey, id)
			continue
		}
		if err != nil {
			r.logger.Warn("Failed to get session from user index",
				zap.String("session_id", id), zap.Error(err))
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Cleanup prunes user indexes. Redis expires the session keys itself.
func (r *RedisStorage) Cleanup(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.userIndexKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		ids, err := r.client.SMembers(ctx, userKey).Result()
		if err != nil {
			r.logger.Warn("Failed to read user index", zap.String("user_key", userKey), zap.Error(err))
			continue
		}
		for _, id := range ids {
			n, err := r.client.Exists(ctx, r.sessionKey(id)).Result()
			if err == nil && n == 0 {
				r.client.SRem(ctx, userKey, id)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan user indexes: %w", err)
	}
	return nil
}

// Ping implements Storage
func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func (r *RedisStorage) sessionKey(sessionID string) string {
	return r.prefix + "session:" + sessionID
}

func (r *RedisStorage) userIndexKey(userID string) string {
	return r.prefix + "user_sessions:" + userID
}
