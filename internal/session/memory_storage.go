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
	"sync"
	"time"
)

// MemoryStorage keeps sessions in memory and evicts the least recently
// used session once maxSessions is reached.
type MemoryStorage struct {
	sessions    map[string]*Session
	userIndex   map[string]map[string]struct{}
	accessTime  map[string]time.Time
	maxSessions int
	now         func() time.Time
	mutex       sync.Mutex
}

// NewMemoryStorage creates a new in-memory session storage
func NewMemoryStorage(maxSessions int) *MemoryStorage {
	if maxSessions <= 0 {
		maxSessions = DefaultConfig().MaxSessions
	}
	return &MemoryStorage{
		sessions:    make(map[string]*Session),
		userIndex:   make(map[string]map[string]struct{}),
		accessTime:  make(map[string]time.Time),
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// Get retrieves a live session by ID
func (m *MemoryStorage) Get(_ context.Context, sessionID string) (*Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists || session.Expired(m.now()) {
		return nil, ErrSessionNotFound
	}

	m.accessTime[sessionID] = m.now()

	sessionCopy := *session
	return &sessionCopy, nil
}

// Set stores a session. A positive ttl overrides its expiry time.
func (m *MemoryStorage) Set(_ context.Context, session *Session, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.sessions[session.ID]; !exists && len(m.sessions) >= m.maxSessions {
		m.evictOldestSession()
	}

	sessionCopy := *session
	if ttl > 0 {
		sessionCopy.ExpiresAt = m.now().Add(ttl)
	}

	m.sessions[session.ID] = &sessionCopy
	m.accessTime[session.ID] = m.now()

	ids, ok := m.userIndex[session.UserID]
	if !ok {
		ids = make(map[string]struct{})
		m.userIndex[session.UserID] = ids
	}
	ids[session.ID] = struct{}{}

	return nil
}

// Delete removes a session
func (m *MemoryStorage) Delete(_ context.Context, sessionID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return ErrSessionNotFound
	}
	m.remove(sessionID)
	return nil
}

// List returns the live sessions of a user
func (m *MemoryStorage) List(_ context.Context, userID string) ([]*Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	sessions := []*Session{}
	for sessionID := range m.userIndex[userID] {
		if session, exists := m.sessions[sessionID]; exists && !session.Expired(now) {
			sessionCopy := *session
			sessions = append(sessions, &sessionCopy)
		}
	}
	return sessions, nil
}

// Cleanup removes expired sessions
func (m *MemoryStorage) Cleanup(_ context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	for sessionID, session := range m.sessions {
		if session.Expired(now) {
			m.remove(sessionID)
		}
	}
	return nil
}

// Ping implements Storage
func (m *MemoryStorage) Ping(context.Context) error {
	return nil
}

// Close clears all sessions
func (m *MemoryStorage) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.sessions = make(map[string]*Session)
	m.userIndex = make(map[string]map[string]struct{})
	m.accessTime = make(map[string]time.Time)
	return nil
}

// Len returns the number of stored sessions, expired ones included
func (m *MemoryStorage) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.sessions)
}

// remove must be called with mutex held
func (m *MemoryStorage) remove(sessionID string) {
	session, exists := m.sessions[sessionID]
	if !exists {
		return
	}
	if ids, ok := m.userIndex[session.UserID]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(m.userIndex, session.UserID)
		}
	}
	delete(m.sessions, sessionID)
	delete(m.accessTime, sessionID)
}

// evictOldestSession removes the least recently used session
func (m *MemoryStorage) evictOldestSession() {
	var oldestSessionID string
	var oldestTime time.Time

	for sessionID, accessTime := range m.accessTime {
		if oldestSessionID == "" || accessTime.Before(oldestTime) {
			oldestSessionID = sessionID
			oldestTime = accessTime
		}
	}

	if oldestSessionID != "" {
		m.remove(oldestSessionID)
	}
}
