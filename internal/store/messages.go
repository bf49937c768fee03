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

package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// MessageFilter selects messages for ListMessages
type MessageFilter struct {
	UserID string
	// ChatID limits the result to one chat when set
	ChatID        string
	IncludeHidden bool
}

// AppendExchange stores a prompt and its reply in one transaction and bumps
// the chat's update time. The reply always sorts after the prompt.
func (s *Store) AppendExchange(ctx context.Context, prompt, reply *Message) error {
	if !reply.CreatedAt.After(prompt.CreatedAt) {
		reply.CreatedAt = prompt.CreatedAt.Add(time.Microsecond)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(prompt).Error; err != nil {
			return fmt.Errorf("failed to store prompt: %w", translateError(err))
		}
		if err := tx.Create(reply).Error; err != nil {
			return fmt.Errorf("failed to store reply: %w", translateError(err))
		}
		if err := tx.Model(&Chat{}).Where("id = ?", prompt.ChatID).Update("updated_at", reply.CreatedAt).Error; err != nil {
			return fmt.Errorf("failed to touch chat: %w", err)
		}
		return nil
	})
}

// FindByIdempotencyKey returns the reply stored for a prompt sent with key
func (s *Store) FindByIdempotencyKey(ctx context.Context, userID, chatID, key string) (*Message, error) {
	if key == "" {
		return nil, ErrNotFound
	}

	var reply Message
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ? AND idempotency_key = ? AND role = ?", userID, chatID, key, RoleAssistant).
		First(&reply).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &reply, nil
}

// ListMessages returns a user's messages oldest first
func (s *Store) ListMessages(ctx context.Context, filter MessageFilter) ([]Message, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", filter.UserID)
	if filter.ChatID != "" {
		q = q.Where("chat_id = ?", filter.ChatID)
	}
	if !filter.IncludeHidden {
		q = q.Where("hidden = ?", false)
	}

	messages := []Message{}
	if err := q.Order("created_at ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// RecentMessages returns up to limit of the latest messages of a chat, oldest
// first, hidden turns included
func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	messages := []Message{}
	q := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
