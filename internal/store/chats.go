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
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateChat starts a chat for a user. An empty title becomes DefaultChatTitle.
func (s *Store) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultChatTitle
	}
	chat := &Chat{UserID: userID, Title: title}
	if err := s.db.WithContext(ctx).Create(chat).Error; err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", translateError(err))
	}
	return chat, nil
}

// ListChats returns a user's chats newest first with their analyses. With
// withAnalysisOnly only chats that have an analysis are returned.
func (s *Store) ListChats(ctx context.Context, userID string, withAnalysisOnly bool) ([]Chat, error) {
	q := s.db.WithContext(ctx).
		Preload("Analysis").
		Where("user_id = ?", userID)
	if withAnalysisOnly {
		q = q.Where("EXISTS (SELECT 1 FROM analyses WHERE analyses.chat_id = chats.id)")
	}

	chats := []Chat{}
	if err := q.Order("created_at DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// GetChat returns a chat owned by userID
func (s *Store) GetChat(ctx context.Context, userID, chatID string) (*Chat, error) {
	return getChat(s.db.WithContext(ctx).Preload("Analysis"), userID, chatID)
}

// RenameChat changes the title of a chat owned by userID
func (s *Store) RenameChat(ctx context.Context, userID, chatID, title string) (*Chat, error) {
	res := s.db.WithContext(ctx).
		Model(&Chat{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Update("title", title)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to rename chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetChat(ctx, userID, chatID)
}

// DeleteChat removes a chat owned by userID with its messages and analysis
func (s *Store) DeleteChat(ctx context.Context, userID, chatID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getChat(tx, userID, chatID); err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&Analysis{}).Error; err != nil {
			return fmt.Errorf("failed to delete analysis: %w", err)
		}
		if err := tx.Where("id = ?", chatID).Delete(&Chat{}).Error; err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Deleted chat", zap.String("chat_id", chatID), zap.String("user_id", userID))
	return nil
}

func getChat(db *gorm.DB, userID, chatID string) (*Chat, error) {
	var chat Chat
	if err := db.Where("id = ? AND user_id = ?", chatID, userID).First(&chat).Error; err != nil {
		return nil, translateError(err)
	}
	return &chat, nil
}
