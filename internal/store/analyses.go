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

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GetAnalysis returns the analysis of a chat owned by userID
func (s *Store) GetAnalysis(ctx context.Context, userID, chatID string) (*Analysis, error) {
	db := s.db.WithContext(ctx)
	if _, err := getChat(db, userID, chatID); err != nil {
		return nil, err
	}

	var analysis Analysis
	if err := db.Where("chat_id = ?", chatID).First(&analysis).Error; err != nil {
		return nil, translateError(err)
	}
	return &analysis, nil
}

// UpsertAnalysis stores the analysis of a chat owned by userID and retitles
// the chat. A blank title becomes UntitledAnalysis.
func (s *Store) UpsertAnalysis(ctx context.Context, userID, chatID string, data datatypes.JSON, title string) (*Analysis, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = UntitledAnalysis
	}

	var analysis Analysis
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getChat(tx, userID, chatID); err != nil {
			return err
		}

		err := tx.Where("chat_id = ?", chatID).First(&analysis).Error
		switch translateError(err) {
		case nil:
			analysis.Data = data
			if err := tx.Save(&analysis).Error; err != nil {
				return fmt.Errorf("failed to update analysis: %w", err)
			}
		case ErrNotFound:
			analysis = Analysis{ChatID: chatID, Data: data}
			if err := tx.Create(&analysis).Error; err != nil {
				return fmt.Errorf("failed to create analysis: %w", translateError(err))
			}
		default:
			return fmt.Errorf("failed to load analysis: %w", err)
		}

		if err := tx.Model(&Chat{}).Where("id = ?", chatID).Update("title", title).Error; err != nil {
			return fmt.Errorf("failed to retitle chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}
