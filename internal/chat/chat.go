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

// Package chat relays user turns to the AI advisor and manages the chats and
// messages they are stored in.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/llm"
	"github.com/your-org/str-analyzer/internal/resilience"
	"github.com/your-org/str-analyzer/internal/store"
)

const maxTitleLength = 200

// Store is the persistence the chat service needs
type Store interface {
	CreateChat(ctx context.Context, userID, title string) (*store.Chat, error)
	ListChats(ctx context.Context, userID string, withAnalysisOnly bool) ([]store.Chat, error)
	GetChat(ctx context.Context, userID, chatID string) (*store.Chat, error)
	RenameChat(ctx context.Context, userID, chatID, title string) (*store.Chat, error)
	DeleteChat(ctx context.Context, userID, chatID string) error
	AppendExchange(ctx context.Context, prompt, reply *store.Message) error
	FindByIdempotencyKey(ctx context.Context, userID, chatID, key string) (*store.Message, error)
	ListMessages(ctx context.Context, filter store.MessageFilter) ([]store.Message, error)
	RecentMessages(ctx context.Context, chatID string, limit int) ([]store.Message, error)
}

// Completer produces advisor replies
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error)
}

// Options configure the relay
type Options struct {
	SystemPrompt     string
	HistoryLimit     int
	MaxMessageLength int
	// HistoryMessageTokens caps each earlier turn sent back to the model
	HistoryMessageTokens int
}

// Service implements the chat relay and chat management
type Service struct {
	store  Store
	llm    Completer
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a chat service
func NewService(st Store, completer Completer, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 8000
	}
	if opts.HistoryMessageTokens <= 0 {
		opts.HistoryMessageTokens = 2000
	}
	return &Service{
		store:  st,
		llm:    completer,
		opts:   opts,
		logger: logger.With(zap.String("component", "chat")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create starts an empty chat
func (s *Service) Create(ctx context.Context, userID string) (*store.Chat, error) {
	chat, err := s.store.CreateChat(ctx, userID, store.DefaultChatTitle)
	if err != nil {
		return nil, resilience.NewInternalError("Failed to create chat", err)
	}
	return chat, nil
}

// List returns the user's chats newest first. Unless all is set only chats
// with an analysis are included.
func (s *Service) List(ctx context.Context, userID string, all bool) ([]store.Chat, error) {
	chats, err := s.store.ListChats(ctx, userID, !all)
	if err != nil {
		return nil, resilience.NewInternalError("Failed to fetch chats", err)
	}
	return chats, nil
}

// Get returns one chat
func (s *Service) Get(ctx context.Context, userID, chatID string) (*store.Chat, error) {
	chat, err := s.store.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, chatError(err, "Failed to fetch chat")
	}
	return chat, nil
}

// Rename changes a chat title
func (s *Service) Rename(ctx context.Context, userID, chatID, title string) (*store.Chat, error) {
	title = strings.TrimSpace(title)
	switch n := utf8.RuneCountInString(title); {
	case n == 0:
		return nil, resilience.NewValidationError("Invalid title", map[string]string{"title": "This field is required"})
	case n > maxTitleLength:
		return nil, resilience.NewValidationError("Invalid title", map[string]string{
			"title": fmt.Sprintf("Must be less than %d characters", maxTitleLength),
		})
	}

	chat, err := s.store.RenameChat(ctx, userID, chatID, title)
	if err != nil {
		return nil, chatError(err, "Failed to update chat")
	}
	return chat, nil
}

// Delete removes a chat with its messages and analysis
func (s *Service) Delete(ctx context.Context, userID, chatID string) error {
	if err := s.store.DeleteChat(ctx, userID, chatID); err != nil {
		return chatError(err, "Failed to delete chat")
	}
	s.logger.Info("Deleted chat", zap.String("chat_id", chatID), zap.String("user_id", userID))
	return nil
}

// Messages lists the user's messages, optionally for a single chat
func (s *Service) Messages(ctx context.Context, userID, chatID string, includeHidden bool) ([]store.Message, error) {
	if chatID != "" {
		if _, err := s.store.GetChat(ctx, userID, chatID); err != nil {
			return nil, chatError(err, "Failed to fetch messages")
		}
	}

	messages, err := s.store.ListMessages(ctx, store.MessageFilter{
		UserID:        userID,
		ChatID:        chatID,
		IncludeHidden: includeHidden,
	})
	if err != nil {
		return nil, resilience.NewInternalError("Failed to fetch messages", err)
	}
	return messages, nil
}

func chatError(err error, message string) *resilience.ServiceError {
	if errors.Is(err, store.ErrNotFound) {
		return resilience.NewNotFoundError("Chat not found", err)
	}
	return resilience.NewInternalError(message, err)
}
