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

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/llm"
	"github.com/your-org/str-analyzer/internal/persona"
	"github.com/your-org/str-analyzer/internal/resilience"
	"github.com/your-org/str-analyzer/internal/store"
)

// RelayRequest is one user turn
type RelayRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
	// SystemPrompt frames the message as an analysis request
	SystemPrompt bool `json:"systemPrompt"`
	// HidePrompt stores the user turn as hidden
	HidePrompt     bool   `json:"hidePrompt"`
	IdempotencyKey string `json:"-"`
}

// RelayResponse is the advisor reply to a turn
type RelayResponse struct {
	Message   string    `json:"message"`
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	Model     string    `json:"model,omitempty"`
	Usage     llm.Usage `json:"usage"`
	Replayed  bool      `json:"replayed,omitempty"`
}

// Relay sends a user turn with the recent history of its chat to the advisor
// and stores both turns once the advisor has answered. A failed call stores
// nothing. A repeated idempotency key returns the stored reply.
func (s *Service) Relay(ctx context.Context, userID string, req RelayRequest) (*RelayResponse, error) {
	content := strings.TrimSpace(req.Message)
	fields := map[string]string{}
	if req.ChatID == "" {
		fields["chatId"] = "This field is required"
	}
	switch n := utf8.RuneCountInString(content); {
	case n == 0:
		fields["message"] = "This field is required"
	case n > s.opts.MaxMessageLength:
		fields["message"] = fmt.Sprintf("Must be less than %d characters", s.opts.MaxMessageLength)
	}
	if len(fields) > 0 {
		return nil, resilience.NewValidationError("Invalid chat message", fields)
	}

	if _, err := s.store.GetChat(ctx, userID, req.ChatID); err != nil {
		return nil, chatError(err, "Failed to send message")
	}

	if req.IdempotencyKey != "" {
		reply, err := s.store.FindByIdempotencyKey(ctx, userID, req.ChatID, req.IdempotencyKey)
		switch {
		case err == nil:
			s.logger.Info("Replaying stored reply",
				zap.String("chat_id", req.ChatID),
				zap.String("message_id", reply.ID))
			return &RelayResponse{
				Message:   reply.Content,
				ChatID:    req.ChatID,
				MessageID: reply.ID,
				Model:     reply.Model,
				Replayed:  true,
			}, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, resilience.NewInternalError("Failed to send message", err)
		}
	}

	if req.SystemPrompt {
		content = persona.FrameAnalysis(content)
	}

	history, err := s.store.RecentMessages(ctx, req.ChatID, s.opts.HistoryLimit)
	if err != nil {
		return nil, resilience.NewInternalError("Failed to load chat history", err)
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, llm.Message{
			Role:    m.Role,
			Content: persona.TruncateToTokenLimit(m.Content, s.opts.HistoryMessageTokens),
		})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: content})

	sentAt := s.now()
	completion, err := s.llm.Complete(ctx, llm.CompletionRequest{
		System:   s.opts.SystemPrompt,
		Messages: messages,
	})
	if err != nil {
		return nil, llm.ServiceError(err)
	}

	prompt := &store.Message{
		ChatID:         req.ChatID,
		UserID:         userID,
		Role:           store.RoleUser,
		Content:        content,
		Hidden:         req.HidePrompt,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      sentAt,
	}
	reply := &store.Message{
		ChatID:         req.ChatID,
		UserID:         userID,
		Role:           store.RoleAssistant,
		Content:        completion.Content,
		Model:          completion.Model,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now(),
	}
	if err := s.store.AppendExchange(ctx, prompt, reply); err != nil {
		return nil, resilience.NewInternalError("Failed to save messages", err)
	}

	s.logger.Info("Relayed chat message",
		zap.String("chat_id", req.ChatID),
		zap.String("user_id", userID),
		zap.Int("history", len(history)),
		zap.Bool("hidden", req.HidePrompt),
		zap.Int("total_tokens", completion.Usage.TotalTokens))

	return &RelayResponse{
		Message:   completion.Content,
		ChatID:    req.ChatID,
		MessageID: reply.ID,
		Model:     completion.Model,
		Usage:     completion.Usage,
	}, nil
}
