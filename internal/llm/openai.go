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

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ProviderOpenAI names the OpenAI compatible provider
const ProviderOpenAI = "openai"

// OpenAIProvider talks to the OpenAI chat completions API or any gateway
// that speaks the same protocol.
type OpenAIProvider struct {
	client *openai.Client
	logger *zap.Logger
	model  string
}

// NewOpenAIProvider creates an OpenAI provider. An empty baseURL uses the
// public API.
func NewOpenAIProvider(apiKey, baseURL, model string, logger *zap.Logger) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	config.HTTPClient = &http.Client{Transport: retryAfterTransport{base: http.DefaultTransport}}

	logger.Info("OpenAI provider initialized",
		zap.String("model", model),
		zap.String("base_url", config.BaseURL))

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		logger: logger,
		model:  model,
	}, nil
}

// Name implements Provider
func (p *OpenAIProvider) Name() string {
	return ProviderOpenAI
}

// Complete implements Provider
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	p.logger.Debug("Creating chat completion",
		zap.String("model", model),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Float64("temperature", req.Temperature),
		zap.Int("message_count", len(messages)))

	hint := &retryHint{}
	resp, err := p.client.CreateChatCompletion(context.WithValue(ctx, retryHintKey{}, hint), openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, p.handleAPIError(err, hint.delay)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	p.logger.Debug("Chat completion successful",
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return &Completion{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Model:        resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// handleAPIError classifies OpenAI API errors and marks the retryable ones
func (p *OpenAIProvider) handleAPIError(err error, retryAfter time.Duration) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr := newStatusError(ProviderOpenAI, apiErr.HTTPStatusCode, apiErr.Message, err)
		if perr.StatusCode == http.StatusTooManyRequests {
			perr.Delay = retryAfter
		}
		return perr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		perr := newStatusError(ProviderOpenAI, reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode), err)
		if perr.StatusCode == http.StatusTooManyRequests {
			perr.Delay = retryAfter
		}
		return perr
	}

	// Transport failures such as a refused connection are worth a retry
	return &ProviderError{Provider: ProviderOpenAI, Message: err.Error(), Retryable: true, Err: err}
}

type retryHintKey struct{}

// retryHint receives the Retry-After delay of the last response
type retryHint struct {
	delay time.Duration
}

// retryAfterTransport records the Retry-After header into the request's
// retryHint, since the client library drops response headers on errors.
type retryAfterTransport struct {
	base http.RoundTripper
}

func (t retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if hint, ok := req.Context().Value(retryHintKey{}).(*retryHint); ok {
		hint.delay = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return resp, nil
}

// parseRetryAfter reads a Retry-After header in either seconds or HTTP date form
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
