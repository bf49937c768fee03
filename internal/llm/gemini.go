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
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// ProviderGemini names the Google Gemini provider
const ProviderGemini = "gemini"

// GeminiProvider talks to the Gemini API through the GenAI SDK
type GeminiProvider struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

// NewGeminiProvider creates a Gemini provider. An empty baseURL uses the
// public Gemini API endpoint.
func NewGeminiProvider(ctx context.Context, apiKey, baseURL, model string, logger *zap.Logger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	logger.Info("Gemini provider initialized", zap.String("model", model))

	return &GeminiProvider{client: client, logger: logger, model: model}, nil
}

// Name implements Provider
func (p *GeminiProvider) Name() string {
	return ProviderGemini
}

// Complete implements Provider
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	p.logger.Debug("Generating content",
		zap.String("model", model),
		zap.Int("message_count", len(contents)))

	result, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, p.handleAPIError(err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}

	completion := &Completion{Content: text, Model: model}
	if len(result.Candidates) > 0 {
		completion.FinishReason = strings.ToLower(string(result.Candidates[0].FinishReason))
	}
	if usage := result.UsageMetadata; usage != nil {
		completion.Usage = Usage{
			PromptTokens:     int(usage.PromptTokenCount),
			CompletionTokens: int(usage.CandidatesTokenCount),
			TotalTokens:      int(usage.TotalTokenCount),
		}
	}
	return completion, nil
}

func (p *GeminiProvider) handleAPIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return newStatusError(ProviderGemini, apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return newStatusError(ProviderGemini, apiErrPtr.Code, apiErrPtr.Message, err)
	}

	return &ProviderError{Provider: ProviderGemini, Message: err.Error(), Retryable: true, Err: err}
}
