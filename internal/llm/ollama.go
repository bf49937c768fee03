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
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JexSrs/go-ollama"
	"go.uber.org/zap"
)

// ProviderOllama names the local Ollama provider
const ProviderOllama = "ollama"

// DefaultOllamaHost is used when no base URL is configured
const DefaultOllamaHost = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server. The generate endpoint takes
// a single prompt, so the history is flattened into a transcript.
type OllamaProvider struct {
	client *ollama.Ollama
	logger *zap.Logger
	model  string
}

// NewOllamaProvider creates an Ollama provider for host
func NewOllamaProvider(host, model string, logger *zap.Logger) (*OllamaProvider, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ollamaURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	logger.Info("Ollama provider initialized",
		zap.String("host", host),
		zap.String("model", model))

	return &OllamaProvider{
		client: ollama.New(*ollamaURL),
		logger: logger,
		model:  model,
	}, nil
}

// Name implements Provider
func (p *OllamaProvider) Name() string {
	return ProviderOllama
}

type ollamaResult struct {
	res *ollama.GenerateResponse
	err error
}

// ollamaStatus matches the status prefix go-ollama puts on HTTP errors
var ollamaStatus = regexp.MustCompile(`^status code: (\d+)`)

// Complete implements Provider. The client library has no context support,
// so the call runs in a goroutine and is abandoned when ctx ends.
func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	prompt := FlattenHistory(req.Messages)

	p.logger.Debug("Sending generate request",
		zap.String("model", model),
		zap.String("prompt_preview", truncateText(prompt, 100)))

	done := make(chan ollamaResult, 1)
	go func() {
		res, err := p.client.Generate(
			p.client.Generate.WithModel(model),
			p.client.Generate.WithSystem(req.System),
			p.client.Generate.WithPrompt(prompt),
		)
		if err != nil {
			done <- ollamaResult{err: err}
			return
		}
		done <- ollamaResult{res: res}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, ollamaError(r.err)
		}
		if !r.res.Done {
			return nil, &ProviderError{Provider: ProviderOllama, Message: "generation did not complete"}
		}
		text := strings.TrimSpace(r.res.Response)
		if text == "" {
			return nil, ErrEmptyResponse
		}

		finish := r.res.DoneReason
		if finish == "" {
			finish = "stop"
		}
		return &Completion{
			Content:      text,
			FinishReason: finish,
			Model:        model,
			Usage: Usage{
				PromptTokens:     r.res.PromptEvalCount,
				CompletionTokens: r.res.EvalCount,
				TotalTokens:      r.res.PromptEvalCount + r.res.EvalCount,
			},
		}, nil
	}
}

// ollamaError classifies a client error by the HTTP status it reports.
// Transport failures without a status are retryable.
func ollamaError(err error) *ProviderError {
	if m := ollamaStatus.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		return newStatusError(ProviderOllama, status, err.Error(), err)
	}
	return &ProviderError{Provider: ProviderOllama, Message: err.Error(), Retryable: true, Err: err}
}

// FlattenHistory renders the conversation as a transcript that ends with an
// open assistant turn.
func FlattenHistory(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		speaker := "User"
		if m.Role == RoleAssistant {
			speaker = "Assistant"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
