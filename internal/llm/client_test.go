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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/config"
	"github.com/your-org/str-analyzer/internal/resilience"
)

// scriptedProvider returns the queued errors before succeeding
type scriptedProvider struct {
	mu       sync.Mutex
	errs     []error
	requests []CompletionRequest
	delay    time.Duration
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return &Completion{Content: "ok", Usage: Usage{TotalTokens: 3}}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func fastBackoff(retries int) resilience.BackoffConfig {
	return resilience.BackoffConfig{
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		MaxRetries: retries,
		Multiplier: 2,
	}
}

func unavailable() error {
	return newStatusError("scripted", http.StatusServiceUnavailable, "overloaded", nil)
}

func TestClientAppliesDefaults(t *testing.T) {
	provider := &scriptedProvider{}
	client := NewClient(provider, Options{Model: "m1", MaxTokens: 64, Temperature: 0.4}, zap.NewNop())

	completion, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", completion.Model)

	require.Len(t, provider.requests, 1)
	assert.Equal(t, "m1", provider.requests[0].Model)
	assert.Equal(t, 64, provider.requests[0].MaxTokens)
	assert.InDelta(t, 0.4, provider.requests[0].Temperature, 0.0001)
	assert.Equal(t, "scripted", client.Name())
	assert.Equal(t, "m1", client.Model())
}

func TestClientRetriesThenGivesUp(t *testing.T) {
	provider := &scriptedProvider{errs: []error{unavailable(), unavailable(), unavailable()}}
	client := NewClient(provider, Options{Backoff: fastBackoff(2)}, zap.NewNop())

	_, err := client.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 3, provider.calls())
	assert.Equal(t, http.StatusBadGateway, ServiceError(err).StatusCode)
}

func TestClientCircuitOpensAfterRepeatedFailures(t *testing.T) {
	provider := &scriptedProvider{errs: []error{unavailable(), unavailable(), unavailable()}}
	breaker := resilience.DefaultCircuitBreakerConfig("scripted")
	breaker.MaxFailures = 2
	client := NewClient(provider, Options{Backoff: fastBackoff(0), Breaker: breaker}, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := client.Complete(context.Background(), CompletionRequest{})
		require.Error(t, err)
	}

	_, err := client.Complete(context.Background(), CompletionRequest{})
	require.ErrorIs(t, err, resilience.ErrCircuitBreakerOpen)
	assert.Equal(t, 2, provider.calls())
	assert.Equal(t, http.StatusServiceUnavailable, ServiceError(err).StatusCode)
	assert.Equal(t, "open", client.BreakerStats().State)
}

func TestClientRejectedRequestsDoNotOpenCircuit(t *testing.T) {
	badRequest := newStatusError("scripted", http.StatusBadRequest, "context too long", nil)
	provider := &scriptedProvider{}
	for i := 0; i < 6; i++ {
		provider.errs = append(provider.errs, badRequest)
	}
	client := NewClient(provider, Options{Backoff: fastBackoff(0)}, zap.NewNop())

	for i := 0; i < 6; i++ {
		_, err := client.Complete(context.Background(), CompletionRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, "closed", client.BreakerStats().State)
}

func TestClientTimeout(t *testing.T) {
	provider := &scriptedProvider{delay: time.Second}
	client := NewClient(provider, Options{Timeout: 20 * time.Millisecond, Backoff: fastBackoff(2)}, zap.NewNop())

	_, err := client.Complete(context.Background(), CompletionRequest{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, provider.calls())
	assert.Equal(t, http.StatusGatewayTimeout, ServiceError(err).StatusCode)
}

func TestClientCancelledByCaller(t *testing.T) {
	provider := &scriptedProvider{delay: time.Second}
	client := NewClient(provider, Options{Backoff: fastBackoff(2)}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := client.Complete(ctx, CompletionRequest{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, provider.calls())

	serr := ServiceError(err)
	assert.Equal(t, 499, serr.StatusCode)
	assert.Equal(t, resilience.ErrorCodeBadRequest, serr.Code)
	assert.NotEqual(t, http.StatusBadGateway, ServiceError(fmt.Errorf("relay: %w", context.Canceled)).StatusCode)
	assert.Equal(t, "closed", client.BreakerStats().State)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsRetryable(unavailable()))
	assert.True(t, IsRetryable(newStatusError("x", http.StatusTooManyRequests, "slow down", nil)))
	assert.False(t, IsRetryable(newStatusError("x", http.StatusUnauthorized, "bad key", nil)))
}

func TestNewSelectsProvider(t *testing.T) {
	ctx := context.Background()

	client, err := New(ctx, config.LLMConfig{Provider: "openai", APIKey: "sk-test", Model: "gpt-4o", MaxRetries: 1}, nil) // pragma: allowlist secret
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, client.Name())

	client, err = New(ctx, config.LLMConfig{Provider: "ollama", Model: "gpt-4o", BaseURL: defaultOpenAIURL}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, client.Name())
	assert.Equal(t, defaultOllamaModel, client.Model())

	_, err = New(ctx, config.LLMConfig{Provider: "openai"}, nil)
	assert.Error(t, err)

	_, err = New(ctx, config.LLMConfig{Provider: "claude"}, nil)
	assert.Error(t, err)
}

func TestFlattenHistory(t *testing.T) {
	prompt := FlattenHistory([]Message{
		{Role: RoleUser, Content: "Is this a good deal?"},
		{Role: RoleAssistant, Content: "Which city? "},
		{Role: RoleUser, Content: "Porto"},
	})

	assert.Equal(t, "User: Is this a good deal?\n\nAssistant: Which city?\n\nUser: Porto\n\nAssistant:", prompt)
	assert.Equal(t, "Assistant:", FlattenHistory(nil))
}
