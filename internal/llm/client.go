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
	"time"

	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/config"
	"github.com/your-org/str-analyzer/internal/resilience"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	defaultOllamaModel = "llama3.1"
	defaultOpenAIURL   = "https://api.openai.com/v1"
)

// Options tune a Client
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Backoff     resilience.BackoffConfig
	Breaker     resilience.CircuitBreakerConfig
}

// Client wraps a Provider with request defaults, a per-call timeout,
// retries and a circuit breaker. It implements Provider itself.
type Client struct {
	provider Provider
	opts     Options
	breaker  *resilience.CircuitBreaker
	logger   *zap.Logger
}

// NewClient wraps provider
func NewClient(provider Provider, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Backoff.RetryOnFunc == nil {
		opts.Backoff.RetryOnFunc = IsRetryable
	}
	if opts.Breaker.Name == "" {
		opts.Breaker = resilience.DefaultCircuitBreakerConfig(provider.Name())
		opts.Breaker.IsFailureFunc = countsAgainstCircuit
	}
	if opts.Breaker.IsFailureFunc == nil {
		opts.Breaker.IsFailureFunc = countsAgainstCircuit
	}

	return &Client{
		provider: provider,
		opts:     opts,
		breaker:  resilience.NewCircuitBreaker(opts.Breaker, logger),
		logger:   logger,
	}
}

// New builds the configured provider and wraps it
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		provider Provider
		err      error
		model    = cfg.Model
	)

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		provider, err = NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, model, logger)
	case ProviderGemini:
		if model == "" || strings.HasPrefix(model, "gpt-") {
			model = defaultGeminiModel
		}
		baseURL := cfg.BaseURL
		if baseURL == defaultOpenAIURL {
			baseURL = ""
		}
		provider, err = NewGeminiProvider(ctx, cfg.APIKey, baseURL, model, logger)
	case ProviderOllama:
		if model == "" || strings.HasPrefix(model, "gpt-") {
			model = defaultOllamaModel
		}
		host := cfg.BaseURL
		if host == defaultOpenAIURL {
			host = ""
		}
		provider, err = NewOllamaProvider(host, model, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Provider, err)
	}

	backoff := resilience.DefaultBackoffConfig()
	backoff.MaxRetries = cfg.MaxRetries
	backoff.RetryOnFunc = IsRetryable

	return NewClient(provider, Options{
		Model:       model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
		Backoff:     backoff,
	}, logger), nil
}

// Name implements Provider
func (c *Client) Name() string {
	return c.provider.Name()
}

// Model returns the default model name
func (c *Client) Model() string {
	return c.opts.Model
}

// Complete implements Provider
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if req.Model == "" {
		req.Model = c.opts.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.opts.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.opts.Temperature
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	var completion *Completion
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.WithExponentialBackoff(ctx, c.logger, c.opts.Backoff, func(ctx context.Context) error {
			res, err := c.provider.Complete(ctx, req)
			if err != nil {
				return err
			}
			completion = res
			return nil
		})
	})
	if errors.Is(err, context.Canceled) {
		c.logger.Debug("Completion cancelled",
			zap.String("provider", c.provider.Name()),
			zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}
	if err != nil {
		c.logger.Warn("Completion failed",
			zap.String("provider", c.provider.Name()),
			zap.String("model", req.Model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	if completion.Model == "" {
		completion.Model = req.Model
	}

	c.logger.Info("Completion received",
		zap.String("provider", c.provider.Name()),
		zap.String("model", completion.Model),
		zap.Int("total_tokens", completion.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))

	return completion, nil
}

// statusClientClosedRequest is the non-standard status for a caller that went away
const statusClientClosedRequest = 499

// ServiceError maps a completion failure onto the API error taxonomy
func ServiceError(err error) *resilience.ServiceError {
	switch {
	case errors.Is(err, resilience.ErrCircuitBreakerOpen):
		return resilience.NewServiceUnavailableError("The AI advisor is temporarily unavailable. Please try again in a few minutes.", err)
	case errors.Is(err, context.DeadlineExceeded):
		return resilience.NewTimeoutError("The AI advisor took too long to respond. Please try again.", err)
	case errors.Is(err, context.Canceled):
		return resilience.NewServiceError("The request was cancelled.", resilience.ErrorCodeBadRequest, statusClientClosedRequest, err)
	default:
		return resilience.NewDependencyFailureError("Failed to get a response from the AI advisor", err)
	}
}

// BreakerStats exposes the circuit breaker for health reporting
func (c *Client) BreakerStats() resilience.CircuitBreakerStats {
	return c.breaker.GetStats()
}
