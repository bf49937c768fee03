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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"
)

const mockGeminiResponse = `{
	"candidates": [
		{
			"content": {"role": "model", "parts": [{"text": "Summer demand in Lisbon supports 70% occupancy."}]},
			"finishReason": "STOP"
		}
	],
	"usageMetadata": {"promptTokenCount": 90, "candidatesTokenCount": 11, "totalTokenCount": 101}
}`

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type capturedGeminiRequest struct {
	Path              string
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

// mockGeminiServer answers generateContent with the scripted status codes,
// then with a successful reply.
func mockGeminiServer(t *testing.T, failures []int, captured *capturedGeminiRequest) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		n := atomic.AddInt32(&calls, 1)
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, captured)
			captured.Path = r.URL.Path
		}

		w.Header().Set("Content-Type", "application/json")
		if int(n) <= len(failures) {
			status := failures[n-1]
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"error": {"code": %d, "message": "upstream said no", "status": "UNAVAILABLE"}}`, status)
			return
		}
		_, _ = w.Write([]byte(mockGeminiResponse))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newTestGeminiProvider(t *testing.T, server *httptest.Server) *GeminiProvider {
	t.Helper()
	provider, err := NewGeminiProvider(context.Background(), "test-gemini-key", server.URL, "gemini-2.0-flash", zaptest.NewLogger(t)) // pragma: allowlist secret
	require.NoError(t, err)
	return provider
}

func TestGeminiProviderComplete(t *testing.T) {
	var captured capturedGeminiRequest
	server, _ := mockGeminiServer(t, nil, &captured)
	provider := newTestGeminiProvider(t, server)
	assert.Equal(t, ProviderGemini, provider.Name())

	completion, err := provider.Complete(context.Background(), CompletionRequest{
		System: "You are an analyst.",
		Messages: []Message{
			{Role: RoleUser, Content: "Is 70% occupancy realistic?"},
			{Role: RoleAssistant, Content: "Which city?"},
			{Role: RoleUser, Content: "Lisbon"},
		},
		MaxTokens:   256,
		Temperature: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "Summer demand in Lisbon supports 70% occupancy.", completion.Content)
	assert.Equal(t, "stop", completion.FinishReason)
	assert.Equal(t, "gemini-2.0-flash", completion.Model)
	assert.Equal(t, Usage{PromptTokens: 90, CompletionTokens: 11, TotalTokens: 101}, completion.Usage)

	assert.Contains(t, captured.Path, "gemini-2.0-flash")
	require.Len(t, captured.Contents, 3)
	assert.Equal(t, genai.RoleUser, captured.Contents[0].Role)
	assert.Equal(t, genai.RoleModel, captured.Contents[1].Role)
	assert.Equal(t, "Which city?", captured.Contents[1].Parts[0].Text)
	assert.Equal(t, "Lisbon", captured.Contents[2].Parts[0].Text)

	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "You are an analyst.", captured.SystemInstruction.Parts[0].Text)
	assert.Equal(t, 256, captured.GenerationConfig.MaxOutputTokens)
	assert.InDelta(t, 0.5, captured.GenerationConfig.Temperature, 0.0001)
}

func TestGeminiProviderOmitsEmptySystemInstruction(t *testing.T) {
	var captured capturedGeminiRequest
	server, _ := mockGeminiServer(t, nil, &captured)
	provider := newTestGeminiProvider(t, server)

	_, err := provider.Complete(context.Background(), CompletionRequest{
		Model:    "gemini-1.5-pro",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Nil(t, captured.SystemInstruction)
	assert.Contains(t, captured.Path, "gemini-1.5-pro")
}

func TestNewGeminiProviderRequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), "", "", "gemini-2.0-flash", nil)
	assert.Error(t, err)
}

func TestGeminiProviderErrorHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"forbidden", http.StatusForbidden, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"unavailable", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := mockGeminiServer(t, []int{tt.status}, nil)
			provider := newTestGeminiProvider(t, server)

			_, err := provider.Complete(context.Background(), CompletionRequest{
				Messages: []Message{{Role: RoleUser, Content: "hello"}},
			})
			require.Error(t, err)

			var perr *ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestGeminiClientRetriesTransientFailures(t *testing.T) {
	server, calls := mockGeminiServer(t, []int{http.StatusServiceUnavailable}, nil)
	provider := newTestGeminiProvider(t, server)

	client := NewClient(provider, Options{Backoff: fastBackoff(2)}, zaptest.NewLogger(t))
	completion, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, completion.Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestGeminiHandleAPIError(t *testing.T) {
	provider := &GeminiProvider{}

	var perr *ProviderError
	err := provider.handleAPIError(fmt.Errorf("generate: %w", &genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"}))
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.True(t, perr.Retryable)

	err = provider.handleAPIError(genai.APIError{Code: http.StatusUnauthorized, Message: "bad key"})
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	assert.False(t, perr.Retryable)

	assert.ErrorIs(t, provider.handleAPIError(context.Canceled), context.Canceled)
	assert.False(t, IsRetryable(provider.handleAPIError(context.Canceled)))

	err = provider.handleAPIError(errors.New("connection reset by peer"))
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Retryable)
}
