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

// Package persona holds the advisor system prompt and the helpers that frame
// user turns for it.
package persona

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/your-org/str-analyzer/internal/calculator"
)

//go:embed system_prompt.md
var defaultSystemPrompt string

const (
	minPromptLength  = 50
	truncationNotice = "...\n\n[Truncated due to length limits]"
)

// AnalysisPrefix opens every analysis request turn
const AnalysisPrefix = "Please analyze this property. The calculated figures are below as JSON."

// Default returns the compiled-in system prompt
func Default() string {
	return strings.TrimSpace(defaultSystemPrompt)
}

// Load returns the system prompt stored at path, or the default prompt when
// path is empty.
func Load(path string) (string, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt file: %w", err)
	}

	prompt := strings.TrimSpace(string(data))
	if err := Validate(prompt); err != nil {
		return "", fmt.Errorf("system prompt file %s: %w", path, err)
	}
	return prompt, nil
}

// Validate checks that a system prompt is usable
func Validate(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt cannot be empty")
	}
	if utf8.RuneCountInString(prompt) < minPromptLength {
		return fmt.Errorf("prompt appears to be too short (< %d characters)", minPromptLength)
	}
	return nil
}

// AnalysisRequest frames a calculation as the hidden user turn sent when an
// analysis is run.
func AnalysisRequest(calc calculator.Calculation) (string, error) {
	body, err := json.MarshalIndent(calc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode calculation: %w", err)
	}
	return AnalysisPrefix + "\n\n" + string(body), nil
}

// FrameAnalysis wraps a client supplied message as an analysis request. A
// message that already carries the framing is returned unchanged.
func FrameAnalysis(message string) string {
	if strings.HasPrefix(message, AnalysisPrefix) {
		return message
	}
	return AnalysisPrefix + "\n\n" + message
}

// EstimateTokens approximates the token count of text at four runes per token
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// TruncateToTokenLimit cuts text so it fits within maxTokens
func TruncateToTokenLimit(text string, maxTokens int) string {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text
	}

	// Keep 90% of the budget to leave room for the notice
	targetChars := int(float64(maxTokens) * 4 * 0.9)
	runes := []rune(text)
	if len(runes) > targetChars {
		return string(runes[:targetChars]) + truncationNotice
	}
	return text
}
