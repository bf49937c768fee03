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

package persona

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/str-analyzer/internal/calculator"
)

func TestDefaultPrompt(t *testing.T) {
	prompt := Default()
	require.NoError(t, Validate(prompt))
	assert.Contains(t, prompt, "Airbnb property analyzer")
	assert.Contains(t, prompt, "Projected margins exceed 40%")
	assert.Contains(t, prompt, "Occupancy assumptions exceed 90%")
	assert.Contains(t, prompt, "1-2 bedrooms average 3-5 night stays")
	assert.Equal(t, prompt, strings.TrimSpace(prompt))
}

func TestLoad(t *testing.T) {
	prompt, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), prompt)

	dir := t.TempDir()
	custom := filepath.Join(dir, "prompt.md")
	text := "You are a cautious rental analyst who always states the assumptions behind every figure."
	require.NoError(t, os.WriteFile(custom, []byte("\n"+text+"\n"), 0o600))

	prompt, err = Load(custom)
	require.NoError(t, err)
	assert.Equal(t, text, prompt)

	short := filepath.Join(dir, "short.md")
	require.NoError(t, os.WriteFile(short, []byte("be nice"), 0o600))
	_, err = Load(short)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}

func TestAnalysisRequest(t *testing.T) {
	calc := calculator.Calculate(calculator.PropertyInput{
		Location: "Lisbon", PropertyType: "Apartment", MonthlyRent: 1200,
		Bedrooms: 1, Bathrooms: 1, NightlyRate: 90, OccupancyRate: 75, CleaningCost: 40,
	})

	msg, err := AnalysisRequest(calc)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(msg, AnalysisPrefix))

	var decoded calculator.Calculation
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(msg, AnalysisPrefix)), &decoded))
	assert.Equal(t, "Lisbon", decoded.Location)
	assert.InDelta(t, calc.Financials.AnnualROI, decoded.Financials.AnnualROI, 0.001)
}

func TestFrameAnalysis(t *testing.T) {
	framed := FrameAnalysis(`{"location":"Porto"}`)
	assert.True(t, strings.HasPrefix(framed, AnalysisPrefix))
	assert.True(t, strings.HasSuffix(framed, `{"location":"Porto"}`))
	assert.Equal(t, framed, FrameAnalysis(framed))
}

func TestTruncateToTokenLimit(t *testing.T) {
	assert.Equal(t, 2, EstimateTokens("12345678"))

	short := "fits easily"
	assert.Equal(t, short, TruncateToTokenLimit(short, 100))
	assert.Equal(t, short, TruncateToTokenLimit(short, 0))

	long := strings.Repeat("x", 1000)
	out := TruncateToTokenLimit(long, 50)
	assert.True(t, strings.HasSuffix(out, truncationNotice))
	assert.Equal(t, 180, len(strings.TrimSuffix(out, truncationNotice)))
}
