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

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/str-analyzer/internal/config"
)

func newTestLimiter(rpm, burst int) (*Limiter, *time.Time) {
	l := New(config.RateLimitConfig{RequestsPerMinute: rpm, Burst: burst})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllow_BurstThenWait(t *testing.T) {
	l, now := newTestLimiter(6, 2)

	ok, _ := l.Allow("alice")
	assert.True(t, ok)
	ok, _ = l.Allow("alice")
	assert.True(t, ok)

	ok, wait := l.Allow("alice")
	assert.False(t, ok)
	assert.InDelta(t, float64(10*time.Second), float64(wait), float64(time.Millisecond))

	// other callers have their own bucket
	ok, _ = l.Allow("bob")
	assert.True(t, ok)

	*now = now.Add(10 * time.Second)
	ok, _ = l.Allow("alice")
	assert.True(t, ok)
}

func TestAllow_RejectedCallsDoNotConsumeTokens(t *testing.T) {
	l, now := newTestLimiter(60, 1)

	ok, _ := l.Allow("alice")
	assert.True(t, ok)
	for i := 0; i < 5; i++ {
		ok, _ = l.Allow("alice")
		assert.False(t, ok)
	}

	*now = now.Add(time.Second)
	ok, _ = l.Allow("alice")
	assert.True(t, ok)
}

func TestAllow_Unlimited(t *testing.T) {
	l, _ := newTestLimiter(0, 0)
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("alice")
		assert.True(t, ok)
	}
}

func TestPrunesIdleBuckets(t *testing.T) {
	l, now := newTestLimiter(60, 1)
	l.Allow("alice")
	l.Allow("bob")
	assert.Equal(t, 2, l.Len())

	*now = now.Add(idleTTL + pruneInterval)
	l.Allow("carol")
	assert.Equal(t, 1, l.Len())
}
