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

package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock lets tests move the breaker past its reset timeout
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	config := DefaultCircuitBreakerConfig("llm")
	config.MaxFailures = maxFailures
	config.ResetTimeout = time.Minute
	cb := NewCircuitBreaker(config, zap.NewNop())
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cb.now = clock.Now
	return cb, clock
}

var errUpstream = errors.New("upstream failed")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"}, nil)

	assert.Equal(t, CircuitClosed, cb.GetState())
	stats := cb.GetStats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, "closed", stats.State)
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, CircuitOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called, "open circuit must not call through")
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.Equal(t, 1, cb.GetStats().Failures)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, CircuitOpen, cb.GetState())

	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitBreakerOpen)

	clock.Advance(31 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitBreakerOpen)
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	config := DefaultCircuitBreakerConfig("llm")
	config.MaxFailures = 1
	rejected := errors.New("rejected request")
	config.IsFailureFunc = func(err error) bool { return err != nil && !errors.Is(err, rejected) }
	cb := NewCircuitBreaker(config, zap.NewNop())

	err := cb.Execute(context.Background(), func(context.Context) error { return rejected })
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	changes := make(chan CircuitState, 4)
	config := DefaultCircuitBreakerConfig("llm")
	config.MaxFailures = 1
	config.OnStateChange = func(_, to CircuitState) { changes <- to }
	cb := NewCircuitBreaker(config, zap.NewNop())

	_ = cb.Execute(context.Background(), fail)

	select {
	case state := <-changes:
		assert.Equal(t, CircuitOpen, state)
	case <-time.After(time.Second):
		t.Fatal("state change callback was not called")
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb, _ := newTestBreaker(1)
	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, CircuitOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.Zero(t, cb.GetStats().Failures)
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
