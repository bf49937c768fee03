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

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/resilience"
)

func TestManager_Check(t *testing.T) {
	manager := NewManager("str-analyzer", "1.0.0", zap.NewNop())

	manager.AddCheckerFunc("database", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	manager.AddCheckerFunc("sessions", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy, Error: "redis is down"}
	})

	result := manager.Check(context.Background())

	if result.Status != StatusUnhealthy {
		t.Errorf("Expected status to be unhealthy, got %s", result.Status)
	}
	if result.Service != "str-analyzer" || result.Version != "1.0.0" {
		t.Errorf("Unexpected service identity %s %s", result.Service, result.Version)
	}
	if len(result.Dependencies) != 2 {
		t.Fatalf("Expected 2 dependencies, got %d", len(result.Dependencies))
	}
	if got := result.Dependencies["sessions"].Error; got != "redis is down" {
		t.Errorf("Expected error message, got %s", got)
	}
	if result.Dependencies["database"].Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestManager_Check_Degraded(t *testing.T) {
	manager := NewManager("str-analyzer", "1.0.0", nil)
	manager.AddCheckerFunc("database", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	manager.AddCheckerFunc("llm", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusDegraded}
	})

	if result := manager.Check(context.Background()); result.Status != StatusDegraded {
		t.Errorf("Expected status to be degraded, got %s", result.Status)
	}
}

func TestManager_Check_RunsConcurrentlyWithinTimeout(t *testing.T) {
	manager := NewManager("str-analyzer", "1.0.0", nil)
	manager.SetTimeout(50 * time.Millisecond)

	slow := func(ctx context.Context) CheckResult {
		select {
		case <-ctx.Done():
			return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
		case <-time.After(time.Second):
			return CheckResult{Status: StatusHealthy}
		}
	}
	manager.AddCheckerFunc("a", slow)
	manager.AddCheckerFunc("b", slow)

	start := time.Now()
	result := manager.Check(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Checks took %v, expected them to stop at the timeout", elapsed)
	}
	if result.Status != StatusUnhealthy {
		t.Errorf("Expected status to be unhealthy, got %s", result.Status)
	}
}

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		status     string
		wantStatus int
	}{
		{"healthy", http.MethodGet, StatusHealthy, http.StatusOK},
		{"degraded", http.MethodGet, StatusDegraded, http.StatusOK},
		{"unhealthy", http.MethodGet, StatusUnhealthy, http.StatusServiceUnavailable},
		{"wrong method", http.MethodPost, StatusHealthy, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager("str-analyzer", "1.0.0", nil)
			manager.AddCheckerFunc("dep", func(ctx context.Context) CheckResult {
				return CheckResult{Status: tt.status}
			})

			rec := httptest.NewRecorder()
			manager.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(tt.method, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected HTTP %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.method != http.MethodGet {
				return
			}
			var body HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if body.Status != tt.status {
				t.Errorf("Expected status %s, got %s", tt.status, body.Status)
			}
		})
	}
}

func TestPingChecker(t *testing.T) {
	ok := PingChecker("sqlite", func(context.Context) error { return nil }).Check(context.Background())
	if ok.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", ok.Status)
	}

	failed := PingChecker("redis", func(context.Context) error { return errors.New("connection refused") }).Check(context.Background())
	if failed.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", failed.Status)
	}
	if failed.Error != "redis ping failed: connection refused" {
		t.Errorf("Unexpected error %q", failed.Error)
	}
}

func TestBreakerChecker(t *testing.T) {
	state := resilience.CircuitClosed.String()
	checker := BreakerChecker("openai", func() resilience.CircuitBreakerStats {
		return resilience.CircuitBreakerStats{Name: "llm", State: state, Failures: 2}
	})

	if result := checker.Check(context.Background()); result.Status != StatusHealthy {
		t.Errorf("Expected healthy while closed, got %s", result.Status)
	}

	state = resilience.CircuitOpen.String()
	result := checker.Check(context.Background())
	if result.Status != StatusDegraded {
		t.Errorf("Expected degraded while open, got %s", result.Status)
	}
	if result.Metadata["circuit_state"] != "open" {
		t.Errorf("Expected circuit state in metadata, got %v", result.Metadata["circuit_state"])
	}
}

func TestStatsCheck(t *testing.T) {
	stats := func() map[string]interface{} {
		return map[string]interface{}{"storage_type": "memory", "active_sessions": 3}
	}

	manager := NewManager("str-analyzer", "1.0.0", nil)
	manager.AddCheckerFunc("sessions", StatsCheck("sessions", func(context.Context) error { return nil }, stats))
	result := manager.Check(context.Background()).Dependencies["sessions"]

	if result.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", result.Status)
	}
	if result.Metadata["kind"] != "sessions" || result.Metadata["active_sessions"] != 3 {
		t.Errorf("Unexpected metadata %v", result.Metadata)
	}

	failing := StatsCheck("sessions", func(context.Context) error { return errors.New("redis is down") }, stats)
	result = failing(context.Background())
	if result.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", result.Status)
	}
	if result.Metadata["storage_type"] != "memory" {
		t.Errorf("Expected stats on a failed check, got %v", result.Metadata)
	}
}
