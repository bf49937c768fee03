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

package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/auth"
	"github.com/your-org/str-analyzer/internal/resilience"
)

const (
	requestIDHeader  = "X-Request-ID"
	requestIDKey     = "request_id"
	maxRequestIDSize = 128
)

// requestIDMiddleware propagates a caller supplied request ID or assigns one
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > maxRequestIDSize {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", requestID(c)),
		}
		if id, ok := auth.IdentityFrom(c.Request.Context()); ok {
			fields = append(fields, zap.String("user_id", id.UserID))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("Request failed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("Request rejected", fields...)
		default:
			logger.Info("Request completed", fields...)
		}
	}
}

// recoveryMiddleware turns panics into 500 responses
func recoveryMiddleware(deps *Dependencies) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		deps.Logger.Error("Recovered from panic",
			zap.Any("panic", recovered),
			zap.String("request_id", requestID(c)))
		writeError(c, deps, resilience.NewInternalError("An unexpected error occurred", nil))
	})
}

func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// requireAuth verifies the bearer token and stores the caller on the request
func requireAuth(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			writeError(c, deps, resilience.NewUnauthorizedError("Authentication required", nil))
			return
		}

		id, err := deps.Auth.Authenticate(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				deps.Logger.Error("Failed to verify session", zap.Error(err))
				writeError(c, deps, resilience.NewServiceUnavailableError("Unable to verify session", err))
				return
			}
			writeError(c, deps, resilience.NewUnauthorizedError("Authentication required", err))
			return
		}

		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// rateLimit applies the per-user token bucket
func rateLimit(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Limiter == nil {
			c.Next()
			return
		}

		allowed, wait := deps.Limiter.Allow(identity(c).UserID)
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(c, deps, resilience.NewTooManyRequestsError("Too many requests. Please slow down.", nil))
			return
		}
		c.Next()
	}
}
