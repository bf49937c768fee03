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

// Package api exposes the analyzer over HTTP
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/analysis"
	"github.com/your-org/str-analyzer/internal/auth"
	"github.com/your-org/str-analyzer/internal/chat"
	"github.com/your-org/str-analyzer/internal/config"
	"github.com/your-org/str-analyzer/internal/export"
	"github.com/your-org/str-analyzer/internal/health"
	"github.com/your-org/str-analyzer/internal/ratelimit"
	"github.com/your-org/str-analyzer/internal/resilience"
)

// ServiceName identifies the API in logs, traces and health reports
const ServiceName = "str-analyzer"

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Dependencies holds the services the handlers use
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Auth     *auth.Service
	Chats    *chat.Service
	Analyses *analysis.Service
	Limiter  *ratelimit.Limiter
	Health   *health.Manager
	Errors   *resilience.ErrorHandler
	// Export controls PDF rendering
	Export export.Options
}

// NewRouter builds the gin engine with every route
func NewRouter(deps *Dependencies) *gin.Engine {
	if deps.Errors == nil {
		deps.Errors = resilience.NewErrorHandler(deps.Logger)
	}

	router := gin.New()
	router.Use(
		requestIDMiddleware(),
		requestLogger(deps.Logger),
		recoveryMiddleware(deps),
		otelgin.Middleware(ServiceName),
		bodyLimit(maxBodyBytes),
	)
	// cors rejects an empty origin list
	if origins := deps.Config.Server.CORSOrigins; len(origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "Idempotency-Key", requestIDHeader},
			ExposeHeaders:    []string{"Content-Disposition", requestIDHeader, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.NoRoute(func(c *gin.Context) {
		writeError(c, deps, resilience.NewNotFoundError("Route not found", nil))
	})

	if deps.Health != nil {
		router.GET("/health", gin.WrapH(deps.Health.HTTPHandler()))
	}

	api := router.Group("/api")
	api.POST("/register", createRegisterHandler(deps))
	api.POST("/login", createLoginHandler(deps))
	api.POST("/calculate", createCalculateHandler(deps))

	protected := api.Group("")
	protected.Use(requireAuth(deps))
	protected.POST("/logout", createLogoutHandler(deps))
	protected.POST("/logout-all", createLogoutAllHandler(deps))
	protected.GET("/sessions", createListSessionsHandler(deps))
	protected.GET("/me", createMeHandler(deps))

	protected.GET("/chats", createListChatsHandler(deps))
	protected.POST("/chats", createCreateChatHandler(deps))
	protected.PATCH("/chats/:id", createRenameChatHandler(deps))
	protected.DELETE("/chats/:id", createDeleteChatHandler(deps))
	protected.GET("/chats/:id/export", createExportChatHandler(deps))
	protected.GET("/messages", createMessagesHandler(deps))

	protected.GET("/analysis/:chatId", createGetAnalysisHandler(deps))
	protected.POST("/analysis/:chatId", createSaveAnalysisHandler(deps))
	protected.GET("/analysis/:chatId/export", createExportAnalysisHandler(deps))

	limited := protected.Group("")
	limited.Use(rateLimit(deps))
	limited.POST("/chat", createChatHandler(deps))
	limited.POST("/chats/:id/analyze", createAnalyzeHandler(deps))

	return router
}

// writeError renders err with the shared error shape and stops the chain
func writeError(c *gin.Context, deps *Dependencies, err error) {
	deps.Errors.WriteErrorResponse(c.Writer, err, requestID(c))
	c.Abort()
}

func badRequest(err error) error {
	return resilience.NewBadRequestError("Invalid request body", err)
}

// identity returns the authenticated caller; requireAuth guarantees it is set
func identity(c *gin.Context) auth.Identity {
	id, _ := auth.IdentityFrom(c.Request.Context())
	return id
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
	c.Writer.WriteHeaderNow()
}
