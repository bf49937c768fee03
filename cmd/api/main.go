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

// Package main runs the short-term rental analyzer API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/str-analyzer/internal/analysis"
	"github.com/your-org/str-analyzer/internal/api"
	"github.com/your-org/str-analyzer/internal/auth"
	"github.com/your-org/str-analyzer/internal/chat"
	"github.com/your-org/str-analyzer/internal/config"
	"github.com/your-org/str-analyzer/internal/export"
	"github.com/your-org/str-analyzer/internal/health"
	"github.com/your-org/str-analyzer/internal/llm"
	"github.com/your-org/str-analyzer/internal/logging"
	"github.com/your-org/str-analyzer/internal/persona"
	"github.com/your-org/str-analyzer/internal/ratelimit"
	"github.com/your-org/str-analyzer/internal/resilience"
	"github.com/your-org/str-analyzer/internal/session"
	"github.com/your-org/str-analyzer/internal/store"
	"github.com/your-org/str-analyzer/internal/tracing"
)

const (
	// Version is reported by the health endpoint and traces
	Version = "1.0.0"
	// HealthCheckTimeout bounds each dependency check
	HealthCheckTimeout = 5 * time.Second
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout = 15 * time.Second
)

// ServiceDependencies holds initialized service dependencies
type ServiceDependencies struct {
	Store    *store.Store
	Sessions *session.Manager
	LLM      *llm.Client
	Prompt   string
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, level, err := logging.New(cfg.Logging, api.ServiceName)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, configPath, logger, level); err != nil {
		logger.Fatal("Service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded successfully",
		zap.Int("port", masked.Server.Port),
		zap.String("llm_provider", masked.LLM.Provider),
		zap.String("llm_model", masked.LLM.Model),
		zap.String("llm_api_key", masked.LLM.APIKey),
		zap.String("database_driver", masked.Database.Driver),
		zap.String("database_dsn", masked.Database.DSN),
		zap.String("session_storage", masked.Session.Storage),
		zap.String("jwt_secret", masked.Auth.JWTSecret),
		zap.Bool("tracing_enabled", masked.Tracing.Enabled),
	)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, api.ServiceName, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	deps, err := initializeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	healthManager := health.NewManager(api.ServiceName, Version, logger)
	healthManager.SetTimeout(HealthCheckTimeout)
	setupHealthChecks(healthManager, deps)

	chats := chat.NewService(deps.Store, deps.LLM, chat.Options{
		SystemPrompt:     deps.Prompt,
		HistoryLimit:     cfg.Chat.HistoryLimit,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
	}, logger)

	router := api.NewRouter(&api.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Auth:     auth.NewService(deps.Store, deps.Sessions, cfg.Auth.JWTSecret, logger),
		Chats:    chats,
		Analyses: analysis.NewService(deps.Store, chats, logger),
		Limiter:  ratelimit.New(cfg.RateLimit),
		Health:   healthManager,
		Errors:   resilience.NewErrorHandler(logger),
		Export:   export.Options{AssistantName: cfg.Chat.AssistantName},
	})

	if err := config.WatchConfig(configPath, func(updated *config.Config) {
		level.SetLevel(logging.ParseLevel(updated.Logging.Level))
		logger.Info("Configuration reloaded", zap.String("log_level", updated.Logging.Level))
	}, func(err error) {
		logger.Warn("Ignoring invalid configuration change", zap.Error(err))
	}); err != nil {
		logger.Info("Configuration hot reload disabled", zap.Error(err))
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting API server",
			zap.String("addr", server.Addr),
			zap.String("llm_provider", deps.LLM.Name()),
			zap.String("llm_model", deps.LLM.Model()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// initializeDependencies opens the database, session storage and model client
func initializeDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ServiceDependencies, error) {
	logger.Info("Initializing service dependencies")

	prompt, err := persona.Load(cfg.Prompt.SystemPromptFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load system prompt: %w", err)
	}

	db, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	sessions, err := session.NewManager(session.ConfigFrom(cfg.Session, cfg.Auth.TokenTTL), logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize sessions: %w", err)
	}

	client, err := llm.New(ctx, cfg.LLM, logger)
	if err != nil {
		_ = sessions.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	return &ServiceDependencies{Store: db, Sessions: sessions, LLM: client, Prompt: prompt}, nil
}

func (d *ServiceDependencies) close(logger *zap.Logger) {
	if err := d.Sessions.Close(); err != nil {
		logger.Warn("Failed to close session storage", zap.Error(err))
	}
	if err := d.Store.Close(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}
}

// setupHealthChecks registers the dependency checks served on /health
func setupHealthChecks(manager *health.Manager, deps *ServiceDependencies) {
	manager.AddChecker("database", health.PingChecker("database", deps.Store.Ping))
	manager.AddCheckerFunc("sessions", health.StatsCheck("sessions", deps.Sessions.Ping, deps.Sessions.GetStats))
	manager.AddChecker("llm", health.BreakerChecker(deps.LLM.Name(), deps.LLM.BreakerStats))
}
