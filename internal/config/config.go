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

// Package config loads the analyzer configuration from YAML files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

// EnvPrefix is the prefix for automatic environment variable overrides
const EnvPrefix = "STR_ANALYZER"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Session   SessionConfig   `mapstructure:"session"`
	Chat      ChatConfig      `mapstructure:"chat"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Prompt    PromptConfig    `mapstructure:"prompt"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// LLMConfig contains the hosted model provider settings
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"apikey"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// DatabaseConfig contains relational database settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// AuthConfig contains token signing settings
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// SessionConfig contains login session storage settings
type SessionConfig struct {
	Storage         string        `mapstructure:"storage"`
	RedisURL        string        `mapstructure:"redis_url"`
	MaxSessions     int           `mapstructure:"max_sessions"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ChatConfig contains chat relay settings
type ChatConfig struct {
	HistoryLimit     int    `mapstructure:"history_limit"`
	MaxMessageLength int    `mapstructure:"max_message_length"`
	AssistantName    string `mapstructure:"assistant_name"`
}

// RateLimitConfig contains per-user limits for LLM-backed endpoints
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// PromptConfig contains persona prompt settings
type PromptConfig struct {
	SystemPromptFile string `mapstructure:"system_prompt_file"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	Environment      string
	ValidateRequired bool
	// AllowMissingFile lets env-only deployments start without a YAML file
	AllowMissingFile bool
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over config file values.
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		Environment:      getEnvironment(),
		ValidateRequired: true,
		AllowMissingFile: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	fileFound, err := setConfigFile(v, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}
	if !fileFound && !opts.AllowMissingFile {
		return nil, fmt.Errorf("no config file found in default locations (./configs/config.yaml, ./config.yaml)")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)

	if fileFound {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 3)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./str-analyzer.db")

	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("session.storage", "memory")
	v.SetDefault("session.max_sessions", 10000)
	v.SetDefault("session.cleanup_interval", 5*time.Minute)

	v.SetDefault("chat.history_limit", 20)
	v.SetDefault("chat.max_message_length", 8000)
	v.SetDefault("chat.assistant_name", "Advisor")

	v.SetDefault("ratelimit.requests_per_minute", 20)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// setConfigFile sets the configuration file path with fallback logic.
// It reports whether a config file will be read.
func setConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return false, fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return true, nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return false, fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return true, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	for _, path := range []string{"./configs/config.yaml", "./config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return true, nil
		}
	}

	return false, nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"OPENAI_API_KEY":  "llm.apikey",
		"LLM_API_KEY":     "llm.apikey",
		"LLM_PROVIDER":    "llm.provider",
		"LLM_BASE_URL":    "llm.base_url",
		"LLM_MODEL":       "llm.model",
		"DATABASE_DRIVER": "database.driver",
		"DATABASE_URL":    "database.dsn",
		"JWT_SECRET":      "auth.jwt_secret",
		"REDIS_URL":       "session.redis_url",
		"PORT":            "server.port",
		"LOG_LEVEL":       "logging.level",
		"LOG_FORMAT":      "logging.format",
		"LOG_OUTPUT":      "logging.output",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// validateConfig validates the configuration for required fields and valid values
func validateConfig(config *Config) error {
	var errs []ValidationError

	validProviders := []string{"openai", "gemini", "ollama"}
	if !contains(validProviders, config.LLM.Provider) {
		errs = append(errs, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("provider must be one of: %s", strings.Join(validProviders, ", ")),
		})
	}

	// Ollama runs locally and has no key
	if config.LLM.APIKey == "" && config.LLM.Provider != "ollama" {
		errs = append(errs, ValidationError{
			Field:   "llm.apikey",
			Message: "LLM API key is required. Set via config file or OPENAI_API_KEY environment variable",
		})
	}

	if config.LLM.MaxTokens <= 0 {
		errs = append(errs, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be greater than 0",
		})
	}

	if config.LLM.Temperature < 0 || config.LLM.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if config.LLM.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "llm.max_retries",
			Message: "max_retries must be greater than or equal to 0",
		})
	}

	validDrivers := []string{"sqlite", "postgres"}
	if !contains(validDrivers, config.Database.Driver) {
		errs = append(errs, ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("driver must be one of: %s", strings.Join(validDrivers, ", ")),
		})
	}

	if config.Database.DSN == "" {
		errs = append(errs, ValidationError{
			Field:   "database.dsn",
			Message: "database DSN is required. Set via config file or DATABASE_URL environment variable",
		})
	}

	if len(config.Auth.JWTSecret) < 32 {
		errs = append(errs, ValidationError{
			Field:   "auth.jwt_secret",
			Message: "JWT secret must be at least 32 characters. Set via config file or JWT_SECRET environment variable",
		})
	}

	if config.Auth.TokenTTL <= 0 {
		errs = append(errs, ValidationError{
			Field:   "auth.token_ttl",
			Message: "token_ttl must be greater than 0",
		})
	}

	validStorage := []string{"memory", "redis"}
	if !contains(validStorage, config.Session.Storage) {
		errs = append(errs, ValidationError{
			Field:   "session.storage",
			Message: fmt.Sprintf("storage must be one of: %s", strings.Join(validStorage, ", ")),
		})
	}

	if config.Session.Storage == "redis" && config.Session.RedisURL == "" {
		errs = append(errs, ValidationError{
			Field:   "session.redis_url",
			Message: "redis_url is required when session storage is redis",
		})
	}

	if config.Chat.HistoryLimit <= 0 {
		errs = append(errs, ValidationError{
			Field:   "chat.history_limit",
			Message: "history_limit must be greater than 0",
		})
	}

	if config.Chat.MaxMessageLength <= 0 {
		errs = append(errs, ValidationError{
			Field:   "chat.max_message_length",
			Message: "max_message_length must be greater than 0",
		})
	}

	if config.RateLimit.RequestsPerMinute <= 0 || config.RateLimit.Burst <= 0 {
		errs = append(errs, ValidationError{
			Field:   "ratelimit",
			Message: "requests_per_minute and burst must be greater than 0",
		})
	}

	if config.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp"}
		if !contains(validExporters, config.Tracing.Exporter) {
			errs = append(errs, ValidationError{
				Field:   "tracing.exporter",
				Message: fmt.Sprintf("exporter must be one of: %s", strings.Join(validExporters, ", ")),
			})
		}
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	if len(errs) > 0 {
		var errorMessages []string
		for _, err := range errs {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(errorMessages, "\n"))
	}

	return nil
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = maskValue(masked.LLM.APIKey)
	}
	if masked.Auth.JWTSecret != "" {
		masked.Auth.JWTSecret = maskValue(masked.Auth.JWTSecret)
	}
	if masked.Database.DSN != "" && masked.Database.Driver == "postgres" {
		masked.Database.DSN = maskValue(masked.Database.DSN)
	}
	if masked.Session.RedisURL != "" {
		masked.Session.RedisURL = maskValue(masked.Session.RedisURL)
	}

	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

// contains checks if a slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// getEnvironment returns the current environment (development, production, etc.)
func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "development"
}

// WatchConfig reloads the configuration whenever the file changes and hands
// the new value to callback. Invalid edits are reported through onError and
// otherwise ignored.
func WatchConfig(configPath string, callback func(*Config), onError func(error)) error {
	v := viper.New()

	found, err := setConfigFile(v, configPath)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no config file to watch", ErrMissingRequiredField)
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       v.ConfigFileUsed(),
			Environment:      getEnvironment(),
			ValidateRequired: true,
		})
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		callback(config)
	})
	v.WatchConfig()

	return nil
}
