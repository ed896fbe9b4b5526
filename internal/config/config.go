// Package config loads gateway configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all gateway configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Addr        string `env:"GW_ADDR" envDefault:":3001"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Version     string `env:"GW_VERSION" envDefault:"dev"`

	// LLM provider
	LLMProvider     string  `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey    string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string  `env:"OPENAI_BASE_URL"`
	AnthropicAPIKey string  `env:"ANTHROPIC_API_KEY"`
	LLMModel        string  `env:"LLM_MODEL"`
	LLMMaxTokens    int     `env:"LLM_MAX_TOKENS" envDefault:"4096"`
	LLMTemperature  float64 `env:"LLM_TEMPERATURE" envDefault:"0.7"`

	// WebSocket
	PingInterval     time.Duration `env:"WS_PING_INTERVAL" envDefault:"27s"`
	MaxConnections   int           `env:"WS_MAX_CONNECTIONS" envDefault:"1000"`
	MessageQueueSize int           `env:"WS_MESSAGE_QUEUE_SIZE" envDefault:"256"`
	CORSOrigin       string        `env:"CORS_ORIGIN"`

	// Conversation
	MaxHistoryLength int           `env:"CONVERSATION_MAX_HISTORY" envDefault:"50"`
	SessionTimeout   time.Duration `env:"SESSION_TIMEOUT" envDefault:"30m"`
	SweepInterval    time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m"`

	// Tools
	ToolsEnabled   string        `env:"TOOLS_ENABLED"` // comma list; empty means all
	ToolsRateLimit int           `env:"TOOLS_RATE_LIMIT" envDefault:"30"`
	APITimeout     time.Duration `env:"API_TIMEOUT" envDefault:"10s"`

	// Price feed
	NATSURL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (when present) and the
// environment. Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
	"test":        true,
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("GW_ADDR is required")
	}
	if !validEnvironments[c.Environment] {
		return fmt.Errorf("ENVIRONMENT must be one of development, staging, production, test; got %q", c.Environment)
	}

	switch c.LLMProvider {
	case "openai":
		if c.Environment == "production" && c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case "anthropic":
		if c.Environment == "production" && c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be openai or anthropic, got %q", c.LLMProvider)
	}

	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be in [0,2], got %.2f", c.LLMTemperature)
	}
	if c.LLMMaxTokens < 1 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0, got %d", c.LLMMaxTokens)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.MessageQueueSize < 1 {
		return fmt.Errorf("WS_MESSAGE_QUEUE_SIZE must be > 0, got %d", c.MessageQueueSize)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("WS_PING_INTERVAL must be positive, got %s", c.PingInterval)
	}
	if c.ToolsRateLimit < 1 {
		return fmt.Errorf("TOOLS_RATE_LIMIT must be > 0, got %d", c.ToolsRateLimit)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or pretty, got %q", c.LogFormat)
	}

	return nil
}

// EnabledTools parses TOOLS_ENABLED into a name list. Nil means every
// registered tool is enabled.
func (c *Config) EnabledTools() []string {
	if strings.TrimSpace(c.ToolsEnabled) == "" {
		return nil
	}
	var out []string
	for _, name := range strings.Split(c.ToolsEnabled, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// LogConfig logs the effective configuration. Secrets are reported only
// by presence.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("llm_provider", c.LLMProvider).
		Str("llm_model", c.LLMModel).
		Int("llm_max_tokens", c.LLMMaxTokens).
		Float64("llm_temperature", c.LLMTemperature).
		Bool("openai_key_set", c.OpenAIAPIKey != "").
		Bool("anthropic_key_set", c.AnthropicAPIKey != "").
		Int("max_connections", c.MaxConnections).
		Int("message_queue_size", c.MessageQueueSize).
		Dur("ping_interval", c.PingInterval).
		Int("max_history_length", c.MaxHistoryLength).
		Dur("session_timeout", c.SessionTimeout).
		Str("tools_enabled", c.ToolsEnabled).
		Int("tools_rate_limit", c.ToolsRateLimit).
		Str("nats_url", c.NATSURL).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Gateway configuration loaded")
}
