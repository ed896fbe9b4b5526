package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/ai-gateway/internal/cache"
	"github.com/adred-codev/ai-gateway/internal/config"
	"github.com/adred-codev/ai-gateway/internal/conversation"
	"github.com/adred-codev/ai-gateway/internal/llm"
	"github.com/adred-codev/ai-gateway/internal/monitoring"
	"github.com/adred-codev/ai-gateway/internal/pricefeed"
	"github.com/adred-codev/ai-gateway/internal/ratelimit"
	"github.com/adred-codev/ai-gateway/internal/server"
	"github.com/adred-codev/ai-gateway/internal/tools"
	"github.com/adred-codev/ai-gateway/internal/types"
	"github.com/adred-codev/ai-gateway/internal/workerpool"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  types.LogLevel(cfg.LogLevel),
		Format: types.LogFormat(cfg.LogFormat),
	})
	cfg.LogConfig(logger)
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("Runtime configured")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := monitoring.NewCollector()
	collector.StartSummary(ctx, time.Minute, logger)

	// Shared rate limiter: one key per tool, coordinated per upstream
	// provider so many tools cannot collectively overrun one API.
	limiter := ratelimit.New(logger)
	for provider, toolNames := range map[string][]string{
		"etherscan": {"get_gas_prices", "get_token_balance"},
		"coingecko": {"get_crypto_price"},
		"defillama": {"get_lending_rates"},
	} {
		limiter.ConfigureProvider(ratelimit.ProviderConfig{
			Name:        provider,
			MaxRequests: cfg.ToolsRateLimit * 2,
			Window:      time.Minute,
		})
		for _, name := range toolNames {
			limiter.ConfigureKey(ratelimit.KeyConfig{
				Name:          "tools:" + name,
				MaxRequests:   cfg.ToolsRateLimit,
				Window:        time.Minute,
				BurstFraction: 0.2,
				Provider:      provider,
				Priority:      ratelimit.PriorityNormal,
			})
		}
	}

	cacheManager := cache.NewManager(cache.ManagerConfig{}, logger,
		cache.WithRecorder(collector))

	registry := tools.NewRegistry()
	if err := tools.RegisterDefaults(registry, tools.StaticUpstream{}, cfg.EnabledTools()); err != nil {
		logger.Fatal().Err(err).Msg("Tool registration failed")
	}
	executor := tools.NewExecutor(registry, limiter, cacheManager, logger,
		tools.WithAPIRecorder(collector))

	adapter, err := buildAdapter(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("LLM adapter initialization failed")
	}

	store := conversation.NewStore(logger,
		conversation.WithSessionTimeout(cfg.SessionTimeout))
	store.StartSweeper(ctx, cfg.SweepInterval)

	manager := conversation.NewManager(store, adapter, registry, executor,
		conversation.ManagerConfig{
			MaxHistoryLength: cfg.MaxHistoryLength,
			MaxTokens:        cfg.LLMMaxTokens,
			Temperature:      float32(cfg.LLMTemperature),
		}, logger, conversation.WithCollector(collector))

	pool := workerpool.New(runtime.GOMAXPROCS(0)*2, 0, logger)
	pool.Start(ctx)

	feed, err := pricefeed.NewNATSFeed(pricefeed.NATSFeedConfig{URL: cfg.NATSURL}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Price feed connection failed")
	}
	defer feed.Close()

	hub := pricefeed.NewHub(feed, pool, logger)

	srv := server.New(server.Config{
		Addr:           cfg.Addr,
		MaxConnections: cfg.MaxConnections,
		SendQueueSize:  cfg.MessageQueueSize,
		PingInterval:   cfg.PingInterval,
		CORSOrigin:     cfg.CORSOrigin,
		Version:        cfg.Version,
		Environment:    cfg.Environment,
	}, manager, hub, collector, pool, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown incomplete")
	}
	cancel()
	pool.Stop()
	logger.Info().Msg("Gateway stopped")
}

// buildAdapter selects the LLM provider from configuration. Outside
// production a missing API key falls back to the mock adapter so the
// gateway still starts for local development; Config.Validate already
// rejects missing keys in production.
func buildAdapter(cfg *config.Config, logger zerolog.Logger) (llm.Adapter, error) {
	key := cfg.OpenAIAPIKey
	if cfg.LLMProvider == "anthropic" {
		key = cfg.AnthropicAPIKey
	}
	if key == "" {
		if cfg.Environment == "production" {
			return nil, fmt.Errorf("missing API key for LLM provider %q", cfg.LLMProvider)
		}
		logger.Warn().
			Str("provider", cfg.LLMProvider).
			Str("environment", cfg.Environment).
			Msg("No LLM API key configured, using mock adapter")
		return llm.NewMockAdapter(), nil
	}

	switch cfg.LLMProvider {
	case "anthropic":
		return llm.NewAnthropicAdapter(llm.AnthropicConfig{
			APIKey: key,
			Model:  cfg.LLMModel,
		}, logger)
	default:
		return llm.NewOpenAIAdapter(llm.OpenAIConfig{
			APIKey:  key,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.LLMModel,
		}, logger)
	}
}
