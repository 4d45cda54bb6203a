package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/api"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/relay"
	"github.com/lexiqai/voice-relay/internal/reply"
	"github.com/lexiqai/voice-relay/internal/resilience"
	"github.com/lexiqai/voice-relay/internal/session"
	"github.com/lexiqai/voice-relay/internal/tts"
	"github.com/lexiqai/voice-relay/internal/turn"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("llm_provider", cfg.LLMProvider).
		Str("session_backend", cfg.SessionBackend).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Relay Service starting")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Upstream clients
	llmBreaker := resilience.NewCircuitBreaker("llm", cfg.CircuitBreakerMaxFailures, config.Seconds(cfg.CircuitBreakerResetTimeout))
	ttsBreaker := resilience.NewCircuitBreaker("tts", cfg.CircuitBreakerMaxFailures, config.Seconds(cfg.CircuitBreakerResetTimeout))

	model, err := newChatModel(ctx, cfg, llmBreaker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create language model client")
	}

	synth := tts.NewElevenLabsClient(tts.Config{
		APIKey:          cfg.ElevenAPIKey,
		BaseURL:         cfg.ElevenBaseURL,
		VoiceID:         cfg.ElevenVoiceID,
		ModelID:         cfg.ElevenModelID,
		OutputFormat:    cfg.ElevenOutput,
		MaxChars:        cfg.TTSMaxChars,
		DialTimeout:     config.Seconds(cfg.TTSDialTimeout),
		AttemptTimeouts: cfg.TTSAttemptTimeouts(),
		Backoff:         config.Millis(cfg.TTSRetryBackoff),
		Voice:           tts.DefaultVoiceSettings(),
		Breaker:         ttsBreaker,
	}, logger)

	readiness := map[string]observability.HealthCheckFunc{
		"llm": llmBreaker.HealthCheck(),
		"tts": ttsBreaker.HealthCheck(),
	}

	// Session store
	var store session.Store
	switch cfg.SessionBackend {
	case config.BackendRedis:
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		store = session.NewRedisStore(rdb, config.Seconds(cfg.SessionIdleTTL), logger)
		readiness["redis"] = func(ctx context.Context) (bool, error) {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return false, err
			}
			return true, nil
		}
	default:
		mem := session.NewMemoryStore(config.Seconds(cfg.SessionIdleTTL), logger)
		go mem.Run(ctx, config.Seconds(cfg.SessionSweepInt))
		store = mem
	}

	guard := turn.NewGuard(turn.Config{
		MinRunes:       cfg.MinUtteranceRunes,
		TeaserMinRunes: cfg.TeaserMinRunes,
		TeaserCooldown: config.Millis(cfg.TeaserCooldownMs),
	})

	composerCfg := reply.DefaultConfig()
	composerCfg.AssistantName = cfg.AssistantName
	composerCfg.Temperature = cfg.LLMTemperature
	composerCfg.MaxTokens = cfg.LLMMaxTokens
	composerCfg.MaxChars = cfg.ReplyMaxChars
	composerCfg.MaxSentences = cfg.ReplyMaxSentences
	composerCfg.DiversityThreshold = cfg.DiversityThreshold
	composerCfg.SoftenDuplicates = cfg.SoftenDuplicates
	composerCfg.Seed = cfg.StyleSeed
	composer := reply.NewComposer(model, composerCfg, logger)

	srv := api.NewServer(api.Options{
		Relay:          relay.New(store, guard, composer, synth, logger),
		Model:          model,
		ModelBreaker:   llmBreaker,
		Readiness:      readiness,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsEnabled: cfg.MetricsEnabled,
		Logger:         logger,
	})
	if cfg.MetricsEnabled {
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. A reply may spend the full LLM budget
	// and then the TTS budget, so the write timeout is generous.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/api/reply", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.ShutdownTimeout))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
		return
	}

	logger.Info().Msg("Server exited gracefully")
}

func newChatModel(ctx context.Context, cfg *config.Config, breaker *resilience.CircuitBreaker, logger zerolog.Logger) (llm.ChatModel, error) {
	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    config.Millis(cfg.RetryInitialBackoff),
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}

	switch cfg.LLMProvider {
	case config.ProviderGemini:
		client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			Timeout: config.Seconds(cfg.LLMTimeout),
			Retry:   retry,
			Breaker: breaker,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Timeout:     config.Seconds(cfg.LLMTimeout),
			DialTimeout: config.Seconds(cfg.LLMDialTimeout),
			Retry:       retry,
			Breaker:     breaker,
		}, logger), nil
	}
}
