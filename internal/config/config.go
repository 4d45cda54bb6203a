package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lexiqai/voice-relay/internal/session"
)

// LLM provider names
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Session backend names
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the voice relay service
type Config struct {
	// Server configuration
	Port               string   `envconfig:"PORT" default:"8080"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	ShutdownTimeout    int      `envconfig:"SHUTDOWN_TIMEOUT" default:"15"` // seconds

	// Assistant persona
	AssistantName string `envconfig:"ASSISTANT_NAME" default:"Tahlia"`

	// Language model configuration
	LLMProvider    string  `envconfig:"LLM_PROVIDER" default:"openai"` // openai, gemini
	LLMTemperature float32 `envconfig:"LLM_TEMPERATURE" default:"0.6"`
	LLMMaxTokens   int     `envconfig:"LLM_MAX_TOKENS" default:"320"`
	LLMTimeout     int     `envconfig:"LLM_TIMEOUT" default:"60"`      // seconds, overall per call
	LLMDialTimeout int     `envconfig:"LLM_DIAL_TIMEOUT" default:"10"` // seconds

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""` // empty uses the public endpoint
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	// ElevenLabs TTS configuration
	ElevenAPIKey     string `envconfig:"ELEVEN_API_KEY" required:"true"`
	ElevenVoiceID    string `envconfig:"ELEVEN_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`
	ElevenModelID    string `envconfig:"ELEVEN_MODEL_ID" default:"eleven_multilingual_v2"`
	ElevenBaseURL    string `envconfig:"ELEVEN_BASE_URL" default:"https://api.elevenlabs.io"`
	ElevenOutput     string `envconfig:"ELEVEN_OUTPUT_FORMAT" default:"mp3_22050_64"`
	TTSMaxChars      int    `envconfig:"TTS_MAX_CHARS" default:"650"`
	TTSDialTimeout   int    `envconfig:"TTS_DIAL_TIMEOUT" default:"5"`            // seconds
	TTSRetryBackoff  int    `envconfig:"TTS_RETRY_BACKOFF" default:"150"`         // milliseconds, grows linearly per attempt
	TTSAttemptBudget []int  `envconfig:"TTS_ATTEMPT_TIMEOUTS" default:"20,25,35"` // seconds per attempt

	// Session store configuration
	SessionBackend  string `envconfig:"SESSION_BACKEND" default:"memory"` // memory, redis
	SessionIdleTTL  int    `envconfig:"SESSION_IDLE_TTL" default:"1800"`  // seconds
	SessionSweepInt int    `envconfig:"SESSION_SWEEP_INTERVAL" default:"60"`
	Redis           session.RedisConfig

	// Turn-taking and composition tuning
	MinUtteranceRunes  int     `envconfig:"MIN_UTTERANCE_RUNES" default:"2"`
	TeaserMinRunes     int     `envconfig:"TEASER_MIN_RUNES" default:"14"`
	TeaserCooldownMs   int     `envconfig:"TEASER_COOLDOWN_MS" default:"1800"`
	ReplyMaxChars      int     `envconfig:"REPLY_MAX_CHARS" default:"520"`
	ReplyMaxSentences  int     `envconfig:"REPLY_MAX_SENTENCES" default:"5"`
	DiversityThreshold float64 `envconfig:"DIVERSITY_THRESHOLD" default:"0.9"`
	StyleSeed          int64   `envconfig:"STYLE_SEED" default:"0"` // 0 seeds from the clock
	SoftenDuplicates   bool    `envconfig:"SOFTEN_DUPLICATES" default:"false"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum attempts per upstream call
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"250"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks provider-dependent fields
func (c *Config) Validate() error {
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}

	if c.ElevenAPIKey == "" {
		return fmt.Errorf("ELEVEN_API_KEY is required")
	}

	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
	if c.SessionBackend != BackendMemory && c.SessionBackend != BackendRedis {
		return fmt.Errorf("unsupported SESSION_BACKEND %q", c.SessionBackend)
	}
	if len(c.TTSAttemptBudget) == 0 {
		return fmt.Errorf("TTS_ATTEMPT_TIMEOUTS must list at least one timeout")
	}
	return nil
}

// Seconds converts a seconds setting to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Millis converts a milliseconds setting to a duration
func Millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// TTSAttemptTimeouts returns the per-attempt synthesis budgets
func (c *Config) TTSAttemptTimeouts() []time.Duration {
	out := make([]time.Duration, len(c.TTSAttemptBudget))
	for i, s := range c.TTSAttemptBudget {
		out[i] = Seconds(s)
	}
	return out
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
