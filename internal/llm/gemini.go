package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

const providerGemini = "gemini"

// GeminiConfig configures the Gemini chat model
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Retry   *resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
}

// GeminiClient generates replies through an eino chat model backed by Gemini
type GeminiClient struct {
	cm      einomodel.BaseChatModel
	timeout time.Duration
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewGeminiClient creates the genai client and wraps it in an eino chat model
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger zerolog.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client: client,
		Model:  cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini chat model: %w", err)
	}

	return newEinoClient(cm, cfg, logger), nil
}

func newEinoClient(cm einomodel.BaseChatModel, cfg GeminiConfig, logger zerolog.Logger) *GeminiClient {
	retry := cfg.Retry
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(providerGemini, 0, 0)
	}
	return &GeminiClient{
		cm:      cm,
		timeout: cfg.Timeout,
		retry:   retry,
		breaker: breaker,
		logger:  logger.With().Str("component", "llm").Str("provider", providerGemini).Logger(),
	}
}

// Name returns the provider name
func (c *GeminiClient) Name() string {
	return providerGemini
}

// Generate runs one chat completion with retries
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	opts := []einomodel.Option{
		einomodel.WithTemperature(req.Temperature),
		einomodel.WithMaxTokens(clampTokens(req.MaxTokens, 320)),
	}

	start := time.Now()
	var reply string
	err := resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		return c.breaker.Call(func() error {
			msg, err := c.cm.Generate(ctx, req.Messages, opts...)
			if err != nil {
				c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Gemini generate attempt failed")
				return translateGeminiError(err)
			}
			reply = ""
			if msg != nil {
				reply = strings.TrimSpace(msg.Content)
			}
			return nil
		}, resilience.IsTransient)
	}, c.retry, resilience.IsTransient)

	observability.RecordLLMRequest(providerGemini, start, err == nil && reply != "")
	if err != nil {
		observability.RecordError("llm_request", providerGemini)
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// Probe sends a minimal prompt; the Gemini API has no free listing call through eino
func (c *GeminiClient) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	msg, err := c.cm.Generate(ctx, []*schema.Message{schema.UserMessage("Reply with OK.")},
		einomodel.WithMaxTokens(5))
	if err != nil {
		return fmt.Errorf("gemini probe: %w", translateGeminiError(err))
	}
	if msg == nil {
		return fmt.Errorf("gemini probe: %w", ErrEmptyReply)
	}
	return nil
}

// Breaker exposes the circuit breaker for readiness checks
func (c *GeminiClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

func translateGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return &resilience.StatusError{Service: providerGemini, Code: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code > 0 {
		return &resilience.StatusError{Service: providerGemini, Code: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return err
}

var _ ChatModel = (*GeminiClient)(nil)
