package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

const providerOpenAI = "openai"

// OpenAIConfig configures an OpenAI-compatible chat completion client
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty uses the public endpoint
	Model       string
	Timeout     time.Duration // overall budget per Generate, retries included
	DialTimeout time.Duration
	Retry       *resilience.RetryConfig
	Breaker     *resilience.CircuitBreaker
}

// OpenAIClient talks to the chat completions endpoint through go-openai
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(cfg OpenAIConfig, logger zerolog.Logger) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
			TLSHandshakeTimeout: dialTimeout,
			MaxIdleConnsPerHost: 8,
		},
	}

	retry := cfg.Retry
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(providerOpenAI, 0, 0)
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retry:   retry,
		breaker: breaker,
		logger:  logger.With().Str("component", "llm").Str("provider", providerOpenAI).Logger(),
	}
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return providerOpenAI
}

// Generate runs one chat completion with retries
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   clampTokens(req.MaxTokens, 320),
	}

	start := time.Now()
	var reply string
	err := resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		return c.breaker.Call(func() error {
			resp, err := c.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Chat completion attempt failed")
				return translateOpenAIError(err)
			}
			reply = ""
			if len(resp.Choices) > 0 {
				reply = strings.TrimSpace(resp.Choices[0].Message.Content)
			}
			return nil
		}, resilience.IsTransient)
	}, c.retry, resilience.IsTransient)

	observability.RecordLLMRequest(providerOpenAI, start, err == nil && reply != "")
	if err != nil {
		observability.RecordError("llm_request", providerOpenAI)
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// Probe lists models, which needs a valid key but costs no tokens
func (c *OpenAIClient) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai probe: %w", translateOpenAIError(err))
	}
	return nil
}

// Breaker exposes the circuit breaker for readiness checks
func (c *OpenAIClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

func toOpenAIMessages(msgs []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

// translateOpenAIError converts go-openai status errors into StatusError so
// the shared retry predicate can see the HTTP code.
func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &resilience.StatusError{Service: providerOpenAI, Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &resilience.StatusError{Service: providerOpenAI, Code: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}

var _ ChatModel = (*OpenAIClient)(nil)
