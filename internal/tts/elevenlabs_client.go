package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

const (
	serviceName    = "elevenlabs"
	audioMediaType = "audio/mpeg"
	maxErrorBody   = 512
)

// Config configures the ElevenLabs client
type Config struct {
	APIKey          string
	BaseURL         string
	VoiceID         string
	ModelID         string
	OutputFormat    string
	MaxChars        int
	DialTimeout     time.Duration
	AttemptTimeouts []time.Duration // one per attempt; the count sets the attempt limit
	Backoff         time.Duration   // wait after failed attempt i is Backoff*(i+1)
	Voice           VoiceSettings
	Breaker         *resilience.CircuitBreaker
}

// ElevenLabsClient implements Synthesizer using ElevenLabs' TTS API
type ElevenLabsClient struct {
	cfg        Config
	endpoint   string
	retry      *resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewElevenLabsClient creates a new ElevenLabs TTS client
func NewElevenLabsClient(cfg Config, logger zerolog.Logger) *ElevenLabsClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 650
	}
	if len(cfg.AttemptTimeouts) == 0 {
		cfg.AttemptTimeouts = []time.Duration{20 * time.Second, 25 * time.Second, 35 * time.Second}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	schedule := make([]time.Duration, len(cfg.AttemptTimeouts))
	for i := range schedule {
		schedule[i] = cfg.Backoff * time.Duration(i+1)
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(serviceName, 0, 0)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", strings.TrimRight(cfg.BaseURL, "/"), url.PathEscape(cfg.VoiceID))
	if cfg.OutputFormat != "" {
		endpoint += "?output_format=" + url.QueryEscape(cfg.OutputFormat)
	}

	return &ElevenLabsClient{
		cfg:      cfg,
		endpoint: endpoint,
		retry: &resilience.RetryConfig{
			MaxAttempts:     len(cfg.AttemptTimeouts),
			Schedule:        schedule,
			AttemptTimeouts: cfg.AttemptTimeouts,
		},
		breaker: breaker,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext,
				TLSHandshakeTimeout: cfg.DialTimeout,
				MaxIdleConnsPerHost: 4,
			},
		},
		logger: logger.With().Str("component", "tts").Str("provider", serviceName).Logger(),
	}
}

// Synthesize converts text to an MP3 data URI
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) (string, error) {
	text = Truncate(strings.TrimSpace(text), c.cfg.MaxChars)
	if text == "" {
		return "", nil
	}

	jsonData, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       c.cfg.ModelID,
		VoiceSettings: c.cfg.Voice,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	var audio []byte
	err = resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		return c.breaker.Call(func() error {
			data, err := c.post(ctx, jsonData)
			if err != nil {
				c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Synthesis attempt failed")
				return err
			}
			audio = data
			return nil
		}, resilience.IsTransient)
	}, c.retry, c.retryable)

	observability.RecordTTSRequest(start, err == nil)
	if err != nil {
		observability.RecordError("tts_request", serviceName)
		return "", err
	}
	return DataURI(audio), nil
}

// retryable retries every failure except an open breaker or a cancelled
// caller; a non-200 of any kind gets another attempt.
func (c *ElevenLabsClient) retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, resilience.ErrCircuitOpen)
}

func (c *ElevenLabsClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", audioMediaType)
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &resilience.StatusError{Service: serviceName, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	// A 200 without a complete body is an upstream fault, not a caller error.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewRetryableError(fmt.Errorf("failed to read audio: %w", err))
	}
	if len(data) == 0 {
		return nil, resilience.NewRetryableError(fmt.Errorf("%s returned empty audio", serviceName))
	}
	return data, nil
}

// Breaker exposes the circuit breaker for readiness checks
func (c *ElevenLabsClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// Truncate caps text at maxRunes runes
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}

// DataURI encodes MP3 bytes for direct playback in the browser
func DataURI(audio []byte) string {
	return "data:" + audioMediaType + ";base64," + base64.StdEncoding.EncodeToString(audio)
}

var _ Synthesizer = (*ElevenLabsClient)(nil)
