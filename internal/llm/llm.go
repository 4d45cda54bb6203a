// Package llm adapts hosted chat-completion services to a single
// prompt-in, text-out interface used by the reply composer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino/schema"

	"github.com/lexiqai/voice-relay/internal/resilience"
)

// ErrEmptyReply is returned when the model answered with no usable text
var ErrEmptyReply = errors.New("language model returned an empty reply")

// Request is one chat completion
type Request struct {
	Messages    []*schema.Message
	Temperature float32
	MaxTokens   int
}

// ChatModel generates a single assistant reply for a prompt
type ChatModel interface {
	Generate(ctx context.Context, req Request) (string, error)
	// Probe performs a cheap authenticated round trip
	Probe(ctx context.Context) error
	Name() string
}

// Classify reduces a generation error to a short tag for diagnostics and metrics
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrEmptyReply) {
		return "empty"
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "circuit_open"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == http.StatusTooManyRequests:
			return "rate_limited"
		case statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden:
			return "auth"
		case statusErr.Code >= 500:
			return "upstream"
		default:
			return fmt.Sprintf("status_%d", statusErr.Code)
		}
	}
	if resilience.IsRetryableNetworkError(err) {
		return "network"
	}
	return "unknown"
}

// clampTokens keeps a requested budget positive
func clampTokens(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}
