// Package llmtest provides a scripted ChatModel for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/lexiqai/voice-relay/internal/llm"
)

// Response is one scripted outcome
type Response struct {
	Text string
	Err  error
}

// Model replays scripted responses in order; the last one repeats
type Model struct {
	mu        sync.Mutex
	responses []Response
	requests  []llm.Request
	ProbeErr  error
	// Block, when set, is awaited before every Generate returns
	Block chan struct{}
}

// New creates a model that answers with texts in order
func New(texts ...string) *Model {
	m := &Model{}
	for _, t := range texts {
		m.responses = append(m.responses, Response{Text: t})
	}
	return m
}

// Script replaces the queued responses
func (m *Model) Script(responses ...Response) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	return m
}

// Generate returns the next scripted response
func (m *Model) Generate(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	var resp Response
	switch {
	case len(m.responses) == 0:
		resp = Response{Err: llm.ErrEmptyReply}
	case idx < len(m.responses):
		resp = m.responses[idx]
	default:
		resp = m.responses[len(m.responses)-1]
	}
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if resp.Err != nil {
		return "", resp.Err
	}
	if resp.Text == "" {
		return "", llm.ErrEmptyReply
	}
	return resp.Text, nil
}

// Probe returns ProbeErr
func (m *Model) Probe(ctx context.Context) error {
	return m.ProbeErr
}

// Name identifies the fake
func (m *Model) Name() string {
	return "fake"
}

// Calls reports how many times Generate ran
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request seen
func (m *Model) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

var _ llm.ChatModel = (*Model)(nil)
