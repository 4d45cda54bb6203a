package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/llm/llmtest"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/relay"
	"github.com/lexiqai/voice-relay/internal/reply"
	"github.com/lexiqai/voice-relay/internal/resilience"
	"github.com/lexiqai/voice-relay/internal/session"
	"github.com/lexiqai/voice-relay/internal/tts"
	"github.com/lexiqai/voice-relay/internal/turn"
)

const testAudio = "data:audio/mpeg;base64,AAAA"

func newTestServer(t *testing.T, model *llmtest.Model) *httptest.Server {
	t.Helper()
	return newTestServerWithBreaker(t, model, nil)
}

func newTestServerWithBreaker(t *testing.T, model *llmtest.Model, breaker *resilience.CircuitBreaker) *httptest.Server {
	t.Helper()
	store := session.NewMemoryStore(time.Hour, zerolog.Nop())
	cfg := reply.DefaultConfig()
	cfg.Seed = 7
	composer := reply.NewComposer(model, cfg, zerolog.Nop())
	synth := tts.SynthesizerFunc(func(ctx context.Context, text string) (string, error) {
		return testAudio, nil
	})
	r := relay.New(store, turn.NewGuard(turn.DefaultConfig()), composer, synth, zerolog.Nop())

	srv := NewServer(Options{
		Relay:        r,
		Model:        model,
		ModelBreaker: breaker,
		Readiness: map[string]observability.HealthCheckFunc{
			"llm": func(ctx context.Context) (bool, error) { return true, nil },
		},
		MetricsEnabled: true,
		Logger:         zerolog.Nop(),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode %s response: %v", path, err)
	}
	return resp, out
}

func get(t *testing.T, ts *httptest.Server, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode %s response: %v", path, err)
	}
	return resp, out
}

func TestIntro(t *testing.T) {
	ts := newTestServer(t, llmtest.New())

	resp, body := post(t, ts, "/api/intro", `{"clientId":"c1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body["reply"].(string), "Tahlia") {
		t.Errorf("Expected greeting to name the assistant, got %q", body["reply"])
	}
	if body["audio"] != testAudio || body["dbg"] != relay.DbgIntro {
		t.Errorf("Unexpected intro body: %v", body)
	}

	_, body = post(t, ts, "/api/intro", `{"clientId":"c1"}`)
	if body["reply"] != "" || body["dbg"] != relay.DbgIntroAlreadySent {
		t.Errorf("Expected second intro to be empty, got %v", body)
	}
}

func TestReply(t *testing.T) {
	ts := newTestServer(t, llmtest.New("Let's pick one small thing to start with."))

	resp, body := post(t, ts, "/api/reply", `{"clientId":"c1","text":"I feel stuck with my project","speaking":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["reply"] != "Let's pick one small thing to start with." {
		t.Errorf("Unexpected reply: %v", body["reply"])
	}
	if body["interrupt"] != true {
		t.Errorf("Expected interrupt when the assistant was speaking, got %v", body["interrupt"])
	}
	if body["audio"] != testAudio {
		t.Errorf("Expected audio, got %v", body["audio"])
	}
	if resp.Header.Get(correlationHeader) == "" {
		t.Error("Expected a correlation id header")
	}
}

func TestReply_BadRequests(t *testing.T) {
	ts := newTestServer(t, llmtest.New("ok"))

	tests := []struct {
		name string
		body string
		dbg  string
	}{
		{"malformed json", `{"clientId":`, tagBadRequest},
		{"missing text", `{"clientId":"c1"}`, relay.DbgEmpty},
		{"whitespace text", `{"clientId":"c1","text":"   "}`, relay.DbgEmpty},
		{"empty body", ``, relay.DbgEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, ts, "/api/reply", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
			if body["dbg"] != tt.dbg {
				t.Errorf("Expected dbg %q, got %v", tt.dbg, body["dbg"])
			}
			if body["reply"] != "" {
				t.Errorf("Expected empty reply, got %v", body["reply"])
			}
		})
	}
}

func TestReply_StopAndPing(t *testing.T) {
	ts := newTestServer(t, llmtest.New("Tell me a bit more about that."))

	post(t, ts, "/api/intro", `{"clientId":"c2"}`)
	_, body := post(t, ts, "/api/reply", `{"clientId":"c2","text":"stop"}`)
	if body["dbg"] != "stopped" || body["reply"] != "" {
		t.Errorf("Expected stop to yield an empty reply, got %v", body)
	}

	resp, body := get(t, ts, "/api/ping?clientId=c2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["ok"] != true || body["introSent"] != false || body["lastSpeaker"] != "none" {
		t.Errorf("Expected a cleared conversation after stop, got %v", body)
	}
	if stamp, ok := body["ts"].(float64); !ok || stamp <= 0 {
		t.Errorf("Expected unix seconds timestamp, got %v", body["ts"])
	}
}

func TestAdjacent(t *testing.T) {
	ts := newTestServer(t, llmtest.New("That sounds heavy."))

	_, body := post(t, ts, "/api/adjacent", `{"clientId":"c3","prefix":"short"}`)
	if body["reply"] != "" || body["dbg"] != turn.TeaserPrefixTooShort {
		t.Errorf("Expected short prefix to be refused, got %v", body)
	}

	_, body = post(t, ts, "/api/adjacent", `{"clientId":"c3","prefix":"I have been feeling really overwhelmed"}`)
	if body["reply"] != "That sounds heavy." || body["dbg"] != relay.DbgTeaser {
		t.Errorf("Expected a teaser, got %v", body)
	}

	_, body = post(t, ts, "/api/adjacent", `{"clientId":"c3","prefix":"I have been feeling really overwhelmed lately"}`)
	if body["dbg"] != turn.TeaserCooldown {
		t.Errorf("Expected cooldown, got %v", body)
	}
}

func TestReset(t *testing.T) {
	ts := newTestServer(t, llmtest.New())

	post(t, ts, "/api/intro", `{"clientId":"c4"}`)
	resp, body := post(t, ts, "/api/reset", `{"clientId":"c4"}`)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("Expected ok reset, got %d %v", resp.StatusCode, body)
	}
	_, body = post(t, ts, "/api/intro", `{"clientId":"c4"}`)
	if body["dbg"] != relay.DbgIntro {
		t.Errorf("Expected intro to be sent again after reset, got %v", body)
	}
}

func TestTestLLM(t *testing.T) {
	model := llmtest.New()
	ts := newTestServer(t, model)

	resp, body := get(t, ts, "/api/test_llm")
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Errorf("Expected ok probe, got %d %v", resp.StatusCode, body)
	}

	model.ProbeErr = errors.New("invalid api key")
	resp, body = get(t, ts, "/api/test_llm")
	if resp.StatusCode != http.StatusInternalServerError || body["ok"] != false {
		t.Errorf("Expected failed probe, got %d %v", resp.StatusCode, body)
	}
	if body["error"] != "invalid api key" {
		t.Errorf("Expected probe error message, got %v", body["error"])
	}
}

func TestTestLLM_SuccessClosesCircuit(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("llm-api-test", 1, time.Hour)
	breaker.RecordResult(false)
	model := llmtest.New()
	model.ProbeErr = errors.New("still down")
	ts := newTestServerWithBreaker(t, model, breaker)

	get(t, ts, "/api/test_llm")
	if breaker.GetState() != resilience.StateOpen {
		t.Fatalf("Expected a failed check to leave the circuit open, got %s", breaker.GetState())
	}

	model.ProbeErr = nil
	resp, body := get(t, ts, "/api/test_llm")
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("Expected ok, got %d %v", resp.StatusCode, body)
	}
	if breaker.GetState() != resilience.StateClosed {
		t.Errorf("Expected a successful check to close the circuit, got %s", breaker.GetState())
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, llmtest.New())

	resp, _ := get(t, ts, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", resp.StatusCode)
	}
	resp, body := get(t, ts, "/ready")
	if resp.StatusCode != http.StatusOK || body["status"] != "ready" {
		t.Errorf("Expected ready, got %d %v", resp.StatusCode, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, llmtest.New())

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/reply", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Preflight failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected wildcard origin, got %q", got)
	}
}

func TestCorrelationIDEcho(t *testing.T) {
	ts := newTestServer(t, llmtest.New())

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/ping?clientId=c5", nil)
	req.Header.Set(correlationHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(correlationHeader); got != "abc-123" {
		t.Errorf("Expected correlation id to be echoed, got %q", got)
	}
}
