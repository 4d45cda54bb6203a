package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *ElevenLabsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewElevenLabsClient(Config{
		APIKey:          "test-key",
		BaseURL:         srv.URL,
		VoiceID:         "voice-1",
		ModelID:         "eleven_multilingual_v2",
		OutputFormat:    "mp3_22050_64",
		MaxChars:        650,
		AttemptTimeouts: []time.Duration{time.Second, time.Second, time.Second},
		Backoff:         time.Millisecond,
		Voice:           DefaultVoiceSettings(),
	}, zerolog.Nop())
}

func TestSynthesize_Success(t *testing.T) {
	var got synthesisRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-1" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("output_format") != "mp3_22050_64" {
			t.Errorf("Unexpected output format %q", r.URL.Query().Get("output_format"))
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Errorf("Missing api key header")
		}
		if r.Header.Get("Accept") != "audio/mpeg" {
			t.Errorf("Unexpected Accept %q", r.Header.Get("Accept"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Bad body: %v", err)
		}
		w.Write([]byte("ID3fake"))
	})

	audio, err := client.Synthesize(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	expected := "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString([]byte("ID3fake"))
	if audio != expected {
		t.Errorf("Expected %q, got %q", expected, audio)
	}
	if got.Text != "Hello there." || got.ModelID != "eleven_multilingual_v2" {
		t.Errorf("Unexpected request %+v", got)
	}
	if got.VoiceSettings != DefaultVoiceSettings() {
		t.Errorf("Unexpected voice settings %+v", got.VoiceSettings)
	}
}

func TestSynthesize_EmptyTextSkipsRequest(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	audio, err := client.Synthesize(context.Background(), "   ")
	if err != nil || audio != "" {
		t.Errorf("Expected empty audio and no error, got %q, %v", audio, err)
	}
	if calls != 0 {
		t.Errorf("Expected no upstream call, got %d", calls)
	}
}

func TestSynthesize_TruncatesLongText(t *testing.T) {
	var got synthesisRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte("mp3"))
	})

	if _, err := client.Synthesize(context.Background(), strings.Repeat("é", 700)); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if n := len([]rune(got.Text)); n != 650 {
		t.Errorf("Expected 650 runes sent, got %d", n)
	}
}

func TestSynthesize_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("mp3"))
	})

	audio, err := client.Synthesize(context.Background(), "Breathe.")
	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if audio == "" {
		t.Error("Expected audio")
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestSynthesize_ExhaustsAttempts(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid key"}`))
	})

	_, err := client.Synthesize(context.Background(), "Breathe.")
	var statusErr *resilience.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401 error, got %v", err)
	}
	if !strings.Contains(statusErr.Body, "invalid key") {
		t.Errorf("Expected upstream body in error, got %q", statusErr.Body)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestSynthesize_OpenBreakerFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker("elevenlabs-test", 1, time.Hour)
	breaker.RecordResult(false)
	client := NewElevenLabsClient(Config{BaseURL: srv.URL, VoiceID: "v", Breaker: breaker}, zerolog.Nop())

	_, err := client.Synthesize(context.Background(), "hi")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no upstream calls, got %d", calls)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		text     string
		max      int
		expected string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"hello", 0, "hello"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.text, tt.max); got != tt.expected {
			t.Errorf("Truncate(%q, %d) = %q, expected %q", tt.text, tt.max, got, tt.expected)
		}
	}
}

func TestSynthesize_EmptyAudioTripsBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker("elevenlabs-empty", 2, time.Hour)
	client := NewElevenLabsClient(Config{
		BaseURL:         srv.URL,
		VoiceID:         "v",
		AttemptTimeouts: []time.Duration{time.Second, time.Second, time.Second},
		Backoff:         time.Millisecond,
		Breaker:         breaker,
	}, zerolog.Nop())

	_, err := client.Synthesize(context.Background(), "Breathe.")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected the third attempt to hit the open circuit, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 upstream calls before the circuit opened, got %d", calls)
	}
	if breaker.GetState() != resilience.StateOpen {
		t.Errorf("Expected empty audio to count as an upstream failure, got %s", breaker.GetState())
	}
}
