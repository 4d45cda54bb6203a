package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversation metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_relay_active_sessions",
		Help: "Number of conversations held in memory",
	})

	turnDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_turn_decisions_total",
		Help: "Turn-taking decisions by outcome",
	}, []string{"outcome"})

	teaserDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_teaser_decisions_total",
		Help: "Provisional teaser replies by outcome",
	}, []string{"outcome"})

	// Language model metrics
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_llm_requests_total",
		Help: "Total number of language model requests",
	}, []string{"provider", "status"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_relay_llm_latency_seconds",
		Help:    "Language model request latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"provider"})

	regenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_regenerations_total",
		Help: "Policy-triggered reply regenerations",
	}, []string{"policy"})

	fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_fallback_replies_total",
		Help: "Fixed fallback replies substituted for failed generations",
	}, []string{"reason"})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_tts_latency_seconds",
		Help:    "TTS latency in seconds, including retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_relay_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// SetActiveSessions records the number of live conversations
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordTurnDecision counts a turn-taking outcome (accept, interrupt, stopped, or a reject reason)
func RecordTurnDecision(outcome string) {
	turnDecisions.WithLabelValues(outcome).Inc()
}

// RecordTeaserDecision counts a teaser outcome
func RecordTeaserDecision(outcome string) {
	teaserDecisions.WithLabelValues(outcome).Inc()
}

// RecordLLMRequest records one language model call
func RecordLLMRequest(provider string, start time.Time, success bool) {
	llmLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	llmRequests.WithLabelValues(provider, statusLabel(success)).Inc()
}

// RecordRegeneration counts a policy-triggered regeneration
func RecordRegeneration(policy string) {
	regenerations.WithLabelValues(policy).Inc()
}

// RecordFallback counts a substituted fallback reply
func RecordFallback(reason string) {
	fallbacks.WithLabelValues(reason).Inc()
}

// RecordTTSRequest records one synthesis, including its retries
func RecordTTSRequest(start time.Time, success bool) {
	ttsLatency.Observe(time.Since(start).Seconds())
	ttsRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
