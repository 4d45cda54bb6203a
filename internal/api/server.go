// Package api exposes the relay over a small JSON HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/relay"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

const maxBodyBytes = 64 << 10

// Options configures the HTTP server
type Options struct {
	Relay          *relay.Relay
	Model          llm.ChatModel
	ModelBreaker   *resilience.CircuitBreaker // closed again after a successful probe
	Readiness      map[string]observability.HealthCheckFunc
	AllowedOrigins []string
	MetricsEnabled bool
	Logger         zerolog.Logger
}

// Server routes browser requests to the relay
type Server struct {
	router  *chi.Mux
	relay   *relay.Relay
	model   llm.ChatModel
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewServer builds the router
func NewServer(opts Options) *Server {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", correlationHeader},
		ExposedHeaders: []string{correlationHeader},
		MaxAge:         300,
	}))

	s := &Server{
		router:  r,
		relay:   opts.Relay,
		model:   opts.Model,
		breaker: opts.ModelBreaker,
		logger:  opts.Logger,
	}
	s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) {
	s.router.Post("/api/intro", s.handleIntro)
	s.router.Post("/api/reply", s.handleReply)
	s.router.Post("/api/adjacent", s.handleAdjacent)
	s.router.Post("/api/reset", s.handleReset)
	s.router.Get("/api/ping", s.handlePing)
	s.router.Get("/api/test_llm", s.handleTestLLM)

	s.router.Get("/health", observability.HealthCheckHandler())
	s.router.Get("/ready", observability.ReadinessHandler(opts.Readiness))
	if opts.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}

// Router returns the root handler
func (s *Server) Router() http.Handler { return s.router }
