// Package api exposes the assistant over a JSON HTTP API.
//
// The message flow is asynchronous: submitting a message returns 202 with a
// turn id once the user message is durable, and clients fetch the reply by
// long-polling the reply endpoint or reading the message tail.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recaphq/recap/internal/conversation"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Coordinator Coordinator        // Required
	History     conversation.Store // Required
	Ingestor    Ingestor           // Optional: nil disables the ingest endpoint
	Entities    EntityWriter       // Optional: required with Ingestor
	Pool        *pgxpool.Pool      // Optional: nil disables pool stats in /ready

	PollInterval time.Duration // Reply endpoint check interval (0 = 1s)
	PollTimeout  time.Duration // Reply endpoint wait budget (0 = 30s)
	TailLimit    int32         // Default message tail size (0 = 20)
	RateBurst    int           // Rate limiter burst per IP (0 = 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if cfg.History == nil {
		return nil, errors.New("history store is required")
	}
	if (cfg.Ingestor == nil) != (cfg.Entities == nil) {
		return nil, errors.New("ingestor and entity writer must be configured together")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.TailLimit <= 0 {
		cfg.TailLimit = 20
	}

	ch := &chatHandler{
		coordinator:  cfg.Coordinator,
		history:      cfg.History,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		tailLimit:    cfg.TailLimit,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/conversations", ch.createConversation)
	mux.HandleFunc("POST /api/v1/conversations/{id}/messages", ch.submitMessage)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", ch.listMessages)
	mux.HandleFunc("GET /api/v1/conversations/{id}/reply", ch.getReply)
	mux.HandleFunc("GET /api/v1/turns/{id}", ch.getTurn)

	if cfg.Ingestor != nil {
		ih := &ingestHandler{ingestor: cfg.Ingestor, entities: cfg.Entities, logger: logger}
		mux.HandleFunc("POST /api/v1/documents", ih.ingest)
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first: Recovery → Logging → RateLimit.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
