// Package api implements the JSON HTTP API. Authentication is terminated
// upstream; the gateway forwards the caller identity in X-User-ID.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/simplechat/simplechat/internal/pii"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        *slog.Logger
	ChatService   ChatService       // Required
	Conversations ConversationStore // Required
	Messages      MessageSearcher   // Required
	Documents     DocumentSearcher  // Required
	Workspaces    WorkspaceResolver // Required
	Users         UserProvisioner   // Optional: nil skips per-request upsert
	Notifications NotificationStore // Required
	Analyzer      *pii.Analyzer     // Required
	Snapshots     SnapshotProvider  // Required
	Tools         ToolGateway       // Optional: nil disables /api/v1/mcp routes
	Pool          *pgxpool.Pool     // Optional: nil disables pool stats in /ready

	ModelName   string   // Recorded on newly created conversations
	CORSOrigins []string // Allowed origins for CORS
	IsDev       bool     // Relaxes HSTS for plain-HTTP development
	TrustProxy  bool     // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int      // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.ChatService == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Messages == nil {
		return nil, errors.New("message searcher is required")
	}
	if cfg.Documents == nil {
		return nil, errors.New("document searcher is required")
	}
	if cfg.Workspaces == nil {
		return nil, errors.New("workspace resolver is required")
	}
	if cfg.Notifications == nil {
		return nil, errors.New("notification store is required")
	}
	if cfg.Analyzer == nil {
		return nil, errors.New("pii analyzer is required")
	}
	if cfg.Snapshots == nil {
		return nil, errors.New("snapshot provider is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{
		service:       cfg.ChatService,
		conversations: cfg.Conversations,
		users:         cfg.Users,
		modelName:     cfg.ModelName,
		logger:        logger,
	}
	sh := &searchHandler{
		documents:  cfg.Documents,
		messages:   cfg.Messages,
		workspaces: cfg.Workspaces,
		logger:     logger,
	}
	ph := &piiHandler{analyzer: cfg.Analyzer, logger: logger}
	ctl := &controlHandler{snapshots: cfg.Snapshots, logger: logger}
	nh := &notificationHandler{store: cfg.Notifications, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("GET /api/v1/search", sh.search)
	mux.HandleFunc("POST /api/v1/pii/analyze", ph.analyze)
	mux.HandleFunc("GET /api/v1/control/activity", ctl.activity)
	mux.HandleFunc("GET /api/v1/notifications", nh.list)
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", nh.markRead)

	// External MCP tool pass-through (optional)
	if cfg.Tools != nil {
		th := &toolsHandler{gateway: cfg.Tools, logger: logger}
		mux.HandleFunc("GET /api/v1/mcp/tools", th.list)
		mux.HandleFunc("POST /api/v1/mcp/call", th.call)
	}

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   recovery, request ID, logging, CORS, rate limit, identity, routes
	// RequestID must be before Logging so request_id is available in log attributes.
	// CORS must be before RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = identityMiddleware(logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Top-level mux keeps probes and metrics outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("GET /metrics", promhttp.Handler())
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

