package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quill-chat/quill/internal/log"
	"github.com/quill-chat/quill/internal/web"
)

// ServerConfig contains the dependencies for the API server. The
// fields are interfaces so callers wire the concrete stores and tests
// substitute fakes.
type ServerConfig struct {
	Logger       log.Logger
	Flow         chatFlow        // Required: *chat.Flow
	Titles       titler          // Optional: *chat.Agent, nil disables AI title generation
	SessionStore sessionStore    // Required: *session.Store
	Searcher     searcher        // Required: *knowledge.Store
	Indexer      documentIndexer // Required: *rag.Indexer
	Pool         *pgxpool.Pool   // Optional: nil disables pool stats in /ready
	DocsDir      string          // Root for ingestion paths
	ModelName    string          // Recorded on auto-created sessions
	CORSOrigins  []string
	IsDev        bool // Disables HSTS
	TrustProxy   bool // Trust X-Real-IP/X-Forwarded-For
	RateBurst    int  // Per-IP burst size (0 = default 60)
	ServeUI      bool // Mount the embedded web UI at /
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Flow == nil {
		return nil, errors.New("chat flow is required")
	}
	if cfg.SessionStore == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if cfg.Indexer == nil {
		return nil, errors.New("indexer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{
		flow:      cfg.Flow,
		sessions:  cfg.SessionStore,
		titles:    cfg.Titles,
		modelName: cfg.ModelName,
		logger:    logger,
	}

	sh := &searchHandler{store: cfg.Searcher, logger: logger}
	dh := &documentsHandler{indexer: cfg.Indexer, docsDir: cfg.DocsDir, logger: logger}
	sm := &sessionHandler{store: cfg.SessionStore, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)

	mux.HandleFunc("GET /api/v1/search", sh.search)

	mux.HandleFunc("POST /api/v1/documents", dh.ingest)
	mux.HandleFunc("GET /api/v1/documents", dh.list)
	mux.HandleFunc("GET /api/v1/documents/stats", dh.stats)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", dh.remove)

	mux.HandleFunc("GET /api/v1/sessions", sm.list)
	mux.HandleFunc("POST /api/v1/sessions", sm.create)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sm.get)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sm.messages)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sm.remove)

	if cfg.ServeUI {
		mux.Handle("GET /", web.Handler())
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> RequestID -> Logging -> CORS -> RateLimit -> Routes
	// RequestID must precede Logging so request_id is available in log
	// attributes. CORS must precede RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
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

	// Top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
