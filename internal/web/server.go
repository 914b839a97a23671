package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"userscript-engine/internal/headless"
	"userscript-engine/internal/navigation"
	"userscript-engine/internal/registry"
	"userscript-engine/internal/scheduler"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed origin patterns for CORS and page sockets.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithHeadless enables the run endpoints and, when pool is non-nil, the
// headless page endpoints.
func WithHeadless(config headless.Config, pool *headless.Pool) ServerOption {
	return func(s *Server) {
		s.headlessConfig = &config
		s.pool = pool
	}
}

// WithEngine backs the dispatch preview with the scheduler engine.
func WithEngine(engine *scheduler.Engine) ServerOption {
	return func(s *Server) {
		s.engine = engine
	}
}

// Server is the HTTP server for the script API and the page bridge.
type Server struct {
	scripts        *registry.Registry
	bus            *navigation.EventBus
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	headlessConfig *headless.Config
	pool           *headless.Pool
	engine         *scheduler.Engine
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server.
func NewServer(scripts *registry.Registry, bus *navigation.EventBus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		scripts: scripts,
		bus:     bus,
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Connected pages see every bus event.
	s.unsubEvents = bus.OnAll(func(event navigation.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s
}

// Pages returns the executor for pages connected over the socket bridge.
func (s *Server) Pages() *WSHub {
	return s.wsHub
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/scripts", s.handleAPIListScripts)
	s.mux.HandleFunc("POST /api/scripts", s.handleAPICreateScript)
	s.mux.HandleFunc("POST /api/scripts/import", s.handleAPIImportScript)
	s.mux.HandleFunc("POST /api/scripts/_inline/run", s.handleAPIRunInline)
	s.mux.HandleFunc("GET /api/scripts/{name}", s.handleAPIGetScript)
	s.mux.HandleFunc("PUT /api/scripts/{name}", s.handleAPIUpdateScript)
	s.mux.HandleFunc("DELETE /api/scripts/{name}", s.handleAPIDeleteScript)
	s.mux.HandleFunc("POST /api/scripts/{name}/toggle", s.handleAPIToggleScript)
	s.mux.HandleFunc("POST /api/scripts/{name}/run", s.handleAPIRunScript)
	s.mux.HandleFunc("GET /api/dispatch", s.handleAPIDispatch)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Headless pages
	s.mux.HandleFunc("POST /api/pages", s.handleAPIOpenPage)
	s.mux.HandleFunc("GET /api/pages/{id}", s.handleAPIGetPage)
	s.mux.HandleFunc("DELETE /api/pages/{id}", s.handleAPIClosePage)

	// Page bridge
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		var key string
		protected := true
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/"):
			key = r.Header.Get("X-API-Key")
		case r.URL.Path == "/ws":
			// Browsers cannot set headers on a WebSocket upgrade.
			key = r.URL.Query().Get("key")
			if key == "" {
				key = r.Header.Get("X-API-Key")
			}
		default:
			protected = false
		}
		if protected && subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
