// Package admin serves the operator endpoints of a running chat server:
// liveness of the auth worker, the connected sessions, and Prometheus
// metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codefionn/scee/internal/actor"
	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/socketserver"
)

// AuthHealth reports on the auth worker bridge
type AuthHealth interface {
	Health(ctx context.Context) actor.HealthReport
	WorkerAlive() bool
}

// Sessions lists connected sessions
type Sessions interface {
	Snapshot() []socketserver.SessionInfo
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string             `json:"status"`
	WorkerAlive bool               `json:"worker_alive"`
	Sessions    int                `json:"sessions"`
	Auth        actor.HealthReport `json:"auth"`
}

// Server provides the admin HTTP interface
type Server struct {
	addr     string
	auth     AuthHealth
	sessions Sessions
	registry *prometheus.Registry
	router   *httprouter.Router
	pprof    bool

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option configures a Server
type Option func(*Server)

// WithProfiling serves the runtime profiles under /debug/pprof
func WithProfiling() Option {
	return func(s *Server) { s.pprof = true }
}

// NewServer creates an admin server. A nil registry disables /metrics.
func NewServer(addr string, auth AuthHealth, sessions Sessions, registry *prometheus.Registry, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		auth:     auth,
		sessions: sessions,
		registry: registry,
		router:   httprouter.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/sessions", s.handleSessions)
	if s.registry != nil {
		s.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			ErrorLog: logger.NewStdLogger(logger.Global().WithPrefix("metrics"), slog.LevelError),
		}))
	}
	if s.pprof {
		s.router.GET("/debug/pprof/*name", handlePprof)
	}
}

// Handler returns the router, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("admin server already started")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: consts.Timeout10Seconds,
		ErrorLog:          logger.NewStdLogger(logger.Global().WithPrefix("admin"), slog.LevelWarn),
	}

	server := s.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server: %v", err)
		}
	}()

	logger.Info("Admin server listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	report := s.auth.Health(r.Context())
	resp := HealthResponse{
		Status:      "ok",
		WorkerAlive: s.auth.WorkerAlive(),
		Sessions:    len(s.sessions.Snapshot()),
		Auth:        report,
	}

	code := http.StatusOK
	if !resp.WorkerAlive || report.Status == actor.HealthStatusUnhealthy {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.sessions.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write admin response: %v", err)
	}
}
