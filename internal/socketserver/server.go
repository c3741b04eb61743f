package socketserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/codefionn/scee/internal/config"
	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/metrics"
)

// Storage is the store plus its schema bootstrap
type Storage interface {
	Store
	InitSchema(ctx context.Context) error
}

// AuthService is an Authenticator with its own lifecycle
type AuthService interface {
	Authenticator
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options configures a Server
type Options struct {
	ListenAddr        string
	WebSocketAddr     string // empty disables the WebSocket listener
	HistoryLimit      int
	MaxConnections    int
	MessagesPerSecond float64
	RateBurst         int
	Metrics           *metrics.Metrics
}

// OptionsFromConfig maps the server configuration onto Options
func OptionsFromConfig(cfg *config.Config, m *metrics.Metrics) Options {
	return Options{
		ListenAddr:        cfg.ListenAddr,
		WebSocketAddr:     cfg.WebSocketAddr,
		HistoryLimit:      cfg.HistoryLimit,
		MaxConnections:    cfg.MaxConnections,
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		RateBurst:         cfg.RateLimit.Burst,
		Metrics:           m,
	}
}

// Server accepts chat connections over TCP and, optionally, WebSocket
type Server struct {
	opts    Options
	storage Storage
	auth    AuthService
	hub     *Hub
	env     *handlerEnv

	listener   net.Listener
	wsListener net.Listener
	wsServer   *http.Server
	upgrader   websocket.Upgrader
	group      *errgroup.Group

	// Control
	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopErr  error

	// Connection ID counter
	connIDCounter atomic.Uint64
}

// NewServer creates a server backed by storage and auth
func NewServer(opts Options, storage Storage, auth AuthService) *Server {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = consts.DefaultHistoryLimit
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = consts.DefaultMaxConnections
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = consts.DefaultMessagesPerSecond
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = consts.DefaultRateBurst
	}

	hub := NewHub(opts.Metrics)
	s := &Server{
		opts:    opts,
		storage: storage,
		auth:    auth,
		hub:     hub,
		env: &handlerEnv{
			store:        storage,
			auth:         auth,
			historyLimit: opts.HistoryLimit,
			rateLimit:    rate.Limit(opts.MessagesPerSecond),
			rateBurst:    opts.RateBurst,
			metrics:      opts.Metrics,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  consts.BufferSize1KB,
			WriteBufferSize: consts.BufferSize1KB,
		},
	}

	names := make([]string, 0, len(States))
	byName := make(map[string]State, len(States))
	for _, st := range States {
		names = append(names, st.String())
		byName[st.String()] = st
	}
	opts.Metrics.RegisterSessionGauge(names, func(name string) int {
		return hub.CountByState(byName[name])
	})

	return s
}

// Start initializes storage, starts the auth worker, and binds the
// listeners. Connections are accepted in the background until Stop; use
// Wait to block on the accept loops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	if err := s.storage.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := s.auth.Start(ctx); err != nil {
		return fmt.Errorf("failed to start auth worker: %w", err)
	}

	listener, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		s.stopAuth()
		return fmt.Errorf("failed to listen on %s: %w", s.opts.ListenAddr, err)
	}
	s.listener = netutil.LimitListener(listener, s.opts.MaxConnections)

	if s.opts.WebSocketAddr != "" {
		wsListener, err := net.Listen("tcp", s.opts.WebSocketAddr)
		if err != nil {
			s.listener.Close()
			s.stopAuth()
			return fmt.Errorf("failed to listen on %s: %w", s.opts.WebSocketAddr, err)
		}
		s.wsListener = netutil.LimitListener(wsListener, s.opts.MaxConnections)

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.handleWebSocket(ctx))
		s.wsServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: consts.Timeout10Seconds,
			ErrorLog:          logger.NewStdLogger(logger.Global().WithPrefix("ws"), slog.LevelWarn),
		}
	}

	// Handlers outlive ctx: Stop does not cut off connected clients
	connCtx := context.WithoutCancel(ctx)

	s.group = new(errgroup.Group)
	s.group.Go(func() error {
		return s.acceptLoop(connCtx)
	})
	if s.wsServer != nil {
		s.group.Go(func() error {
			if err := s.wsServer.Serve(s.wsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("websocket server: %w", err)
			}
			return nil
		})
		logger.Info("WebSocket listener on %s", s.wsListener.Addr())
	}

	s.running = true
	logger.Info("Chat server listening on %s (max connections: %d)", s.listener.Addr(), s.opts.MaxConnections)
	return nil
}

// Wait blocks until every listener has stopped
func (s *Server) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop closes the listeners and shuts the auth worker down. Connected
// clients are left to finish on their own. Calling Stop again returns the
// first result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		logger.Info("Stopping chat server...")

		s.mu.Lock()
		defer s.mu.Unlock()

		var errs []error
		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, fmt.Errorf("failed to close listener: %w", err))
			}
		}
		if s.wsServer != nil {
			if err := s.wsServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop websocket server: %w", err))
			}
		}
		if s.running {
			if err := s.auth.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop auth worker: %w", err))
			}
		}

		s.running = false
		s.stopErr = errors.Join(errs...)
		logger.Info("Chat server stopped (%d clients still connected)", s.hub.Count())
	})
	return s.stopErr
}

func (s *Server) stopAuth() {
	ctx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
	defer cancel()
	if err := s.auth.Stop(ctx); err != nil {
		logger.Warn("failed to stop auth worker: %v", err)
	}
}

// acceptLoop accepts connections until the listener is closed
func (s *Server) acceptLoop(ctx context.Context) error {
	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Info("Listener closed, exiting accept loop")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				backoff = min(max(backoff*2, 5*time.Millisecond), consts.Timeout1Second)
				logger.Warn("Temporary accept error: %v; retrying in %s", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		backoff = 0

		s.serveTransport(ctx, newLineTransport(conn))
	}
}

func (s *Server) handleWebSocket(ctx context.Context) http.HandlerFunc {
	connCtx := context.WithoutCancel(ctx)
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("WebSocket upgrade failed: %v", err)
			return
		}
		s.serveTransport(connCtx, newWSTransport(conn))
	}
}

func (s *Server) serveTransport(ctx context.Context, transport Transport) {
	client := newClient(s.generateConnectionID(), transport, s.hub, s.env)
	logger.Info("New connection accepted: %s from %s", client.ID, client.Addr)
	go client.Serve(ctx)
}

// generateConnectionID generates a unique connection ID
func (s *Server) generateConnectionID() string {
	return fmt.Sprintf("conn_%d", s.connIDCounter.Add(1))
}

// Addr returns the TCP listener address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WebSocketAddr returns the WebSocket listener address, or nil
func (s *Server) WebSocketAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Addr()
}

// Hub returns the session registry
func (s *Server) Hub() *Hub {
	return s.hub
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
