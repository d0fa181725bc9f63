package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/docsync/pkg/collab"
	"github.com/vango-dev/docsync/pkg/middleware"
)

// Server exposes a collab.Manager over HTTP and WebSocket.
type Server struct {
	manager *collab.Manager
	config  *Config
	auth    *TokenAuthenticator

	upgrader websocket.Upgrader
	router   chi.Router

	httpServer *http.Server

	mu    sync.Mutex
	conns map[string]*wsConn

	logger *slog.Logger
}

// New creates a server for manager. A nil config uses DefaultConfig and a
// nil logger uses slog.Default.
func New(manager *collab.Manager, config *Config, logger *slog.Logger) *Server {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	if err := config.Validate(); err != nil {
		logger.Error("config validation failed", "error", err)
	}

	s := &Server{
		manager: manager,
		config:  config,
		auth:    NewTokenAuthenticator(config.JWTSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		conns:  make(map[string]*wsConn),
		logger: logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.OpenTelemetry(middleware.WithSkipPaths("/healthz", "/metrics")))
	r.Use(middleware.Prometheus(middleware.WithRegistry(s.config.Registerer)))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws/{documentID}", s.HandleWebSocket)
	return r
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Authenticator returns the token authenticator.
func (s *Server) Authenticator() *TokenAuthenticator {
	return s.auth
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	conns := len(s.conns)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"sessions":    s.manager.Registry().Len(),
		"connections": conns,
	})
}

// HandleWebSocket upgrades the request and attaches the connection to the
// document named in the path. It blocks until the connection closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	if documentID == "" {
		http.Error(w, "missing document id", http.StatusBadRequest)
		return
	}

	actor, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Info("websocket rejected",
			"document_id", documentID,
			"remote_addr", r.RemoteAddr,
			"error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSConn(uuid.NewString(), actor, ws, s.config, s.logger)
	s.track(c)
	defer s.untrack(c)
	go c.writeLoop()

	// Releasing flushes to the store; that must outlive the request.
	ctx := context.WithoutCancel(r.Context())

	if err := s.manager.Join(ctx, documentID, c); err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, collab.ErrManagerClosed) {
			code = websocket.CloseGoingAway
		}
		c.closeWith(code, "join refused")
		return
	}
	s.logger.Debug("websocket attached",
		"connection_id", c.ID(),
		"document_id", documentID,
		"actor", actor,
		"request_id", chimiddleware.GetReqID(r.Context()),
		"remote_addr", r.RemoteAddr)

	c.readLoop(func(msg []byte) {
		s.manager.Message(c.ID(), documentID, msg)
	})

	c.close()
	s.manager.Disconnect(ctx, c.ID())
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.WithoutCancel(ctx))
	}
}

// Shutdown stops accepting requests, flushes every session and closes the
// remaining connections.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
		}
	}

	err := s.manager.Shutdown(ctx)

	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	if err != nil {
		s.logger.Error("session flush failed during shutdown", "error", err)
		return err
	}
	s.logger.Info("server shutdown complete")
	return nil
}
