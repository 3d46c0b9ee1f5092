package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Kritesh10/real-time-chat-app/internal/relay"
	"github.com/Kritesh10/real-time-chat-app/internal/store"
	"github.com/Kritesh10/real-time-chat-app/internal/users"
)

// Server owns the hub, the relay manager and the HTTP server in front of them.
type Server struct {
	cfg      *Config
	logger   zerolog.Logger
	store    store.Store
	users    *users.Service
	manager  *relay.Manager
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	http     *http.Server

	hubOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithUsers replaces the user service built from the store.
func WithUsers(svc *users.Service) Option {
	return func(s *Server) {
		if svc != nil {
			s.users = svc
		}
	}
}

// New builds a Server on top of st. The hub is not running until StartHub or
// Start is called.
func New(cfg *Config, st store.Store, logger zerolog.Logger, opts ...Option) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		users:   users.NewService(st),
		manager: relay.NewManager(st, logger, relay.WithHistoryLimit(cfg.HistoryLimit)),
		hub:     NewHub(logger),
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.http = CreateServer(cfg.Port, s.Handler())
	return s
}

// Manager returns the relay manager driven by this server's clients.
func (s *Server) Manager() *relay.Manager {
	return s.manager
}

// Hub returns the hub supervising this server's clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StartHub starts the hub's event loop once.
func (s *Server) StartHub() {
	s.hubOnce.Do(func() {
		go s.hub.Run()
	})
}

// CreateServer creates and configures the HTTP server with security settings
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Start runs the hub and serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.StartHub()
	s.logger.Info().Str("addr", s.http.Addr).Msg("server listening")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every WebSocket client and
// waits for their disconnects to be processed, all within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")

	httpErr := s.http.Shutdown(ctx)

	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	s.StartHub()
	hubErr := s.hub.Shutdown(timeout)

	return errors.Join(httpErr, hubErr)
}
