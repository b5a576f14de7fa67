package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/soyeahso/memarena/internal/arena"
	"github.com/soyeahso/memarena/internal/chat"
	"github.com/soyeahso/memarena/internal/config"
	"github.com/soyeahso/memarena/internal/hooks"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/version"
)

// Server is the memarena HTTP server.
type Server struct {
	cfg     config.Config
	log     *logging.Logger
	version string

	chat     *chat.Service
	arena    *arena.Client
	identity *arena.Identity
	hooks    *hooks.Manager

	// streams tracks chat responses still being written.
	streams sync.WaitGroup

	startedAt  time.Time
	httpServer *http.Server
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithChat sets the chat service behind /api/chat and /api/sessions.
func WithChat(svc *chat.Service) ServerOption {
	return func(s *Server) {
		s.chat = svc
	}
}

// WithArena sets the Arena client used by the document, upload and profile
// routes.
func WithArena(c *arena.Client) ServerOption {
	return func(s *Server) {
		s.arena = c
	}
}

// WithIdentity sets the main-domain identity client used by /api/profile.
func WithIdentity(id *arena.Identity) ServerOption {
	return func(s *Server) {
		s.identity = id
	}
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New creates a new server. Routes whose collaborator was not supplied answer
// 503.
func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log.Sub("gateway"),
		version: version.Version,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.arena == nil {
		s.arena = arena.NewClient("", nil, log)
	}
	if s.identity == nil {
		s.identity = arena.NewIdentity("", cfg.Identity.SessionCookie, nil)
	}
	return s
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the full handler: routes plus middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Server.AllowedOrigins)
}

// Start begins listening for HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Server)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: chat responses stay open for the whole stream.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.cfg.Server.Bind != "loopback" {
		s.log.Warn().Msg("listening beyond loopback: X-User-ID is trusted as sent")
	}

	s.startedAt = time.Now()
	s.httpServer.Addr = ln.Addr().String()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Server.Bind).
		Bool("arena", s.arena.Configured()).
		Msg("server ready")

	s.hooks.Emit(ctx, hooks.Payload{
		Event: hooks.EventGatewayStart,
		Data:  map[string]any{"addr": ln.Addr().String()},
	})

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down server")
		s.hooks.Emit(context.Background(), hooks.Payload{Event: hooks.EventGatewayStop})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("shutdown did not complete")
		}
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.streams.Wait()
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}
