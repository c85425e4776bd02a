package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MEKXH/gatekeep/internal/config"
)

// Server is the HTTP surface of the control plane.
type Server struct {
	cfg        config.GatewayConfig
	handler    http.Handler
	httpServer *http.Server
}

// New builds a server listening on cfg's host and port.
func New(cfg config.GatewayConfig, deps Deps) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18790
	}
	cfg.Host = host
	cfg.Port = port

	if deps.Token == "" {
		deps.Token = cfg.Token
	}
	if deps.RateLimit.MaxRequests == 0 {
		deps.RateLimit = RateLimit{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		}
	}
	return &Server{
		cfg:     cfg,
		handler: NewHandler(deps),
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
