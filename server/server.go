// Package server exposes the orchestration engine over HTTP, with a
// websocket endpoint for audio sessions and plain status endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	orchestration "github.com/Cirilla-zmh/asr-demo/core"
)

type Server struct {
	engine *orchestration.Engine
	server *http.Server
}

type ServerOption func(*Server)

func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		if addr != "" {
			s.server.Addr = addr
		}
	}
}

func NewServer(engine *orchestration.Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine: engine,
		server: &http.Server{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/asr", s.handleASR)
	mux.Handle("/", otelhttp.NewHandler(http.HandlerFunc(s.handleRoot), "status"))
	mux.Handle("/health", otelhttp.NewHandler(http.HandlerFunc(s.handleHealth), "health"))
	s.server.Handler = mux

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logger.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, closes all active sessions and
// drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.engine.Close()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
