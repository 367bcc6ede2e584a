package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"schematic-pipeline/internal/config"

	"github.com/rs/zerolog"
)

// Server wraps http.Server with the configured timeouts and logs its
// lifecycle.
type Server struct {
	name   string
	server *http.Server
	log    *zerolog.Logger
}

func NewServer(name string, port int, handler http.Handler, cfg config.HTTPConfig, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", name+"_server").Logger()
	return &Server{
		name: name,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       2 * time.Minute,
		},
		log: &l,
	}
}

func (s *Server) Addr() string { return s.server.Addr }

// Start blocks until the listener stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", s.name, err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
