// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sessionwatch/sessionwatch/internal/config"
	"github.com/sessionwatch/sessionwatch/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// Server runs the status API HTTP server.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the HTTP server around the router.
func NewServer(cfg config.ServerConfig, h *Handler) *Server {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           Routes(h),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
			IdleTimeout:       2 * timeout,
		},
	}
}

// Start begins serving. Returns once the listener is bound; serving
// continues in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}

	logging.Info().Str("addr", s.httpServer.Addr).Msg("Status API listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("Status API server failed")
		}
	}()
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("Status API shutdown incomplete")
	}
	logging.Info().Msg("Status API stopped")
}
