// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultPath is where metrics are served when Server.Path is empty.
const DefaultPath = "/metrics"

// Server exposes a Prometheus registry over HTTP.
type Server struct {
	Addr string
	Path string

	gatherer prometheus.Gatherer
	log      *zap.Logger
}

// NewServer creates a server for the metrics in g.
func NewServer(addr string, g prometheus.Gatherer, log *zap.Logger) *Server {
	return &Server{
		Addr:     addr,
		Path:     DefaultPath,
		gatherer: g,
		log:      log.With(zap.String("metrics", addr)),
	}
}

// Handler returns the HTTP handler serving the metrics page.
func (s *Server) Handler() http.Handler {
	path := s.Path
	if path == "" {
		path = DefaultPath
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Serve accepts connections on l until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	server := &http.Server{Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Error shutting down metrics server", zap.Error(err))
		}
	}()

	s.log.Info("Serving metrics", zap.String("path", s.Path))
	if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("Metrics server failed: %w", err)
	}
	return nil
}

// Start listens on s.Addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("Failed to listen for metrics: %w", err)
	}
	return s.Serve(ctx, l)
}
