// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package metric

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves a Registry's metrics over HTTP at /metrics for Prometheus
// to scrape, grounded on the pack's own promhttp.Handler-plus-http.Server
// wiring for a dedicated metrics listener.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a Server bound to addr, not yet listening.
func NewServer(addr string, exporter *PrometheusExporter) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(exporter, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Serve blocks, listening and serving until the server is shut down.
// Returns nil on a clean Shutdown, any other error otherwise.
func (s *Server) Serve() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the listener, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
