// Copyright (c) 2025 HostPulse authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"hostpulse/internal/handlers"
	"hostpulse/internal/sampler"
	"hostpulse/internal/telemetry"
	"hostpulse/internal/watcher"
)

// Server represents the HTTP server configuration and mux.
type Server struct {
	Addr         string
	Assets       fs.FS
	WriteTimeout time.Duration
	Mux          *http.ServeMux

	topics     *sampler.Topics
	metrics    *telemetry.Metrics
	watcher    *watcher.Service // nil unless assets come from a static dir
	log        logrus.FieldLogger
	httpServer *http.Server
	listener   net.Listener
}

// New creates a Server. w may be nil.
func New(addr string, assets fs.FS, topics *sampler.Topics, metrics *telemetry.Metrics, w *watcher.Service, log logrus.FieldLogger) *Server {
	return &Server{
		Addr:         addr,
		Assets:       assets,
		WriteTimeout: 10 * time.Second,
		Mux:          http.NewServeMux(),
		topics:       topics,
		metrics:      metrics,
		watcher:      w,
		log:          log.WithField("component", "server"),
	}
}

// Routes registers all HTTP handlers on the server mux.
func (s *Server) Routes() {
	deps := handlers.Deps{
		Log:          s.log,
		Metrics:      s.metrics,
		WriteTimeout: s.WriteTimeout,
	}

	s.Mux.HandleFunc("/health", handlers.HealthHandler(s.topics))
	s.Mux.HandleFunc("/api/version", handlers.VersionHandler)
	s.Mux.Handle("/metrics", s.metrics.Handler())

	// streaming
	s.Mux.Handle("/realtime/cpus", handlers.StreamHandler(s.topics.CPU, deps))
	s.Mux.Handle("/realtime/memory", handlers.StreamHandler(s.topics.Memory, deps))

	// polling
	s.Mux.Handle("/api/cpus", handlers.LatestHandler(s.topics.CPU))
	s.Mux.Handle("/api/memory", handlers.LatestHandler(s.topics.Memory))

	if s.watcher != nil {
		s.Mux.Handle("/api/events", handlers.EventsHandler(s.watcher.Events(), s.log))
	}

	s.Mux.Handle("/", handlers.AssetHandler(s.Assets))
}

// Start binds the listen address and serves in a goroutine. Bind errors are
// returned directly; the returned port is the one actually bound, which
// differs from the configured one when that is 0.
func (s *Server) Start() (int, error) {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return 0, fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	port := ln.Addr().(*net.TCPAddr).Port
	s.log.WithField("addr", ln.Addr().String()).Info("listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("server error")
		}
	}()
	return port, nil
}

// Shutdown stops accepting connections and closes the topics so that
// streaming handlers, which the http.Server does not track once hijacked,
// return as well.
func (s *Server) Shutdown(ctx context.Context) error {
	s.topics.Close()
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
