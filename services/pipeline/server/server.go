// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes a built pipeline over HTTP.
//
// Endpoints (under /v1/pipeline):
//
//	GET  /health                 - Liveness and pipeline name
//	GET  /nodes                  - Node summaries
//	GET  /nodes/:name            - One node summary
//	GET  /nodes/:name/info       - Output port Information, exported
//	GET  /nodes/:name/output/:port - Output data summary
//	POST /update                 - Run an update (body optional)
//	GET  /sessions               - Journal session summaries
//	GET  /sessions/:id           - Journal events of one session
//	GET  /metrics                - Prometheus metrics (when enabled)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/vizpipe/services/pipeline/config"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/journal"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Source yields the pipeline to serve. *watch.Watcher satisfies it, so a
// served pipeline can be hot-reloaded.
type Source interface {
	Current() *config.Built
}

// Static serves one built pipeline.
type Static struct{ Built *config.Built }

// Current returns the pipeline.
func (s Static) Current() *config.Built { return s.Built }

// Options configures a Server.
type Options struct {
	// Journal backs the /sessions endpoints. Nil disables them.
	Journal *journal.Journal

	// Metrics serves /metrics. Nil disables it.
	Metrics http.Handler

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// ServiceName names the otelgin spans.
	ServiceName string
}

// Server holds the router and the handlers' shared state.
//
// Thread Safety: handlers that touch the pipeline hold one mutex, so
// requests are served one at a time against it.
type Server struct {
	src     Source
	journal *journal.Journal
	metrics http.Handler
	logger  *slog.Logger
	router  *gin.Engine

	mu sync.Mutex
}

// New builds the router.
//
// Inputs:
//
//	src - The pipeline source. Must not be nil.
//	opts - Optional journal, metrics handler and logger.
//
// Outputs:
//
//	*Server - Ready to Run or to use as an http.Handler.
func New(src Source, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "vizpipe"
	}
	s := &Server{
		src:     src,
		journal: opts.Journal,
		metrics: opts.Metrics,
		logger:  opts.Logger.With(slog.String("component", "server")),
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(opts.ServiceName))
	RegisterRoutes(s.router.Group("/v1"), s)
	return s
}

// Router returns the gin engine.
func (s *Server) Router() *gin.Engine { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// RegisterRoutes registers the /pipeline endpoints on rg.
func RegisterRoutes(rg *gin.RouterGroup, s *Server) {
	p := rg.Group("/pipeline")
	{
		p.GET("/health", s.HandleHealth)

		p.GET("/nodes", s.HandleNodes)
		p.GET("/nodes/:name", s.HandleNode)
		p.GET("/nodes/:name/info", s.HandleNodeInfo)
		p.GET("/nodes/:name/output/:port", s.HandleNodeOutput)

		p.POST("/update", s.HandleUpdate)

		p.GET("/sessions", s.HandleSessions)
		p.GET("/sessions/:id", s.HandleSession)

		p.GET("/metrics", s.HandleMetrics)
	}
}

// built returns the current pipeline. Callers hold s.mu.
func (s *Server) built() *config.Built {
	return s.src.Current()
}

func (s *Server) node(c *gin.Context) (*config.Built, *executive.Node, bool) {
	b := s.built()
	n, ok := b.Pipeline.Node(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("node %q not found", c.Param("name")),
			Code:  "NODE_NOT_FOUND",
		})
		return b, nil, false
	}
	return b, n, true
}
