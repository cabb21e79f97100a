// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/AleutianAI/vizpipe/services/pipeline/journal"
)

// requestLogger tags the logger with the request id, minting one if the
// client sent none.
func (s *Server) requestLogger(c *gin.Context, handler string) *slog.Logger {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return s.logger.With(slog.String("request_id", id), slog.String("handler", handler))
}

// HandleHealth handles GET /v1/pipeline/health.
func (s *Server) HandleHealth(c *gin.Context) {
	s.mu.Lock()
	b := s.built()
	resp := HealthResponse{
		Status:   "healthy",
		Version:  Version,
		Pipeline: b.Definition.Name,
		Nodes:    len(b.Pipeline.Nodes()),
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, resp)
}

// HandleNodes handles GET /v1/pipeline/nodes.
func (s *Server) HandleNodes(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.built()
	nodes := b.Pipeline.Nodes()
	out := make([]NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, summarizeNode(b, n))
	}
	c.JSON(http.StatusOK, out)
}

// HandleNode handles GET /v1/pipeline/nodes/:name.
func (s *Server) HandleNode(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, n, ok := s.node(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summarizeNode(b, n))
}

// HandleNodeInfo handles GET /v1/pipeline/nodes/:name/info.
//
// Description:
//
//	Returns the exported Information of every output port: the
//	capabilities published by the information pass and the request of the
//	last update. Empty until the first update.
func (s *Server) HandleNodeInfo(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, n, ok := s.node(c)
	if !ok {
		return
	}
	ports := make([]PortInfo, 0, n.NumberOfOutputPorts())
	for i, p := range n.OutputPorts() {
		pi := PortInfo{Port: i, Name: p.Name, Info: map[string]any{}}
		if in := n.OutputInformation(i); in != nil {
			pi.Info = in.Export()
		}
		ports = append(ports, pi)
	}
	c.JSON(http.StatusOK, ports)
}

// HandleNodeOutput handles GET /v1/pipeline/nodes/:name/output/:port.
func (s *Server) HandleNodeOutput(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, n, ok := s.node(c)
	if !ok {
		return
	}
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil || port < 0 || port >= n.NumberOfOutputPorts() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid output port", Code: "INVALID_PORT"})
		return
	}
	d := n.Output(port)
	if d == nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "output not generated yet", Code: "NO_OUTPUT"})
		return
	}
	c.JSON(http.StatusOK, summarizeOutput(d))
}

// HandleUpdate handles POST /v1/pipeline/update.
//
// Description:
//
//	Runs an update on the served pipeline. With no body the definition's
//	update section is used. With a body, its sinks, piece, extent and
//	time override it; "information": true runs only the information pass.
//
// Response:
//
//	200 OK: executive.Result
//	400 Bad Request: Malformed body or invalid request
//	404 Not Found: Unknown sink
//	409 Conflict: Another update is running
//	422 Unprocessable Entity: A node failed; body carries the Result
func (s *Server) HandleUpdate(c *gin.Context) {
	logger := s.requestLogger(c, "HandleUpdate")

	body := UpdateBody{}
	hasBody := false
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			logger.Warn("invalid request body", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: "INVALID_REQUEST"})
			return
		}
		hasBody = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.built()
	ctx := c.Request.Context()

	var result *executive.Result
	var err error
	switch {
	case body.Information:
		roots, rerr := b.Resolve(body.Sinks)
		if rerr != nil {
			err = rerr
			break
		}
		result, err = b.Pipeline.UpdateInformation(ctx, roots)
	case hasBody:
		result, err = b.UpdateWith(ctx, body.UpdateDef)
	default:
		result, err = b.Update(ctx)
	}

	if err != nil {
		status, code := statusFor(err)
		logger.Warn("update failed", slog.String("error", err.Error()), slog.Int("status", status))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, Result: result})
		return
	}
	logger.Info("update served",
		slog.String("session_id", result.SessionID),
		slog.Int("executed", len(result.Executed)),
	)
	c.JSON(http.StatusOK, result)
}

func statusFor(err error) (int, string) {
	var ee *executive.ExecutionError
	switch {
	case errors.Is(err, executive.ErrReentrantUpdate):
		return http.StatusConflict, "UPDATE_IN_PROGRESS"
	case errors.Is(err, executive.ErrNodeNotFound):
		return http.StatusNotFound, "NODE_NOT_FOUND"
	case errors.Is(err, executive.ErrInvalidRequest), errors.Is(err, executive.ErrNoRoots):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.As(err, &ee):
		return http.StatusUnprocessableEntity, "EXECUTION_FAILED"
	default:
		return http.StatusBadRequest, "INVALID_REQUEST"
	}
}

// HandleSessions handles GET /v1/pipeline/sessions.
func (s *Server) HandleSessions(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "journal not configured", Code: "JOURNAL_DISABLED"})
		return
	}
	sessions, err := s.journal.Sessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "JOURNAL_ERROR"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// HandleSession handles GET /v1/pipeline/sessions/:id.
func (s *Server) HandleSession(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "journal not configured", Code: "JOURNAL_DISABLED"})
		return
	}
	events, err := s.journal.Session(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, journal.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SESSION_NOT_FOUND"})
	case errors.Is(err, journal.ErrInvalidSession):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_SESSION"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "JOURNAL_ERROR"})
	default:
		c.JSON(http.StatusOK, events)
	}
}

// HandleMetrics handles GET /v1/pipeline/metrics.
func (s *Server) HandleMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "metrics exporter not enabled", Code: "METRICS_DISABLED"})
		return
	}
	s.metrics.ServeHTTP(c.Writer, c.Request)
}
