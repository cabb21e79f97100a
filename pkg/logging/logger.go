// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers used by vizpipe commands.
//
// A Logger always writes to its primary writer (stderr for the CLI) and can
// additionally append JSON records to a daily file under LogDir:
//
//	logger, err := logging.New(logging.Config{
//	    Level:   "info",
//	    Format:  "auto",
//	    Writer:  os.Stderr,
//	    LogDir:  "~/.vizpipe/logs",
//	    Service: "vizpipe",
//	})
//	defer logger.Close()
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Output formats accepted by Config.Format.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

var (
	// ErrInvalidLevel is returned when Config.Level does not name a slog level.
	ErrInvalidLevel = errors.New("invalid log level")

	// ErrInvalidFormat is returned when Config.Format is not auto, text or json.
	ErrInvalidFormat = errors.New("invalid log format")
)

// Config configures a Logger. The zero value logs info and above to stderr,
// as text on a terminal and JSON otherwise.
type Config struct {
	// Level is a slog level name: debug, info, warn or error.
	Level string

	// Format is auto, text or json. Auto picks text only for terminals.
	Format string

	// Writer is the primary destination. Default: os.Stderr.
	Writer io.Writer

	// LogDir enables an additional JSON log file named
	// "{Service}_{YYYY-MM-DD}.log". A leading ~ expands to the home directory.
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string
}

// Logger wraps a slog.Logger together with the optional log file it owns.
type Logger struct {
	slog *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New creates a Logger from config.
//
// Description:
//
//	Parses the level and format, opens the log file when LogDir is set and
//	fans records out to every destination.
//
// Inputs:
//
//	config - Logger settings. Empty fields take their defaults.
//
// Outputs:
//
//	*Logger - The logger. Callers must Close it when LogDir is set.
//	error - ErrInvalidLevel, ErrInvalidFormat, or a file error.
func New(config Config) (*Logger, error) {
	level := config.Level
	if level == "" {
		level = "info"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	w := config.Writer
	if w == nil {
		w = os.Stderr
	}

	var primary slog.Handler
	switch strings.ToLower(config.Format) {
	case "", FormatAuto:
		if IsTerminal(w) {
			primary = slog.NewTextHandler(w, opts)
		} else {
			primary = slog.NewJSONHandler(w, opts)
		}
	case FormatText:
		primary = slog.NewTextHandler(w, opts)
	case FormatJSON:
		primary = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("%w: %q, want auto, text or json", ErrInvalidFormat, config.Format)
	}

	logger := &Logger{}
	handler := primary
	if config.LogDir != "" {
		file, err := openLogFile(expandPath(config.LogDir), config.Service)
		if err != nil {
			return nil, err
		}
		logger.file = file
		handler = &multiHandler{handlers: []slog.Handler{primary, slog.NewJSONHandler(file, opts)}}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	logger.slog = slog.New(handler)
	return logger, nil
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes and closes the log file, if any. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func openLogFile(dir, service string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	if service == "" {
		service = "vizpipe"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return file, nil
}

// multiHandler sends each record to every handler that accepts its level.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
