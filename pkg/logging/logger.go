// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for Kiska components.
//
// The logger layers three destinations on Go's slog package:
//
//   - Default: stderr output for CLI compatibility (Unix convention)
//   - Optional: file logging with automatic directory creation
//   - Optional: an Exporter hook for external log shipping
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("starting run", "session_id", sessionID)
//
// # File Logging
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelDebug,
//	    LogDir:  "~/.kiska/logs",
//	    Service: "cli",
//	})
//	defer logger.Close()
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", or "ERROR".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a config string onto a Level. Unknown values are Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Exporter ships log lines to an external system. Implementations must
// not block; failures are ignored so logging never disrupts the host.
type Exporter interface {
	Export(line []byte)
	Close() error
}

// Config configures the Logger. A zero value logs Info+ to stderr as
// text.
type Config struct {
	// Level is the minimum level kept.
	Level Level

	// LogDir enables file logging as {Service}_{date}.log. The file uses
	// the same format as stderr; it is JSON when JSON is set, or when
	// Quiet is set and stderr is off. A leading ~ expands to the home
	// directory.
	LogDir string

	// Service tags every entry and names the log file.
	Service string

	// JSON switches every destination's output to JSON.
	JSON bool

	// Quiet disables stderr output entirely.
	Quiet bool

	// Exporter optionally receives every line, in the same format as
	// the other destinations.
	Exporter Exporter
}

// Logger wraps slog with the layered destinations.
type Logger struct {
	*slog.Logger

	mu       sync.Mutex
	file     *os.File
	exporter Exporter
}

// Default returns a stderr-only Info logger.
func Default() *Logger {
	return New(Config{})
}

// New builds a logger from config. File-destination problems degrade to
// stderr-only logging rather than failing the caller.
func New(cfg Config) *Logger {
	logger := &Logger{exporter: cfg.Exporter}

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}
	if cfg.LogDir != "" {
		if file, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			logger.file = file
			writers = append(writers, file)
		} else {
			fmt.Fprintf(os.Stderr, "logging: file destination disabled: %v\n", err)
		}
	}
	if cfg.Exporter != nil {
		writers = append(writers, exporterWriter{cfg.Exporter})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}
	var handler slog.Handler
	if cfg.JSON || cfg.LogDir != "" && cfg.Quiet {
		handler = slog.NewJSONHandler(io.MultiWriter(writers...), opts)
	} else {
		handler = slog.NewTextHandler(io.MultiWriter(writers...), opts)
	}

	base := slog.New(handler)
	if cfg.Service != "" {
		base = base.With("service", cfg.Service)
	}
	logger.Logger = base
	return logger
}

// SetDefault installs the logger as slog's process default.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

// Close flushes and releases the file and exporter destinations.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			first = err
		}
		l.file = nil
	}
	if l.exporter != nil {
		if err := l.exporter.Close(); err != nil && first == nil {
			first = err
		}
		l.exporter = nil
	}
	return first
}

// exporterWriter adapts an Exporter to io.Writer.
type exporterWriter struct {
	exporter Exporter
}

func (w exporterWriter) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)
	w.exporter.Export(line)
	return len(p), nil
}

// openLogFile creates the dated log file under dir.
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "kiska"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().UTC().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
}

// expandHome resolves a leading ~ in path.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
