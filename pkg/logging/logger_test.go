// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelDebug, LogDir: dir, Service: "test", Quiet: true})
	logger.Info("hello file", "key", "value")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %v (%v)", entries, err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), "hello file") {
		t.Fatalf("log file missing entry: %s", raw)
	}
	if !strings.Contains(string(raw), `"service"`) {
		t.Fatalf("log file missing service attribute: %s", raw)
	}
}

type recordingExporter struct {
	mu    sync.Mutex
	lines [][]byte
}

func (e *recordingExporter) Export(line []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lines = append(e.lines, line)
}

func (e *recordingExporter) Close() error { return nil }

func TestNew_Exporter(t *testing.T) {
	exporter := &recordingExporter{}
	logger := New(Config{Quiet: true, Exporter: exporter})
	logger.Info("shipped")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	exporter.mu.Lock()
	defer exporter.mu.Unlock()
	if len(exporter.lines) != 1 {
		t.Fatalf("expected one exported line, got %d", len(exporter.lines))
	}
	if !strings.Contains(string(exporter.lines[0]), "shipped") {
		t.Fatalf("exported line missing message: %s", exporter.lines[0])
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelWarn, LogDir: dir, Service: "filter", Quiet: true})
	logger.Info("dropped")
	logger.Warn("kept")
	_ = logger.Close()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected one log file")
	}
	raw, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if strings.Contains(string(raw), "dropped") {
		t.Fatalf("info entry should have been filtered: %s", raw)
	}
	if !strings.Contains(string(raw), "kept") {
		t.Fatalf("warn entry missing: %s", raw)
	}
}
