// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session persists chat sessions as one JSON file per session
// under a session directory. Writes are atomic: a temp file in the same
// directory is renamed over the target so a crash never leaves a
// half-written session.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// sessionFileMode is the permission for session files; sessions carry
// conversation content and stay owner-only.
const sessionFileMode = 0o600

// sessionDirMode is the permission for the session directory.
const sessionDirMode = 0o700

// Store reads and writes chat sessions in a directory.
//
// Thread Safety: Store methods are safe for concurrent use on distinct
// sessions. Callers must not run two agent loops on the same session
// concurrently; the loop owns its session for the duration of a run.
type Store struct{}

// NewStore creates a file-backed session store.
func NewStore() *Store {
	return &Store{}
}

// LoadOrCreate returns the stored session with the given ID, creating
// and persisting a fresh one when none exists. An empty sessionID gets
// a generated UUID. When systemPrompt is non-empty a new session opens
// with it as the first message.
func (s *Store) LoadOrCreate(sessionDir, sessionID, systemPrompt string) (*datatypes.ChatSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}

	path, err := sessionPath(sessionDir, sessionID)
	if err != nil {
		return nil, &agent.StoreError{Op: "load", SessionID: sessionID, Err: err}
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var session datatypes.ChatSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, &agent.StoreError{Op: "load", SessionID: sessionID,
				Err: fmt.Errorf("corrupt session file %s: %w", path, err)}
		}
		return &session, nil
	}
	if !os.IsNotExist(err) {
		return nil, &agent.StoreError{Op: "load", SessionID: sessionID, Err: err}
	}

	now := time.Now().UTC()
	session := &datatypes.ChatSession{
		ID:        sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if systemPrompt != "" {
		session.Append(datatypes.RoleSystem, systemPrompt)
	}
	if err := s.Save(sessionDir, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Save persists the session atomically, bumping UpdatedAt.
func (s *Store) Save(sessionDir string, session *datatypes.ChatSession) error {
	path, err := sessionPath(sessionDir, session.ID)
	if err != nil {
		return &agent.StoreError{Op: "save", SessionID: session.ID, Err: err}
	}
	if err := os.MkdirAll(sessionDir, sessionDirMode); err != nil {
		return &agent.StoreError{Op: "save", SessionID: session.ID, Err: err}
	}

	session.UpdatedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return &agent.StoreError{Op: "save", SessionID: session.ID, Err: err}
	}

	tmp, err := os.CreateTemp(sessionDir, "."+session.ID+".tmp-*")
	if err != nil {
		return &agent.StoreError{Op: "save", SessionID: session.ID, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return &agent.StoreError{Op: "save", SessionID: session.ID, Err: err}
	}
	if err := tmp.Chmod(sessionFileMode); err != nil {
		tmp.Close()
		return &agent.StoreError{Op: "save", SessionID: session.ID, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &agent.StoreError{Op: "save", SessionID: session.ID, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &agent.StoreError{Op: "save", SessionID: session.ID, Err: err}
	}
	return nil
}

// Reset discards any stored state for the session and recreates it
// fresh, optionally reopened with systemPrompt.
func (s *Store) Reset(sessionDir, sessionID, systemPrompt string) (*datatypes.ChatSession, error) {
	path, err := sessionPath(sessionDir, sessionID)
	if err != nil {
		return nil, &agent.StoreError{Op: "reset", SessionID: sessionID, Err: err}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, &agent.StoreError{Op: "reset", SessionID: sessionID, Err: err}
	}
	return s.LoadOrCreate(sessionDir, sessionID, systemPrompt)
}

// List returns the session IDs stored in the directory.
func (s *Store) List(sessionDir string) ([]string, error) {
	entries, err := os.ReadDir(sessionDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &agent.StoreError{Op: "list", SessionID: "", Err: err}
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// sessionPath validates the session ID and maps it to its file path.
// IDs never traverse directories.
func sessionPath(sessionDir, sessionID string) (string, error) {
	if strings.ContainsAny(sessionID, "/\\") || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(sessionDir, sessionID+".json"), nil
}
