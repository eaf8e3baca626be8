// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the wire and persistence types shared by the
// agent loop, the chat completion adapters, the sandbox executor, and the
// session store.
//
// Types here are deliberately free of behavior beyond validation and
// small convenience accessors so that every service can depend on this
// package without pulling in loop machinery.
package datatypes

import (
	"time"
)

// Message roles. These follow the standard OpenAI/Anthropic convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single turn in a chat session.
type ChatMessage struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role" validate:"required,oneof=system user assistant"`

	// Content is the text content of the turn.
	Content string `json:"content"`
}

// ChatSession is a persistent multi-turn conversation.
//
// The agent loop treats the message list as append-only; history rewrites
// happen only through session compaction, which replaces the whole slice
// in one operation before persisting.
type ChatSession struct {
	// ID uniquely identifies the session. Also used as the default
	// workspace group for sandbox execution.
	ID string `json:"id" validate:"required"`

	// CreatedAt is when the session was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped by the store on every save.
	UpdatedAt time.Time `json:"updated_at"`

	// Messages is the ordered conversation history.
	Messages []ChatMessage `json:"messages"`
}

// Append adds a message to the in-memory history.
//
// Callers inside the agent loop must go through the side-effect layer so
// the append is persisted; Append itself does not touch storage.
func (s *ChatSession) Append(role, content string) {
	s.Messages = append(s.Messages, ChatMessage{Role: role, Content: content})
}

// LastMessage returns the final message, or nil for an empty session.
func (s *ChatSession) LastMessage() *ChatMessage {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// LastAssistantContent returns the content of the most recent non-empty
// assistant message, or "" if none exists.
func (s *ChatSession) LastAssistantContent() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant && s.Messages[i].Content != "" {
			return s.Messages[i].Content
		}
	}
	return ""
}
