// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contextguard watches a session's token footprint and rebuilds
// the message history under budget when it grows past the trigger
// threshold. The arithmetic here is pure; the loop package owns the
// persistence and event side effects around it.
package contextguard

import (
	"fmt"

	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// Compaction constants.
const (
	// DefaultContextLength is assumed when no model declares a window.
	DefaultContextLength = 8192

	// TriggerRatio of the context limit starts a compaction.
	TriggerRatio = 0.85

	// TargetRatio of the context limit is the rebuild budget.
	TargetRatio = 0.55

	// MinMessages gates compaction: short sessions are never compacted.
	MinMessages = 24

	// MaxRecent is the recent-window size kept after the summary.
	MaxRecent = 24

	// MinRecent is the smallest recent window the first shrink pass may
	// leave; the last-resort pass may go below it.
	MinRecent = 6

	// ClipChars is the per-message clip applied when dropping messages
	// alone cannot reach the budget.
	ClipChars = 700

	// Marker opens every compaction summary document.
	Marker = "[SESSION_COMPACTION]"
)

// perMessageOverheadTokens approximates the per-message framing cost.
const perMessageOverheadTokens = 6

// EstimateMessageTokens approximates one message's token cost.
func EstimateMessageTokens(msg datatypes.ChatMessage) int {
	return (len(msg.Content)+3)/4 + perMessageOverheadTokens
}

// EstimateSessionTokens approximates the whole session's token cost.
func EstimateSessionTokens(session *datatypes.ChatSession) int {
	total := 0
	for _, msg := range session.Messages {
		total += EstimateMessageTokens(msg)
	}
	return total
}

// ResolveContextLimitTokens returns the effective context budget for a
// routed agent config.
func ResolveContextLimitTokens(routed *datatypes.ResolvedAgentConfig) int {
	return routed.ContextLimitTokens(DefaultContextLength)
}

// CompactionPlan is the decision record for one compaction check.
type CompactionPlan struct {
	// ShouldCompact is true when both the size and token gates trip.
	ShouldCompact bool

	// EstimatedTokens is the session's current estimate.
	EstimatedTokens int

	// TriggerTokens is floor(limit * TriggerRatio).
	TriggerTokens int

	// TargetTokens is floor(limit * TargetRatio).
	TargetTokens int

	// Signature fingerprints the session so a compaction that made no
	// progress is not retried until the session changes.
	Signature string
}

// ComputeCompactionPlan evaluates the compaction gates for a session.
func ComputeCompactionPlan(session *datatypes.ChatSession, limitTokens int) CompactionPlan {
	estimated := EstimateSessionTokens(session)
	plan := CompactionPlan{
		EstimatedTokens: estimated,
		TriggerTokens:   int(float64(limitTokens) * TriggerRatio),
		TargetTokens:    int(float64(limitTokens) * TargetRatio),
	}
	plan.ShouldCompact = len(session.Messages) >= MinMessages && estimated >= plan.TriggerTokens

	lastRole := ""
	lastLen := 0
	if last := session.LastMessage(); last != nil {
		lastRole = last.Role
		lastLen = len(last.Content)
	}
	plan.Signature = fmt.Sprintf("%d:%d:%s:%d", estimated, len(session.Messages), lastRole, lastLen)

	return plan
}
