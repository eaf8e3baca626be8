// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contextguard

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// summaryGroupKeep is how many trailing lines each tagged group keeps in
// the summary document.
const summaryGroupKeep = 5

// summaryLineClip clips each extracted line in the summary document.
const summaryLineClip = 700

// summaryGroups are the tagged line groups extracted into the summary,
// in render order. Some tag prefixes are strict prefixes of others
// ([WORKER_TOOL_ vs [WORKER_TOOL_RESULT_, [WORKER_ASK_ vs
// [WORKER_ASK_ANSWER_), so those groups carry the longer prefix as an
// exclusion to keep each line in exactly one group.
var summaryGroups = []struct {
	title   string
	prefix  string
	exclude string
}{
	{title: "Goals", prefix: agent.TagAgentGoalPrefix},
	{title: "Tool commands", prefix: agent.TagWorkerToolPrefix, exclude: agent.TagWorkerToolResultPrefix},
	{title: "Tool results", prefix: agent.TagWorkerToolResultPrefix},
	{title: "Questions asked", prefix: agent.TagWorkerAskPrefix, exclude: agent.TagWorkerAskAnswerPrefix},
	{title: "User answers", prefix: agent.TagWorkerAskAnswerPrefix},
	{title: "Main guidance", prefix: agent.TagMainGuidancePrefix},
}

// failLineMarker selects failure entries of every kind for the summary.
const failLineMarker = "_FAIL"

// BuildCompactionSummaryDocument renders the summary that replaces the
// bulk of a session's history: run status, then the tail of each tagged
// line group, then the latest non-empty assistant reply.
func BuildCompactionSummaryDocument(goal string, runtime *agent.LoopRuntime, messages []datatypes.ChatMessage) string {
	var sb strings.Builder

	sb.WriteString(Marker)
	sb.WriteString(" Conversation history was compacted to stay within the model context window.\n")
	fmt.Fprintf(&sb, "Current goal: %s\n", goal)
	fmt.Fprintf(&sb, "Current step: %d\n", runtime.Step)
	fmt.Fprintf(&sb, "Evidence items collected: %d\n", len(runtime.Evidence))

	for _, group := range summaryGroups {
		lines := collectTagged(messages, func(content string) bool {
			if !strings.HasPrefix(content, group.prefix) {
				return false
			}
			return group.exclude == "" || !strings.HasPrefix(content, group.exclude)
		})
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n%s:\n", group.title)
		for _, line := range lines {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	failures := collectTagged(messages, func(content string) bool {
		return agent.IsLoopTagged(content) && strings.Contains(content, failLineMarker)
	})
	if len(failures) > 0 {
		sb.WriteString("\nFailures:\n")
		for _, line := range failures {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == datatypes.RoleAssistant && strings.TrimSpace(messages[i].Content) != "" {
			sb.WriteString("\nLatest assistant reply:\n")
			sb.WriteString(clip(messages[i].Content, summaryLineClip))
			sb.WriteString("\n")
			break
		}
	}

	return sb.String()
}

// collectTagged returns the clipped tail of all message contents
// matching the predicate.
func collectTagged(messages []datatypes.ChatMessage, match func(string) bool) []string {
	var lines []string
	for _, msg := range messages {
		if strings.HasPrefix(msg.Content, Marker) {
			continue
		}
		if match(msg.Content) {
			lines = append(lines, clip(msg.Content, summaryLineClip))
		}
	}
	if len(lines) > summaryGroupKeep {
		lines = lines[len(lines)-summaryGroupKeep:]
	}
	return lines
}

// clip truncates s to max chars.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// BuildCompactedSessionMessages rebuilds a session's history under
// targetTokens: at most one base system message, the new summary as a
// system message, then a recent window that is shrunk from the head,
// clipped, and shrunk again until the budget holds or one recent
// message remains. Prior compaction summaries are dropped and the
// result is deduplicated by (role, content).
func BuildCompactedSessionMessages(session *datatypes.ChatSession, summaryDoc string, targetTokens int) []datatypes.ChatMessage {
	// Drop prior summaries; find the base system message.
	var base *datatypes.ChatMessage
	var rest []datatypes.ChatMessage
	for i := range session.Messages {
		msg := session.Messages[i]
		if strings.HasPrefix(msg.Content, Marker) {
			continue
		}
		if base == nil && msg.Role == datatypes.RoleSystem && !agent.IsLoopTagged(msg.Content) {
			base = &msg
			continue
		}
		rest = append(rest, msg)
	}

	recent := rest
	if len(recent) > MaxRecent {
		recent = recent[len(recent)-MaxRecent:]
	}
	recent = append([]datatypes.ChatMessage{}, recent...)

	assemble := func(window []datatypes.ChatMessage) []datatypes.ChatMessage {
		out := make([]datatypes.ChatMessage, 0, len(window)+2)
		if base != nil {
			out = append(out, *base)
		}
		out = append(out, datatypes.ChatMessage{Role: datatypes.RoleSystem, Content: summaryDoc})
		out = append(out, window...)
		return dedupeMessages(out)
	}
	tokens := func(msgs []datatypes.ChatMessage) int {
		total := 0
		for _, m := range msgs {
			total += EstimateMessageTokens(m)
		}
		return total
	}

	// Pass 1: shrink the window from the head down to MinRecent.
	for len(recent) > MinRecent && tokens(assemble(recent)) > targetTokens {
		recent = recent[1:]
	}

	// Pass 2: clip each remaining message.
	if tokens(assemble(recent)) > targetTokens {
		for i := range recent {
			recent[i].Content = clip(recent[i].Content, ClipChars)
		}
	}

	// Pass 3: last resort, keep dropping down to one message.
	for len(recent) > 1 && tokens(assemble(recent)) > targetTokens {
		recent = recent[1:]
	}

	return assemble(recent)
}

// dedupeMessages removes later duplicates by (role, content).
func dedupeMessages(messages []datatypes.ChatMessage) []datatypes.ChatMessage {
	seen := make(map[string]bool, len(messages))
	out := messages[:0:0]
	for _, msg := range messages {
		key := msg.Role + "\x00" + msg.Content
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, msg)
	}
	return out
}
