// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidence maintains the append-only evidence list for a run and
// produces the bounded summaries shown to the models.
package evidence

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// MaxSummaryEntries caps the deduplicated evidence summary shown to the
// main model.
const MaxSummaryEntries = 12

// AddToolResult appends a tool_result item built from result.
func AddToolResult(list []datatypes.EvidenceItem, result *datatypes.ToolResult) []datatypes.EvidenceItem {
	summary := fmt.Sprintf("runner=%s group=%s cmd=%s exit=%d stdout=%s stderr=%s",
		result.Runner,
		result.WorkspaceGroupID,
		result.Cmd,
		result.ExitCode,
		datatypes.FirstNonEmptyLine(result.Stdout, 160),
		datatypes.FirstNonEmptyLine(result.Stderr, 160),
	)
	detail := fmt.Sprintf("cmd: %s\nexit: %d\nstdout:\n%s\nstderr:\n%s",
		result.Cmd, result.ExitCode, result.Stdout, result.Stderr)
	return append(list, datatypes.EvidenceItem{
		Kind:    datatypes.EvidenceToolResult,
		Summary: summary,
		Detail:  detail,
	})
}

// AddUserAnswer appends a user_answer item for an ask exchange.
func AddUserAnswer(list []datatypes.EvidenceItem, question, answer string) []datatypes.EvidenceItem {
	return append(list, datatypes.EvidenceItem{
		Kind:    datatypes.EvidenceUserAnswer,
		Summary: fmt.Sprintf("Q: %s / A: %s", question, answer),
	})
}

// AddMainGuidance appends a main_guidance item.
func AddMainGuidance(list []datatypes.EvidenceItem, guidance string) []datatypes.EvidenceItem {
	return append(list, datatypes.EvidenceItem{
		Kind:    datatypes.EvidenceMainGuidance,
		Summary: guidance,
	})
}

// SummarizeForMain renders the evidence list for the main model:
// insertion order, deduplicated by (kind, summary), at most
// MaxSummaryEntries lines, each prefixed with its kind. Each line stands
// alone; callers join with newlines.
func SummarizeForMain(list []datatypes.EvidenceItem) []string {
	seen := make(map[string]bool, len(list))
	lines := make([]string, 0, MaxSummaryEntries)
	for _, item := range list {
		key := item.Kind + ":" + item.Summary
		if seen[key] {
			continue
		}
		seen[key] = true
		lines = append(lines, fmt.Sprintf("[%s] %s", item.Kind, item.Summary))
		if len(lines) >= MaxSummaryEntries {
			break
		}
	}
	return lines
}

// SummarizeRecentForWorker renders the last max items for the worker's
// step header, numbered from 1 in chronological order.
func SummarizeRecentForWorker(list []datatypes.EvidenceItem, max int) string {
	if len(list) == 0 {
		return "No evidence collected yet."
	}
	start := 0
	if max > 0 && len(list) > max {
		start = len(list) - max
	}
	var sb strings.Builder
	for i, item := range list[start:] {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, item.Kind, item.Summary)
	}
	return sb.String()
}

// Summaries returns each item's bare one-line summary in order.
func Summaries(list []datatypes.EvidenceItem) []string {
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = item.Summary
	}
	return out
}
