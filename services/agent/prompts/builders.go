// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts composes the prompts consumed by the LLM call wrapper:
// the worker step header, the main model's planning and decision
// prompts, and the final-report prompt.
package prompts

import (
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// Clipping limits for prompt composition.
const (
	// HistoryWindow is how many trailing session messages feed planning.
	HistoryWindow = 16

	// HistoryClipChars clips each summarized history line.
	HistoryClipChars = 220

	// EvidenceWindow is how many trailing evidence items the worker sees.
	EvidenceWindow = 12
)

// LoadWorkerSystemPrompt reads the worker system prompt from its
// external text resource. A missing or empty file is a ConfigError.
func LoadWorkerSystemPrompt(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", &agent.ConfigError{
			Reason: fmt.Sprintf("worker system prompt not readable at %s", path),
			Err:    agent.ErrWorkerPromptMissing,
		}
	}
	prompt := strings.TrimSpace(string(raw))
	if prompt == "" {
		return "", &agent.ConfigError{
			Reason: fmt.Sprintf("worker system prompt at %s is empty", path),
			Err:    agent.ErrWorkerPromptMissing,
		}
	}
	return prompt, nil
}

// WorkerHeaderInput is everything the worker step header needs.
type WorkerHeaderInput struct {
	Goal             string
	Step             int
	Guidance         string
	RecentUserAnswer string
	EvidenceSummary  string
	LastTool         *datatypes.ToolResult
}

// BuildWorkerMessages composes the worker's two-message prompt: the
// external system prompt and the per-step header.
func BuildWorkerMessages(systemPrompt string, input WorkerHeaderInput) []datatypes.ChatMessage {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Goal: %s\n", input.Goal)
	fmt.Fprintf(&sb, "Step: %d\n", input.Step)
	fmt.Fprintf(&sb, "Main guidance: %s\n", orNone(input.Guidance))
	fmt.Fprintf(&sb, "Latest user answer: %s\n", orNone(input.RecentUserAnswer))
	sb.WriteString("\nEvidence so far:\n")
	sb.WriteString(input.EvidenceSummary)
	sb.WriteString("\n\nTool context:\n")
	sb.WriteString(formatToolContext(input.LastTool))

	return []datatypes.ChatMessage{
		{Role: datatypes.RoleSystem, Content: systemPrompt},
		{Role: datatypes.RoleUser, Content: sb.String()},
	}
}

// formatToolContext renders the previous tool result, or a placeholder.
func formatToolContext(tool *datatypes.ToolResult) string {
	if tool == nil {
		return "No previous tool result."
	}
	return fmt.Sprintf("command: %s\nexit code: %d\nstdout:\n%s\nstderr:\n%s",
		tool.Cmd, tool.ExitCode, tool.Stdout, tool.Stderr)
}

// planningSystemPrompt instructs the main model's opening read.
const planningSystemPrompt = `You plan an evidence-driven investigation for the stated goal.
Reply with EXACTLY one JSON object, no prose, no code fences:
{"next":"collect_evidence|main_decision|final_report","reason":"...","evidence_goals":["..."],"guidance":"...","answer_hint":"..."}
- "collect_evidence": evidence must be gathered before any judgment.
- "main_decision": existing conversation already carries the evidence; judge sufficiency now.
- "final_report": the goal is trivial to answer directly; put a draft in answer_hint.
"reason" is mandatory. Keep every field short.`

// BuildPlanningMessages composes the planning prompt from the goal and a
// clipped summary of recent conversation history. Compaction summaries
// are skipped and loop tags are stripped so the model sees content, not
// bookkeeping.
func BuildPlanningMessages(goal string, history []datatypes.ChatMessage, compactionMarker string) []datatypes.ChatMessage {
	lines := make([]string, 0, HistoryWindow)
	start := 0
	if len(history) > HistoryWindow {
		start = len(history) - HistoryWindow
	}
	for _, msg := range history[start:] {
		if compactionMarker != "" && strings.HasPrefix(msg.Content, compactionMarker) {
			continue
		}
		content := agent.StripLoopTag(msg.Content)
		content = strings.ReplaceAll(content, "\n", " ")
		if len(content) > HistoryClipChars {
			content = content[:HistoryClipChars]
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, content))
	}

	historyBlock := "No prior conversation."
	if len(lines) > 0 {
		historyBlock = strings.Join(lines, "\n")
	}

	user := fmt.Sprintf("Goal: %s\n\nRecent conversation:\n%s", goal, historyBlock)
	return []datatypes.ChatMessage{
		{Role: datatypes.RoleSystem, Content: planningSystemPrompt},
		{Role: datatypes.RoleUser, Content: user},
	}
}

// decisionSystemPrompt instructs the sufficiency assessment.
const decisionSystemPrompt = `You judge whether gathered evidence suffices to answer the goal.
Reply with EXACTLY one JSON object, no prose, no code fences:
{"decision":"finalize|continue","answer":"...","guidance":"...","summary_evidence":["..."],"needed_evidence":["..."],"forced_synthesis_enable_think":false}
- "finalize" only when the evidence supports a concrete answer; include a draft in "answer".
- "continue" when more evidence is needed; say exactly what in "guidance" and "needed_evidence".`

// forcedDecisionInstruction replaces the choice when synthesis is forced.
const forcedDecisionInstruction = `The evidence-gathering budget is exhausted. You MUST reply {"decision":"finalize",...} with your best-effort answer drawn from the evidence below, even if incomplete. Name any gaps inside the answer itself.`

// DecisionInput is everything the sufficiency prompt needs.
type DecisionInput struct {
	Goal            string
	EvidenceSummary string
	Guidance        string
	ForceFinalize   bool
}

// BuildDecisionMessages composes the sufficiency (or forced-synthesis)
// decision prompt.
func BuildDecisionMessages(input DecisionInput) []datatypes.ChatMessage {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", input.Goal)
	if input.Guidance != "" {
		fmt.Fprintf(&sb, "Standing guidance: %s\n", input.Guidance)
	}
	sb.WriteString("\nEvidence:\n")
	if strings.TrimSpace(input.EvidenceSummary) == "" {
		sb.WriteString("(none gathered)")
	} else {
		sb.WriteString(input.EvidenceSummary)
	}
	if input.ForceFinalize {
		sb.WriteString("\n\n")
		sb.WriteString(forcedDecisionInstruction)
	}

	return []datatypes.ChatMessage{
		{Role: datatypes.RoleSystem, Content: decisionSystemPrompt},
		{Role: datatypes.RoleUser, Content: sb.String()},
	}
}

// finalAnswerSystemPrompt instructs the final report.
const finalAnswerSystemPrompt = `You write the final report for the operator.
Write plain natural language only: no JSON, no code blocks, no key-value dumps.
Ground every claim in the evidence provided. Be direct and complete.`

// FinalAnswerInput is everything the final-report prompt needs.
type FinalAnswerInput struct {
	Goal            string
	Draft           string
	DecisionContext string
	EvidenceSummary string
}

// BuildFinalAnswerMessages composes the final-report prompt.
func BuildFinalAnswerMessages(input FinalAnswerInput) []datatypes.ChatMessage {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", input.Goal)
	if strings.TrimSpace(input.EvidenceSummary) != "" {
		sb.WriteString("\nEvidence:\n")
		sb.WriteString(input.EvidenceSummary)
		sb.WriteString("\n")
	}
	if strings.TrimSpace(input.DecisionContext) != "" {
		sb.WriteString("\nDecision context:\n")
		sb.WriteString(input.DecisionContext)
		sb.WriteString("\n")
	}
	if strings.TrimSpace(input.Draft) != "" {
		sb.WriteString("\nDraft answer to refine:\n")
		sb.WriteString(input.Draft)
		sb.WriteString("\n")
	}
	sb.WriteString("\nWrite the final report now.")

	return []datatypes.ChatMessage{
		{Role: datatypes.RoleSystem, Content: finalAnswerSystemPrompt},
		{Role: datatypes.RoleUser, Content: sb.String()},
	}
}

// PlainTextReminder is the repair message for a final report that came
// back as JSON or code.
func PlainTextReminder() datatypes.ChatMessage {
	return datatypes.ChatMessage{
		Role: datatypes.RoleUser,
		Content: "Rewrite your reply in plain natural language. " +
			"No JSON, no code blocks, no markup: just the report text itself.",
	}
}

// SummarizeDecisionContext flattens a decision into the context block
// shown to the final-report prompt.
func SummarizeDecisionContext(decision *datatypes.MainDecision) string {
	if decision == nil {
		return ""
	}
	var lines []string
	if decision.Answer != "" {
		lines = append(lines, "answer: "+decision.Answer)
	}
	if decision.Guidance != "" {
		lines = append(lines, "guidance: "+decision.Guidance)
	}
	if len(decision.SummaryEvidence) > 0 {
		lines = append(lines, "summary_evidence: "+strings.Join(decision.SummaryEvidence, "; "))
	}
	if len(decision.NeededEvidence) > 0 {
		lines = append(lines, "needed_evidence: "+strings.Join(decision.NeededEvidence, "; "))
	}
	if decision.ForcedSynthesisEnableThink != nil {
		lines = append(lines, fmt.Sprintf("forced_synthesis_enable_think: %t", *decision.ForcedSynthesisEnableThink))
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
