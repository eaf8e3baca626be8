// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

func TestLoadWorkerSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.txt")
	require.NoError(t, os.WriteFile(path, []byte("  be careful out there  \n"), 0o600))

	prompt, err := LoadWorkerSystemPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "be careful out there", prompt)

	_, err = LoadWorkerSystemPrompt(filepath.Join(dir, "absent.txt"))
	var cerr *agent.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, agent.ErrWorkerPromptMissing)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = LoadWorkerSystemPrompt(empty)
	assert.ErrorIs(t, err, agent.ErrWorkerPromptMissing)
}

func TestBuildWorkerMessages(t *testing.T) {
	messages := BuildWorkerMessages("sys prompt", WorkerHeaderInput{
		Goal:            "list repo roots",
		Step:            3,
		EvidenceSummary: "1. [tool_result] cmd=ls exit=0",
		LastTool: &datatypes.ToolResult{
			Cmd: "ls -1", ExitCode: 0, Stdout: "src\ndocs\n", Stderr: "",
		},
	})

	require.Len(t, messages, 2)
	assert.Equal(t, datatypes.RoleSystem, messages[0].Role)
	assert.Equal(t, "sys prompt", messages[0].Content)

	header := messages[1].Content
	assert.Contains(t, header, "Goal: list repo roots")
	assert.Contains(t, header, "Step: 3")
	assert.Contains(t, header, "Main guidance: none")
	assert.Contains(t, header, "Latest user answer: none")
	assert.Contains(t, header, "command: ls -1")
	assert.Contains(t, header, "src")
}

func TestBuildWorkerMessages_NoToolYet(t *testing.T) {
	messages := BuildWorkerMessages("sys", WorkerHeaderInput{
		Goal: "g", Step: 1,
		Guidance:         "check the docs dir",
		RecentUserAnswer: "NO",
		EvidenceSummary:  "No evidence collected yet.",
	})
	header := messages[1].Content
	assert.Contains(t, header, "No previous tool result.")
	assert.Contains(t, header, "Main guidance: check the docs dir")
	assert.Contains(t, header, "Latest user answer: NO")
}

func TestBuildPlanningMessages_HistoryHandling(t *testing.T) {
	marker := "[SESSION_COMPACTION]"
	var history []datatypes.ChatMessage
	history = append(history, datatypes.ChatMessage{Role: datatypes.RoleSystem, Content: marker + " old summary"})
	history = append(history, datatypes.ChatMessage{
		Role: datatypes.RoleSystem, Content: agent.WorkerToolLine(1, "ls -1"),
	})
	history = append(history, datatypes.ChatMessage{
		Role: datatypes.RoleUser, Content: strings.Repeat("long question ", 40),
	})

	messages := BuildPlanningMessages("goal", history, marker)
	require.Len(t, messages, 2)
	user := messages[1].Content

	assert.NotContains(t, user, "old summary", "compaction summaries are skipped")
	assert.Contains(t, user, "ls -1")
	assert.NotContains(t, user, agent.TagWorkerToolPrefix, "loop tags are stripped")

	for _, line := range strings.Split(user, "\n") {
		assert.LessOrEqual(t, len(line), HistoryClipChars+len("user: "), "history lines are clipped")
	}
}

func TestBuildPlanningMessages_WindowsHistory(t *testing.T) {
	var history []datatypes.ChatMessage
	for i := 0; i < 30; i++ {
		history = append(history, datatypes.ChatMessage{
			Role: datatypes.RoleUser, Content: "turn " + strings.Repeat("x", i),
		})
	}
	messages := BuildPlanningMessages("goal", history, "")
	user := messages[1].Content
	assert.NotContains(t, user, "turn \n", "oldest turns fall outside the window")
	assert.Contains(t, user, "Goal: goal")
}

func TestBuildDecisionMessages_ForceFinalize(t *testing.T) {
	normal := BuildDecisionMessages(DecisionInput{Goal: "g", EvidenceSummary: "[tool_result] x"})
	forced := BuildDecisionMessages(DecisionInput{Goal: "g", EvidenceSummary: "[tool_result] x", ForceFinalize: true})

	assert.NotContains(t, normal[1].Content, "MUST reply")
	assert.Contains(t, forced[1].Content, "MUST reply")

	empty := BuildDecisionMessages(DecisionInput{Goal: "g"})
	assert.Contains(t, empty[1].Content, "(none gathered)")
}

func TestBuildFinalAnswerMessages(t *testing.T) {
	messages := BuildFinalAnswerMessages(FinalAnswerInput{
		Goal:            "list roots",
		Draft:           "Repo roots: src, docs",
		DecisionContext: "answer: Repo roots: src, docs",
		EvidenceSummary: "[tool_result] cmd=ls exit=0",
	})
	user := messages[1].Content
	assert.Contains(t, user, "Goal: list roots")
	assert.Contains(t, user, "Draft answer to refine:")
	assert.Contains(t, user, "Decision context:")
	assert.Contains(t, messages[0].Content, "plain natural language")
}

func TestSummarizeDecisionContext(t *testing.T) {
	enable := true
	out := SummarizeDecisionContext(&datatypes.MainDecision{
		Decision:                   datatypes.DecisionFinalize,
		Answer:                     "A",
		Guidance:                   "G",
		SummaryEvidence:            []string{"e1", "e2"},
		NeededEvidence:             []string{"n1"},
		ForcedSynthesisEnableThink: &enable,
	})
	assert.Contains(t, out, "answer: A")
	assert.Contains(t, out, "guidance: G")
	assert.Contains(t, out, "summary_evidence: e1; e2")
	assert.Contains(t, out, "needed_evidence: n1")
	assert.Contains(t, out, "forced_synthesis_enable_think: true")

	assert.Equal(t, "", SummarizeDecisionContext(nil))
}
