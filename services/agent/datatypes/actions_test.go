// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"
)

func TestWorkerAction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		action  WorkerAction
		wantErr bool
	}{
		{
			name:   "valid call_tool",
			action: WorkerAction{Action: ActionCallTool, Tool: "shell", Args: WorkerActionArgs{Cmd: "ls"}, Reason: "list"},
		},
		{
			name:    "call_tool needs shell",
			action:  WorkerAction{Action: ActionCallTool, Tool: "browser", Args: WorkerActionArgs{Cmd: "x"}, Reason: "r"},
			wantErr: true,
		},
		{
			name:    "call_tool blank cmd",
			action:  WorkerAction{Action: ActionCallTool, Tool: "shell", Args: WorkerActionArgs{Cmd: "  "}, Reason: "r"},
			wantErr: true,
		},
		{
			name:    "call_tool blank reason",
			action:  WorkerAction{Action: ActionCallTool, Tool: "shell", Args: WorkerActionArgs{Cmd: "ls"}, Reason: " "},
			wantErr: true,
		},
		{
			name:    "call_tool long reason",
			action:  WorkerAction{Action: ActionCallTool, Tool: "shell", Args: WorkerActionArgs{Cmd: "ls"}, Reason: strings.Repeat("r", MaxActionReasonChars+1)},
			wantErr: true,
		},
		{
			name:   "valid ask",
			action: WorkerAction{Action: ActionAsk, Question: "Continue? (YES/NO)"},
		},
		{
			name:    "ask blank question",
			action:  WorkerAction{Action: ActionAsk, Question: "  "},
			wantErr: true,
		},
		{
			name:   "valid finalize",
			action: WorkerAction{Action: ActionFinalize},
		},
		{
			name:    "missing action",
			action:  WorkerAction{},
			wantErr: true,
		},
		{
			name:    "unknown action",
			action:  WorkerAction{Action: "dance"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizeOutput(t *testing.T) {
	short := "hello"
	if got := NormalizeOutput(short); got != short {
		t.Fatalf("short output changed: %q", got)
	}

	long := strings.Repeat("a", MaxToolOutputChars+500)
	got := NormalizeOutput(long)
	if len(got) != MaxToolOutputChars+len(ToolOutputTruncationMarker) {
		t.Fatalf("normalized length = %d", len(got))
	}
	if !strings.HasSuffix(got, ToolOutputTruncationMarker) {
		t.Fatalf("missing truncation marker")
	}
}

func TestFirstNonEmptyLine(t *testing.T) {
	if got := FirstNonEmptyLine("\n\n  \n first \nsecond", 100); got != "first" {
		t.Fatalf("FirstNonEmptyLine = %q", got)
	}
	if got := FirstNonEmptyLine("abcdef", 3); got != "abc" {
		t.Fatalf("clipped = %q", got)
	}
	if got := FirstNonEmptyLine("\n \n", 10); got != "" {
		t.Fatalf("blank input = %q", got)
	}
}

func TestResolvedAgentConfig_ContextLimitTokens(t *testing.T) {
	cfg := ResolvedAgentConfig{
		Main:   ResolvedModel{ContextLength: 32768},
		Worker: ResolvedModel{ContextLength: 8192},
	}
	if got := cfg.ContextLimitTokens(4096); got != 8192 {
		t.Fatalf("limit = %d, want 8192", got)
	}

	cfg = ResolvedAgentConfig{Worker: ResolvedModel{ContextLength: 2048}}
	if got := cfg.ContextLimitTokens(4096); got != 2048 {
		t.Fatalf("limit = %d, want 2048", got)
	}

	cfg = ResolvedAgentConfig{}
	if got := cfg.ContextLimitTokens(4096); got != 4096 {
		t.Fatalf("limit = %d, want default 4096", got)
	}
}
