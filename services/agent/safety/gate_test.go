// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"errors"
	"testing"

	"github.com/AleutianAI/KiskaLocal/services/agent"
)

func TestGate_Check_ForbiddenExecutables(t *testing.T) {
	gate := NewGate(nil)

	tests := []struct {
		name     string
		cmd      string
		wantRule string
	}{
		{name: "plain ls", cmd: "ls -la"},
		{name: "rm", cmd: "rm -rf /tmp/x", wantRule: "forbidden_executable"},
		{name: "rm behind sudo", cmd: "sudo rm -rf /", wantRule: "forbidden_executable"},
		{name: "rm behind env assignment", cmd: "FOO=bar rm x", wantRule: "forbidden_executable"},
		{name: "rm behind env command", cmd: "env -i PATH=/bin rm x", wantRule: "forbidden_executable"},
		{name: "rm by absolute path", cmd: "/bin/rm x", wantRule: "forbidden_executable"},
		{name: "rm uppercased", cmd: "RM x", wantRule: "forbidden_executable"},
		{name: "rm in second segment", cmd: "ls; rm x", wantRule: "forbidden_executable"},
		{name: "rm after and-and", cmd: "true && rm x", wantRule: "forbidden_executable"},
		{name: "rm after or-or", cmd: "false || rm x", wantRule: "forbidden_executable"},
		{name: "rm backgrounded", cmd: "rm x &", wantRule: "forbidden_executable"},
		{name: "dd", cmd: "dd if=/dev/zero of=/dev/sda", wantRule: "forbidden_executable"},
		{name: "pkill", cmd: "pkill -f server", wantRule: "forbidden_executable"},
		{name: "shutdown", cmd: "shutdown now", wantRule: "forbidden_executable"},
		{name: "rm inside quotes is data", cmd: `echo "rm -rf /"`},
		{name: "rm inside single quotes is data", cmd: "grep 'rm -rf' log.txt"},
		{name: "rm as argument", cmd: "man rm"},
		{name: "env then ls", cmd: "env A=1 ls"},
		{name: "nohup wrapper", cmd: "nohup sleep 1"},
		{name: "time wrapper", cmd: "time ls"},
		{name: "empty command", cmd: "", wantRule: "empty_command"},
		{name: "only assignments", cmd: "FOO=bar BAZ=qux", wantRule: "empty_command"},
		{name: "whitespace only", cmd: "   ", wantRule: "empty_command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gate.Check(tt.cmd)
			if tt.wantRule == "" {
				if err != nil {
					t.Fatalf("Check(%q) = %v, want nil", tt.cmd, err)
				}
				return
			}
			var pv *agent.PolicyViolation
			if !errors.As(err, &pv) {
				t.Fatalf("Check(%q) = %v, want PolicyViolation", tt.cmd, err)
			}
			if pv.Rule != tt.wantRule {
				t.Fatalf("Check(%q) rule = %q, want %q", tt.cmd, pv.Rule, tt.wantRule)
			}
		})
	}
}

func TestGate_Check_GitPush(t *testing.T) {
	gate := NewGate(nil)

	tests := []struct {
		name    string
		cmd     string
		wantErr bool
	}{
		{name: "git status", cmd: "git status"},
		{name: "git log", cmd: "git log --oneline"},
		{name: "git push", cmd: "git push", wantErr: true},
		{name: "git push origin", cmd: "git push origin main", wantErr: true},
		{name: "git push behind flags", cmd: "git -C /repo push", wantErr: true},
		{name: "git push second segment", cmd: "git add .; git push", wantErr: true},
		{name: "push as argument value", cmd: "echo git push"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gate.Check(tt.cmd)
			if tt.wantErr {
				var pv *agent.PolicyViolation
				if !errors.As(err, &pv) || pv.Rule != "git_push" {
					t.Fatalf("Check(%q) = %v, want git_push violation", tt.cmd, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check(%q) = %v, want nil", tt.cmd, err)
			}
		})
	}
}

func TestGate_Check_PipeBudget(t *testing.T) {
	tests := []struct {
		name     string
		cmd      string
		maxPipes int
		wantErr  bool
	}{
		{name: "no pipes", cmd: "ls -la", maxPipes: 1},
		{name: "one pipe allowed", cmd: "ls | head", maxPipes: 1},
		{name: "two pipes rejected", cmd: "ls | sort | head", maxPipes: 1, wantErr: true},
		{name: "two pipes allowed with budget", cmd: "ls | sort | head", maxPipes: 2},
		{name: "or-or is not a pipe", cmd: "true || false", maxPipes: 0},
		{name: "pipe in quotes is data", cmd: `echo "a | b"`, maxPipes: 0},
		{name: "escaped pipe is data", cmd: `echo a \| b`, maxPipes: 0},
		{name: "zero budget rejects pipe", cmd: "ls | head", maxPipes: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCommand(tt.cmd, tt.maxPipes)
			if tt.wantErr {
				var pv *agent.PolicyViolation
				if !errors.As(err, &pv) || pv.Rule != "pipe_budget" {
					t.Fatalf("CheckCommand(%q, %d) = %v, want pipe_budget violation", tt.cmd, tt.maxPipes, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckCommand(%q, %d) = %v, want nil", tt.cmd, tt.maxPipes, err)
			}
		})
	}
}

func TestSplitSegments_Quoting(t *testing.T) {
	segments, pipes, err := splitSegments(`echo "a;b" 'c|d' e\;f; ls`)
	if err != nil {
		t.Fatalf("splitSegments error: %v", err)
	}
	if pipes != 0 {
		t.Fatalf("pipes = %d, want 0", pipes)
	}
	if len(segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(segments))
	}
	want := []string{"echo", "a;b", "c|d", "e;f"}
	if len(segments[0]) != len(want) {
		t.Fatalf("first segment = %v, want %v", segments[0], want)
	}
	for i, tok := range want {
		if segments[0][i] != tok {
			t.Fatalf("token %d = %q, want %q", i, segments[0][i], tok)
		}
	}
}

func TestGate_Check_CustomForbiddenList(t *testing.T) {
	gate := NewGate(&GateConfig{MaxPipes: 1, ForbiddenExecutables: []string{"curl"}})

	if err := gate.Check("rm -rf /tmp"); err != nil {
		t.Fatalf("custom list should not inherit defaults: %v", err)
	}
	if err := gate.Check("curl http://example.com"); err == nil {
		t.Fatal("curl should be rejected by custom list")
	}
}
