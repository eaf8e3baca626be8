// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety provides the command safety gate for the agent loop.
//
// The gate inspects a worker-proposed shell command before it reaches the
// sandbox executor. It rejects forbidden top-level executables, git push
// sub-commands, and commands that exceed the pipe budget. Passing the
// gate does not sandbox anything; isolation is the executor's job.
//
// Thread Safety:
//
//	A Gate is immutable after construction and safe for concurrent use.
package safety

import (
	"fmt"
	"path"
	"strings"

	"github.com/AleutianAI/KiskaLocal/services/agent"
)

// DefaultMaxPipes is the pipe budget when the caller does not override it.
const DefaultMaxPipes = 1

// defaultForbidden are executables the gate always rejects as a
// segment's primary command.
var defaultForbidden = []string{
	"rm", "dd", "mkfs", "shutdown", "reboot", "halt", "poweroff",
	"kill", "pkill", "del", "erase",
}

// wrapperExecutables are skipped when locating a segment's primary
// command. env gets extra handling for its flags and K=V arguments.
var wrapperExecutables = map[string]bool{
	"sudo":    true,
	"command": true,
	"nohup":   true,
	"time":    true,
}

// GateConfig configures the gate.
type GateConfig struct {
	// MaxPipes is the maximum number of pipe operators allowed.
	MaxPipes int

	// ForbiddenExecutables overrides the default deny list when non-nil.
	ForbiddenExecutables []string
}

// DefaultGateConfig returns the stock policy: one pipe, stock deny list.
func DefaultGateConfig() GateConfig {
	return GateConfig{MaxPipes: DefaultMaxPipes}
}

// Gate validates worker-proposed shell commands.
type Gate struct {
	maxPipes  int
	forbidden map[string]bool
}

// NewGate creates a gate from config. A nil config uses defaults.
func NewGate(config *GateConfig) *Gate {
	cfg := DefaultGateConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxPipes < 0 {
		cfg.MaxPipes = 0
	}
	list := cfg.ForbiddenExecutables
	if list == nil {
		list = defaultForbidden
	}
	forbidden := make(map[string]bool, len(list))
	for _, name := range list {
		forbidden[strings.ToLower(name)] = true
	}
	return &Gate{maxPipes: cfg.MaxPipes, forbidden: forbidden}
}

// Check validates cmd against the policy. A nil return guarantees: no
// forbidden top-level executable in any segment, no git push, and at
// most MaxPipes pipe operators. Violations are *agent.PolicyViolation.
func (g *Gate) Check(cmd string) error {
	segments, pipes, err := splitSegments(cmd)
	if err != nil {
		return err
	}

	if pipes > g.maxPipes {
		return &agent.PolicyViolation{
			Rule:   "pipe_budget",
			Detail: fmt.Sprintf("command uses %d pipes, at most %d allowed", pipes, g.maxPipes),
		}
	}

	nonEmpty := 0
	for _, seg := range segments {
		exe, rest := primaryExecutable(seg)
		if exe == "" {
			continue
		}
		nonEmpty++

		if g.forbidden[exe] {
			return &agent.PolicyViolation{
				Rule:   "forbidden_executable",
				Detail: fmt.Sprintf("executable %q is not allowed", exe),
			}
		}

		if exe == "git" && firstSubcommand(rest) == "push" {
			return &agent.PolicyViolation{
				Rule:   "git_push",
				Detail: "git push is not allowed from the sandbox",
			}
		}
	}

	if nonEmpty == 0 {
		return &agent.PolicyViolation{
			Rule:   "empty_command",
			Detail: "command contains no executable",
		}
	}

	return nil
}

// CheckCommand validates cmd with a one-off gate using maxPipes.
func CheckCommand(cmd string, maxPipes int) error {
	return NewGate(&GateConfig{MaxPipes: maxPipes}).Check(cmd)
}

// splitSegments tokenizes cmd respecting single quotes, double quotes,
// and backslash escapes, and splits into command segments on ;, newline,
// &&, ||, single &, and single |. It returns the segments, the pipe
// count, and an error only for policy-level problems.
func splitSegments(cmd string) (segments [][]string, pipes int, err error) {
	var (
		current  []string
		tok      strings.Builder
		tokOpen  bool
		inSingle bool
		inDouble bool
		escaped  bool
	)

	flushToken := func() {
		if tokOpen {
			current = append(current, tok.String())
			tok.Reset()
			tokOpen = false
		}
	}
	flushSegment := func() {
		flushToken()
		segments = append(segments, current)
		current = nil
	}

	runes := []rune(cmd)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if escaped {
			tok.WriteRune(c)
			tokOpen = true
			escaped = false
			continue
		}

		switch {
		case c == '\\' && !inSingle:
			escaped = true
			tokOpen = true

		case c == '\'' && !inDouble:
			inSingle = !inSingle
			tokOpen = true

		case c == '"' && !inSingle:
			inDouble = !inDouble
			tokOpen = true

		case inSingle || inDouble:
			tok.WriteRune(c)
			tokOpen = true

		case c == ';' || c == '\n':
			flushSegment()

		case c == '&':
			// && and a single background & both end the segment.
			if i+1 < len(runes) && runes[i+1] == '&' {
				i++
			}
			flushSegment()

		case c == '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
			} else {
				pipes++
			}
			flushSegment()

		case c == ' ' || c == '\t' || c == '\r':
			flushToken()

		default:
			tok.WriteRune(c)
			tokOpen = true
		}
	}
	flushSegment()

	return segments, pipes, nil
}

// primaryExecutable finds the segment's effective executable: the
// lowercased basename of the first token after env assignments and
// wrapper commands. It returns the executable and the tokens after it.
func primaryExecutable(tokens []string) (string, []string) {
	i := 0
	for i < len(tokens) {
		t := tokens[i]

		if isEnvAssignment(t) {
			i++
			continue
		}

		base := strings.ToLower(path.Base(t))
		if wrapperExecutables[base] {
			i++
			continue
		}
		if base == "env" {
			i++
			// env takes flags and K=V pairs before the real command.
			for i < len(tokens) && (strings.HasPrefix(tokens[i], "-") || strings.Contains(tokens[i], "=")) {
				i++
			}
			continue
		}

		return base, tokens[i+1:]
	}
	return "", nil
}

// isEnvAssignment reports whether t is a leading KEY=VALUE token.
func isEnvAssignment(t string) bool {
	eq := strings.IndexByte(t, '=')
	if eq <= 0 {
		return false
	}
	for i, c := range t[:eq] {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// firstSubcommand returns the first non-flag token, lowercased. The
// separate value of a git global option such as -C or -c is skipped.
func firstSubcommand(tokens []string) string {
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if strings.HasPrefix(t, "-") {
			switch t {
			case "-C", "-c", "--git-dir", "--work-tree", "--namespace", "--config-env":
				i++
			}
			continue
		}
		return strings.ToLower(t)
	}
	return ""
}
