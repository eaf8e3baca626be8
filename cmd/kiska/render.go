// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/AleutianAI/KiskaLocal/pkg/ux"
	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// eventRenderer turns loop events into terminal output.
type eventRenderer struct {
	out       *ux.Output
	quiet     bool
	streaming bool
}

func newEventRenderer(out *ux.Output, quiet bool) *eventRenderer {
	return &eventRenderer{out: out, quiet: quiet}
}

// observe implements agent.Observer.
func (r *eventRenderer) observe(event agent.Event) {
	if r.quiet {
		return
	}

	// Close an open token stream before printing a full line.
	if r.streaming && event.Kind != agent.EventWorkerToken && event.Kind != agent.EventMainToken {
		r.out.Newline()
		r.streaming = false
	}

	switch data := event.Data.(type) {
	case *agent.StartData:
		r.out.Stage("run started: %s", data.Goal)
	case *agent.PlanningResultData:
		r.out.Stage("plan: %s (%s)", data.Next, data.Reason)
	case *agent.CompactionStartData:
		r.out.Warn("compacting session: ~%d tokens over %d-token window", data.EstimatedTokens, data.ContextLimitTokens)
	case *agent.CompactionCompleteData:
		r.out.Detail(fmt.Sprintf("compacted %d→%d messages, ~%d→%d tokens",
			data.BeforeMessages, data.AfterMessages, data.BeforeTokens, data.AfterTokens))
	case *agent.WorkerStartData:
		r.out.Stage("worker step %d", data.Step)
	case *agent.WorkerTokenData:
		r.out.Token(data.Token)
		r.streaming = true
	case *agent.WorkerActionData:
		if data.Action != datatypes.ActionCallTool {
			r.out.Stage("worker: %s %s", data.Action, data.Detail)
		}
	case *agent.ToolStartData:
		r.out.Tool("%s", data.Cmd)
	case *agent.ToolResultData:
		r.out.Detail(fmt.Sprintf("exit=%d", data.ExitCode))
		if data.Stdout != "" {
			r.out.Detail(firstLines(data.Stdout, 6))
		}
	case *agent.AskData:
		r.out.Stage("worker asks: %s", data.Question)
	case *agent.AskAnswerData:
		r.out.Stage("answered: %s", data.Answer)
	case *agent.MainStartData:
		r.out.Stage("main: %s (%d evidence items)", data.Phase, data.EvidenceCount)
	case *agent.MainTokenData:
		r.out.Token(data.Token)
		r.streaming = true
	case *agent.MainDecisionData:
		r.out.Stage("decision: %s %s", data.Decision, data.Guidance)
	}
}

// firstLines clips text to its first n lines.
func firstLines(text string, n int) string {
	count := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			count++
			if count >= n {
				return text[:i] + "\n..."
			}
		}
	}
	return text
}
