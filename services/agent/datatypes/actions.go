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
	"fmt"
	"strings"
)

// Worker action kinds. The worker protocol allows exactly these three.
const (
	ActionCallTool = "call_tool"
	ActionAsk      = "ask"
	ActionFinalize = "finalize"
)

// MaxActionReasonChars caps the worker's one-line justification for a
// tool call.
const MaxActionReasonChars = 120

// WorkerAction is the worker model's structured reply: exactly one of
// call_tool, ask, or finalize.
type WorkerAction struct {
	// Action is the variant tag.
	Action string `json:"action"`

	// Tool names the tool for call_tool. Only "shell" is defined.
	Tool string `json:"tool,omitempty"`

	// Args holds the tool arguments for call_tool.
	Args WorkerActionArgs `json:"args,omitempty"`

	// Reason is the mandatory one-line justification for call_tool.
	Reason string `json:"reason,omitempty"`

	// Question is the mandatory YES/NO question for ask.
	Question string `json:"question,omitempty"`
}

// WorkerActionArgs carries shell tool arguments.
type WorkerActionArgs struct {
	// Cmd is the shell command to execute.
	Cmd string `json:"cmd,omitempty"`
}

// Validate enforces the worker protocol shape.
func (a *WorkerAction) Validate() error {
	switch a.Action {
	case ActionCallTool:
		if a.Tool != "shell" {
			return fmt.Errorf("call_tool requires tool=\"shell\", got %q", a.Tool)
		}
		if strings.TrimSpace(a.Args.Cmd) == "" {
			return fmt.Errorf("call_tool requires non-empty args.cmd")
		}
		if strings.TrimSpace(a.Reason) == "" {
			return fmt.Errorf("call_tool requires a non-empty reason")
		}
		if len(a.Reason) > MaxActionReasonChars {
			return fmt.Errorf("reason exceeds %d chars", MaxActionReasonChars)
		}
		return nil
	case ActionAsk:
		if strings.TrimSpace(a.Question) == "" {
			return fmt.Errorf("ask requires a non-empty YES/NO question")
		}
		return nil
	case ActionFinalize:
		return nil
	case "":
		return fmt.Errorf("missing action field")
	default:
		return fmt.Errorf("unknown action %q (must be call_tool, ask, or finalize)", a.Action)
	}
}

// Main decision kinds.
const (
	DecisionFinalize = "finalize"
	DecisionContinue = "continue"
)

// MainDecision is the main model's structured sufficiency verdict.
type MainDecision struct {
	// Decision is "finalize" or "continue".
	Decision string `json:"decision"`

	// Answer is an optional draft of the final answer (finalize).
	Answer string `json:"answer,omitempty"`

	// Guidance directs the worker's next steps (continue).
	Guidance string `json:"guidance,omitempty"`

	// SummaryEvidence lists the evidence the decision rests on.
	SummaryEvidence []string `json:"summary_evidence,omitempty"`

	// NeededEvidence lists what is still missing (continue).
	NeededEvidence []string `json:"needed_evidence,omitempty"`

	// ForcedSynthesisEnableThink lets the main model request thinking to
	// stay enabled if the run later falls into forced synthesis.
	ForcedSynthesisEnableThink *bool `json:"forced_synthesis_enable_think,omitempty"`
}

// Validate enforces the main decision shape.
func (d *MainDecision) Validate() error {
	switch d.Decision {
	case DecisionFinalize, DecisionContinue:
		return nil
	case "":
		return fmt.Errorf("missing decision field")
	default:
		return fmt.Errorf("unknown decision %q (must be finalize or continue)", d.Decision)
	}
}

// Planning verdicts.
const (
	PlanCollectEvidence = "collect_evidence"
	PlanMainDecision    = "main_decision"
	PlanFinalReport     = "final_report"
)

// PlanningResult is the main model's opening read of the goal.
type PlanningResult struct {
	// Next selects the first loop stage after planning.
	Next string `json:"next"`

	// Reason justifies the choice.
	Reason string `json:"reason"`

	// EvidenceGoals enumerate what the worker should establish.
	EvidenceGoals []string `json:"evidence_goals,omitempty"`

	// Guidance is forwarded to the worker verbatim.
	Guidance string `json:"guidance,omitempty"`

	// AnswerHint is a draft answer for the final_report short-circuit.
	AnswerHint string `json:"answer_hint,omitempty"`
}

// Validate enforces the planning result shape.
func (p *PlanningResult) Validate() error {
	switch p.Next {
	case PlanCollectEvidence, PlanMainDecision, PlanFinalReport:
	case "":
		return fmt.Errorf("missing next field")
	default:
		return fmt.Errorf("unknown next %q (must be collect_evidence, main_decision, or final_report)", p.Next)
	}
	if strings.TrimSpace(p.Reason) == "" {
		return fmt.Errorf("planning requires a non-empty reason")
	}
	return nil
}
