// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent defines the agent loop's state machine vocabulary: loop
// states, the per-run runtime bag, run options and results, the event
// union, and the error taxonomy.
//
// The loop itself lives in services/agent/loop; this package holds the
// types every loop collaborator shares.
//
// Thread Safety:
//
//	A LoopRuntime is owned by exactly one run and is not synchronized.
//	Everything else in this package is immutable after construction.
package agent

import (
	"context"

	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// LoopState is a state in the agent loop state machine.
type LoopState string

const (
	// StatePlanIntent asks the main model how to open the run.
	StatePlanIntent LoopState = "PLAN_INTENT"

	// StateContextGuard compacts the session under token pressure.
	StateContextGuard LoopState = "CONTEXT_GUARD"

	// StateAcquireEvidence is the worker's evidence-gathering turn.
	StateAcquireEvidence LoopState = "ACQUIRE_EVIDENCE"

	// StateAssessSufficiency asks the main model whether evidence suffices.
	StateAssessSufficiency LoopState = "ASSESS_SUFFICIENCY"

	// StateForcedSynthesis forces a best-effort final report.
	StateForcedSynthesis LoopState = "FORCED_SYNTHESIS"

	// StateDone is the terminal state.
	StateDone LoopState = "DONE"
)

// String returns the string representation of the state.
func (s LoopState) String() string {
	return string(s)
}

// IsTerminal reports whether the state ends the run.
func (s LoopState) IsTerminal() bool {
	return s == StateDone
}

// AllStates returns every loop state.
func AllStates() []LoopState {
	return []LoopState{
		StatePlanIntent,
		StateContextGuard,
		StateAcquireEvidence,
		StateAssessSufficiency,
		StateForcedSynthesis,
		StateDone,
	}
}

// LoopRuntime is the mutable bag for a single run. It is created by
// RunAgentLoop, threaded through the stage handlers, and discarded when
// the run completes; only the final answer survives in the session.
type LoopRuntime struct {
	// Planning is the main model's opening plan, if one was produced.
	Planning *datatypes.PlanningResult

	// Evidence is the append-only evidence list.
	Evidence []datatypes.EvidenceItem

	// Guidance is the most recent direction from the main model.
	Guidance string

	// RecentUserAnswer is the latest ask-callback reply.
	RecentUserAnswer string

	// LastTool is the most recent sandbox result.
	LastTool *datatypes.ToolResult

	// FinalAnswer is the report appended to the session at the end.
	FinalAnswer string

	// Step is the current worker step, starting at 1.
	Step int

	// Steps is the last step actually reached.
	Steps int

	// ResumeStateAfterCompaction is where the loop returns after the
	// context guard runs.
	ResumeStateAfterCompaction LoopState

	// LastCompactionSignature suppresses compaction re-entry when the
	// previous compaction made no progress.
	LastCompactionSignature string

	// ForcedSynthesisEnableThink carries the main model's request to
	// keep thinking enabled during forced synthesis.
	ForcedSynthesisEnableThink *bool

	// ForcedSynthesisReason records why the run was forced to finish.
	ForcedSynthesisReason string
}

// AskUserFunc delivers a worker question to the operator and returns the
// trimmed reply. It must honor ctx: when the run is cancelled the
// callback is expected to return ctx.Err().
type AskUserFunc func(ctx context.Context, question string) (string, error)

// RunOptions are the caller-supplied knobs for one RunAgentLoop call.
// There is no open-ended extras bag: this record is the whole surface.
type RunOptions struct {
	// Mode overrides the registry's agent mode when non-empty.
	Mode datatypes.AgentMode

	// MaxSteps overrides the registry's step budget when > 0.
	MaxSteps int

	// Stream overrides the registry's streaming flag when non-nil.
	Stream *bool

	// WorkspaceGroupID pins sandbox commands to a workspace. Defaults
	// to the session ID.
	WorkspaceGroupID string

	// OnEvent observes lifecycle events. Optional.
	OnEvent Observer

	// AskUser answers worker YES/NO questions. Required only if the
	// worker actually asks; a run that never asks runs fine without it.
	AskUser AskUserFunc
}

// RunResult summarizes a completed run.
type RunResult struct {
	// AgentID is the routed agent identifier.
	AgentID string `json:"agent_id"`

	// Mode is the effective agent mode.
	Mode datatypes.AgentMode `json:"mode"`

	// MaxSteps is the effective step budget.
	MaxSteps int `json:"max_steps"`

	// Stream is the effective streaming flag.
	Stream bool `json:"stream"`

	// Summary is the final natural-language answer.
	Summary string `json:"summary"`

	// Evidence holds the one-line evidence summaries, in order.
	Evidence []string `json:"evidence"`

	// Steps is the last worker step reached.
	Steps int `json:"steps"`

	// WorkerModel is the routed worker model name.
	WorkerModel string `json:"worker_model"`

	// MainModel is the routed main model name.
	MainModel string `json:"main_model"`
}
