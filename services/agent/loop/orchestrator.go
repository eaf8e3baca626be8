// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loop drives the agent loop state machine: planning, the
// evidence-acquisition loop, the sufficiency assessment, forced
// synthesis, and the context guard pre-emption.
//
// The orchestrator exclusively owns the LoopRuntime for a run; stage
// handlers read and mutate it through explicit parameters. The session
// belongs to the caller but is mutated only through the append+persist
// side-effect helper while a run is active, so no in-memory append can
// exist without its durable write.
//
// Thread Safety:
//
//	Distinct runs (distinct Orchestrator.Run calls on distinct
//	sessions) are independent and may execute concurrently. A single
//	session must never be driven by two runs at once.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/contextguard"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
	"github.com/AleutianAI/KiskaLocal/services/agent/evidence"
	"github.com/AleutianAI/KiskaLocal/services/agent/llmcall"
	"github.com/AleutianAI/KiskaLocal/services/llm"
	"github.com/AleutianAI/KiskaLocal/services/sandbox"
)

var tracer = otel.Tracer("kiska.agent.loop")

// SessionStore is the persistence seam the loop writes through.
type SessionStore interface {
	// Save persists the session durably and atomically.
	Save(sessionDir string, session *datatypes.ChatSession) error
}

// ToolRunner is the sandbox execution seam.
type ToolRunner interface {
	// Run executes cmd for the workspace group.
	Run(ctx context.Context, cmd, workspaceGroupID string, opts sandbox.Options) (*datatypes.ToolResult, error)
}

// Orchestrator owns one agent configuration and runs loops against it.
type Orchestrator struct {
	// Call tunes the LLM call wrapper.
	Call llmcall.Config

	// Routed is the resolved agent configuration.
	Routed *datatypes.ResolvedAgentConfig

	// MainAPI and WorkerAPI are the two role clients. In single-main
	// mode both point at the same client.
	MainAPI   llm.Client
	WorkerAPI llm.Client

	// Store persists the session; SessionDir is where.
	Store      SessionStore
	SessionDir string

	// Runner executes sandboxed commands with SandboxOptions.
	Runner         ToolRunner
	SandboxOptions sandbox.Options

	// WorkerSystemPrompt is the externally loaded worker prompt.
	WorkerSystemPrompt string
}

// run bundles the per-run state threaded through stage handlers.
type run struct {
	orc     *Orchestrator
	session *datatypes.ChatSession
	rt      *agent.LoopRuntime
	opts    agent.RunOptions

	agentID        string
	goal           string
	workspaceGroup string
	contextLimit   int
}

// Run executes the agent loop for one goal against the session and
// returns the run summary. The final assistant answer is appended to
// the session before returning; a fatal error leaves the session with
// whatever was durably written up to that point.
func (o *Orchestrator) Run(ctx context.Context, session *datatypes.ChatSession, goal, agentID string, opts agent.RunOptions) (*agent.RunResult, error) {
	ctx, span := tracer.Start(ctx, "loop.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("agent.mode", string(o.Routed.Mode)),
	)

	workspaceGroup := strings.TrimSpace(opts.WorkspaceGroupID)
	if workspaceGroup == "" {
		workspaceGroup = session.ID
	}

	r := &run{
		orc:     o,
		session: session,
		opts:    opts,
		agentID: agentID,
		goal:    goal,
		rt: &agent.LoopRuntime{
			Step:                       1,
			ResumeStateAfterCompaction: agent.StatePlanIntent,
		},
		workspaceGroup: workspaceGroup,
		contextLimit:   contextguard.ResolveContextLimitTokens(o.Routed),
	}

	r.emit(agent.EventStart, &agent.StartData{
		AgentID: agentID,
		Mode:    string(o.Routed.Mode),
		Goal:    goal,
	})
	if err := r.appendAndPersist(datatypes.RoleUser, agent.AgentGoalLine(agentID, goal)); err != nil {
		return nil, err
	}

	state := agent.StatePlanIntent
	for !state.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return nil, r.cancelled(err)
		}

		// Compaction pre-empts any stage except the guard itself, and
		// only when the session changed since the last compaction.
		plan := contextguard.ComputeCompactionPlan(session, r.contextLimit)
		if state != agent.StateContextGuard && plan.ShouldCompact &&
			plan.Signature != r.rt.LastCompactionSignature {
			r.rt.ResumeStateAfterCompaction = state
			state = agent.StateContextGuard
			continue
		}

		var err error
		switch state {
		case agent.StatePlanIntent:
			state, err = r.handlePlanIntent(ctx)
		case agent.StateContextGuard:
			state, err = r.handleContextGuard(ctx)
		case agent.StateAcquireEvidence:
			state, err = r.handleAcquireEvidence(ctx)
		case agent.StateAssessSufficiency:
			state, err = r.handleAssessSufficiency(ctx)
		case agent.StateForcedSynthesis:
			state, err = r.handleForcedSynthesis(ctx)
		default:
			err = fmt.Errorf("agent loop reached unknown state %q", state)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, r.cancelled(err)
			}
			return nil, err
		}
	}

	if err := r.appendAndPersist(datatypes.RoleAssistant, r.rt.FinalAnswer); err != nil {
		return nil, err
	}
	r.emit(agent.EventComplete, &agent.CompleteData{
		Steps:         r.rt.Steps,
		EvidenceCount: len(r.rt.Evidence),
	})

	slog.Info("agent loop complete",
		"agent_id", agentID,
		"session_id", session.ID,
		"steps", r.rt.Steps,
		"evidence", len(r.rt.Evidence),
	)

	return &agent.RunResult{
		AgentID:     agentID,
		Mode:        o.Routed.Mode,
		MaxSteps:    o.Routed.MaxSteps,
		Stream:      o.Routed.Stream,
		Summary:     r.rt.FinalAnswer,
		Evidence:    evidence.Summaries(r.rt.Evidence),
		Steps:       r.rt.Steps,
		WorkerModel: o.Routed.Worker.ModelName,
		MainModel:   o.Routed.Main.ModelName,
	}, nil
}

// cancelled maps a context error onto the Cancelled taxonomy entry.
func (r *run) cancelled(err error) error {
	return fmt.Errorf("%w: %v", agent.ErrCancelled, err)
}

// emit publishes one event to the run's observer, if any.
func (r *run) emit(kind agent.EventKind, data any) {
	if r.opts.OnEvent == nil {
		return
	}
	r.opts.OnEvent(agent.Event{Kind: kind, Timestamp: time.Now(), Data: data})
}

// emitState publishes the loop-state event for a stage entry.
func (r *run) emitState(state agent.LoopState, summary string) {
	r.emit(agent.EventLoopState, &agent.LoopStateData{
		State:         state,
		Step:          r.rt.Step,
		EvidenceCount: len(r.rt.Evidence),
		Summary:       summary,
	})
}

// appendAndPersist appends one message and writes the session through
// the store. There is no append without a durable write.
func (r *run) appendAndPersist(role, content string) error {
	r.session.Append(role, content)
	if err := r.orc.Store.Save(r.orc.SessionDir, r.session); err != nil {
		var serr *agent.StoreError
		if errors.As(err, &serr) {
			return err
		}
		return &agent.StoreError{Op: "save", SessionID: r.session.ID, Err: err}
	}
	return nil
}

// workerTokenCallback forwards worker stream tokens as events.
func (r *run) workerTokenCallback(step int) llm.TokenCallback {
	if r.opts.OnEvent == nil {
		return nil
	}
	return func(token string) {
		r.emit(agent.EventWorkerToken, &agent.WorkerTokenData{Step: step, Token: token})
	}
}

// mainTokenCallback forwards main stream tokens as events.
func (r *run) mainTokenCallback(phase string) llm.TokenCallback {
	if r.opts.OnEvent == nil {
		return nil
	}
	return func(token string) {
		r.emit(agent.EventMainToken, &agent.MainTokenData{Phase: phase, Token: token})
	}
}

// evidenceSummaryForMain concatenates the planning summary lines with
// the deduplicated evidence list.
func (r *run) evidenceSummaryForMain() string {
	var lines []string
	if p := r.rt.Planning; p != nil {
		lines = append(lines, "plan: next="+p.Next+" reason="+p.Reason)
		for _, goal := range p.EvidenceGoals {
			lines = append(lines, "plan evidence goal: "+goal)
		}
	}
	lines = append(lines, evidence.SummarizeForMain(r.rt.Evidence)...)
	return strings.Join(lines, "\n")
}
