// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import "time"

// EventKind discriminates the lifecycle event union.
type EventKind string

// Event kinds, in the order they can appear within a run.
const (
	EventStart              EventKind = "start"
	EventLoopState          EventKind = "loop-state"
	EventPlanningStart      EventKind = "planning-start"
	EventPlanningResult     EventKind = "planning-result"
	EventCompactionStart    EventKind = "compaction-start"
	EventCompactionComplete EventKind = "compaction-complete"
	EventWorkerStart        EventKind = "worker-start"
	EventWorkerToken        EventKind = "worker-token"
	EventWorkerAction       EventKind = "worker-action"
	EventToolStart          EventKind = "tool-start"
	EventToolResult         EventKind = "tool-result"
	EventAsk                EventKind = "ask"
	EventAskAnswer          EventKind = "ask-answer"
	EventMainStart          EventKind = "main-start"
	EventMainToken          EventKind = "main-token"
	EventMainDecision       EventKind = "main-decision"
	EventFinalAnswer        EventKind = "final-answer"
	EventComplete           EventKind = "complete"
)

// Main-model phases reported on main-start/main-token/main-decision.
const (
	PhasePlanning          = "planning"
	PhaseAssessSufficiency = "assess-sufficiency"
	PhaseForcedSynthesis   = "forced-synthesis"
	PhaseFinalReport       = "final-report"
)

// Event is one lifecycle event. Data holds the kind-specific payload;
// consumers must switch over every payload type they care about.
type Event struct {
	// Kind discriminates the payload.
	Kind EventKind `json:"kind"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Data is one of the *Data payload structs below.
	Data any `json:"data,omitempty"`
}

// Observer receives events for one run, in publication order. Token
// events are delivered from the streaming read; implementations that
// block should copy the token and return.
type Observer func(Event)

// StartData accompanies the start event.
type StartData struct {
	AgentID string `json:"agent_id"`
	Mode    string `json:"mode"`
	Goal    string `json:"goal"`
}

// LoopStateData accompanies loop-state events.
type LoopStateData struct {
	State         LoopState `json:"state"`
	Step          int       `json:"step"`
	EvidenceCount int       `json:"evidence_count"`
	Summary       string    `json:"summary,omitempty"`
}

// PlanningStartData accompanies planning-start.
type PlanningStartData struct {
	Goal string `json:"goal"`
}

// PlanningResultData accompanies planning-result.
type PlanningResultData struct {
	Next          string   `json:"next"`
	Reason        string   `json:"reason"`
	EvidenceGoals []string `json:"evidence_goals,omitempty"`
	Guidance      string   `json:"guidance,omitempty"`
}

// CompactionStartData accompanies compaction-start.
type CompactionStartData struct {
	EstimatedTokens    int `json:"estimated_tokens"`
	TriggerTokens      int `json:"trigger_tokens"`
	TargetTokens       int `json:"target_tokens"`
	ContextLimitTokens int `json:"context_limit_tokens"`
	MessageCount       int `json:"message_count"`
}

// CompactionCompleteData accompanies compaction-complete.
type CompactionCompleteData struct {
	BeforeTokens   int `json:"before_tokens"`
	AfterTokens    int `json:"after_tokens"`
	BeforeMessages int `json:"before_messages"`
	AfterMessages  int `json:"after_messages"`
}

// WorkerStartData accompanies worker-start.
type WorkerStartData struct {
	Step int `json:"step"`
}

// WorkerTokenData accompanies worker-token.
type WorkerTokenData struct {
	Step  int    `json:"step"`
	Token string `json:"token"`
}

// WorkerActionData accompanies worker-action.
type WorkerActionData struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
}

// ToolStartData accompanies tool-start.
type ToolStartData struct {
	Step int    `json:"step"`
	Cmd  string `json:"cmd"`
}

// ToolResultData accompanies tool-result.
type ToolResultData struct {
	Step             int    `json:"step"`
	ExitCode         int    `json:"exit_code"`
	Stdout           string `json:"stdout"`
	Stderr           string `json:"stderr"`
	Runner           string `json:"runner"`
	WorkspaceGroupID string `json:"workspace_group_id"`
}

// AskData accompanies ask.
type AskData struct {
	Step     int    `json:"step"`
	Question string `json:"question"`
}

// AskAnswerData accompanies ask-answer.
type AskAnswerData struct {
	Step   int    `json:"step"`
	Answer string `json:"answer"`
}

// MainStartData accompanies main-start.
type MainStartData struct {
	Phase         string `json:"phase"`
	EvidenceCount int    `json:"evidence_count"`
}

// MainTokenData accompanies main-token.
type MainTokenData struct {
	Phase string `json:"phase"`
	Token string `json:"token"`
}

// MainDecisionData accompanies main-decision.
type MainDecisionData struct {
	Phase    string `json:"phase"`
	Decision string `json:"decision"`
	Guidance string `json:"guidance,omitempty"`
}

// FinalAnswerData accompanies final-answer.
type FinalAnswerData struct {
	Answer string `json:"answer"`
}

// CompleteData accompanies complete.
type CompleteData struct {
	Steps         int `json:"steps"`
	EvidenceCount int `json:"evidence_count"`
}
