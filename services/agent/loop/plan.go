// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/contextguard"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
	"github.com/AleutianAI/KiskaLocal/services/agent/evidence"
	"github.com/AleutianAI/KiskaLocal/services/agent/llmcall"
	"github.com/AleutianAI/KiskaLocal/services/agent/prompts"
)

// defaultPlanGuidance steers the run when planning itself fails.
const defaultPlanGuidance = "Collect concrete evidence with safe read-only commands before finalize."

// planningFallback is the synthetic plan used when planning fails.
func planningFallback(err error) *datatypes.PlanningResult {
	return &datatypes.PlanningResult{
		Next:     datatypes.PlanCollectEvidence,
		Reason:   "planning failed: " + err.Error(),
		Guidance: defaultPlanGuidance,
	}
}

// handlePlanIntent asks the main model how to open the run and applies
// the resulting plan.
func (r *run) handlePlanIntent(ctx context.Context) (agent.LoopState, error) {
	r.emitState(agent.StatePlanIntent, "planning the run")
	r.emit(agent.EventPlanningStart, &agent.PlanningStartData{Goal: r.goal})
	r.emit(agent.EventMainStart, &agent.MainStartData{
		Phase:         agent.PhasePlanning,
		EvidenceCount: len(r.rt.Evidence),
	})

	messages := prompts.BuildPlanningMessages(r.goal, r.session.Messages, contextguard.Marker)
	plan, err := llmcall.AskMainForPlanning(ctx, r.orc.MainAPI, r.orc.Call, messages,
		r.orc.Routed.Stream, r.mainTokenCallback(agent.PhasePlanning))
	if err != nil {
		var sve *agent.StructuredValidationError
		if !errors.As(err, &sve) {
			return "", err
		}
		// A model that cannot produce a plan still gets a run: default
		// to evidence collection and leave a trace for compaction.
		plan = planningFallback(err)
		if persistErr := r.appendAndPersist(datatypes.RoleSystem, agent.TagPlanningFail+" "+err.Error()); persistErr != nil {
			return "", persistErr
		}
	}
	r.rt.Planning = plan

	if plan.Guidance != "" {
		r.rt.Guidance = plan.Guidance
	}
	if len(plan.EvidenceGoals) > 0 {
		r.rt.Evidence = evidence.AddMainGuidance(r.rt.Evidence,
			"evidence goals: "+strings.Join(plan.EvidenceGoals, "; "))
	}

	r.emit(agent.EventPlanningResult, &agent.PlanningResultData{
		Next:          plan.Next,
		Reason:        plan.Reason,
		EvidenceGoals: plan.EvidenceGoals,
		Guidance:      plan.Guidance,
	})
	resultLine := fmt.Sprintf("%s next=%s reason=%s", agent.TagPlanningResult, plan.Next, plan.Reason)
	if err := r.appendAndPersist(datatypes.RoleSystem, resultLine); err != nil {
		return "", err
	}

	switch plan.Next {
	case datatypes.PlanMainDecision:
		return agent.StateAssessSufficiency, nil
	case datatypes.PlanFinalReport:
		return r.finishWithReport(ctx, strings.TrimSpace(plan.AnswerHint), "")
	default:
		return agent.StateAcquireEvidence, nil
	}
}

// finishWithReport produces the final answer and closes the run.
func (r *run) finishWithReport(ctx context.Context, draft, decisionContext string) (agent.LoopState, error) {
	r.emit(agent.EventMainStart, &agent.MainStartData{
		Phase:         agent.PhaseFinalReport,
		EvidenceCount: len(r.rt.Evidence),
	})

	evidenceLines := evidence.SummarizeForMain(r.rt.Evidence)
	answer, usedFallback, err := llmcall.AskMainForFinalAnswer(ctx, r.orc.MainAPI, r.orc.Call,
		prompts.FinalAnswerInput{
			Goal:            r.goal,
			Draft:           draft,
			DecisionContext: decisionContext,
			EvidenceSummary: strings.Join(evidenceLines, "\n"),
		},
		evidenceLines,
		r.orc.Routed.Stream,
		r.mainTokenCallback(agent.PhaseFinalReport),
	)
	if err != nil {
		return "", err
	}
	if usedFallback {
		line := agent.MainFinalAnswerFailLine(r.rt.Step, "final report fell back to the evidence template")
		if persistErr := r.appendAndPersist(datatypes.RoleSystem, line); persistErr != nil {
			return "", persistErr
		}
	}

	r.rt.FinalAnswer = answer
	r.emit(agent.EventFinalAnswer, &agent.FinalAnswerData{Answer: answer})
	return agent.StateDone, nil
}
