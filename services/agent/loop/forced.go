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
	"strings"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
	"github.com/AleutianAI/KiskaLocal/services/agent/evidence"
	"github.com/AleutianAI/KiskaLocal/services/agent/llmcall"
	"github.com/AleutianAI/KiskaLocal/services/agent/prompts"
)

// handleForcedSynthesis extracts a best-effort final report when the
// run can no longer gather evidence: the step budget ran out or the
// worker's output became unusable. It always reaches Done.
func (r *run) handleForcedSynthesis(ctx context.Context) (agent.LoopState, error) {
	r.emitState(agent.StateForcedSynthesis, r.rt.ForcedSynthesisReason)
	r.emit(agent.EventMainStart, &agent.MainStartData{
		Phase:         agent.PhaseForcedSynthesis,
		EvidenceCount: len(r.rt.Evidence),
	})

	state, err := r.tryForcedSynthesis(ctx)
	if err == nil {
		return state, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	var serr *agent.StoreError
	if errors.As(err, &serr) {
		return "", err
	}

	// Everything else degrades to the deterministic fallback so the
	// session still ends with an assistant answer.
	evidenceLines := evidence.SummarizeForMain(r.rt.Evidence)
	r.rt.FinalAnswer = llmcall.FallbackFinalAnswer(r.goal, evidenceLines)

	line := agent.TagMainForceFinalizeFail + " " + err.Error()
	if persistErr := r.appendAndPersist(datatypes.RoleSystem, line); persistErr != nil {
		return "", persistErr
	}

	r.emit(agent.EventMainDecision, &agent.MainDecisionData{
		Phase:    agent.PhaseForcedSynthesis,
		Decision: datatypes.DecisionFinalize,
		Guidance: "fallback finalize: " + err.Error(),
	})
	r.emit(agent.EventFinalAnswer, &agent.FinalAnswerData{Answer: r.rt.FinalAnswer})
	return agent.StateDone, nil
}

// tryForcedSynthesis runs the forced decision plus final report.
func (r *run) tryForcedSynthesis(ctx context.Context) (agent.LoopState, error) {
	messages := prompts.BuildDecisionMessages(prompts.DecisionInput{
		Goal:            r.goal,
		EvidenceSummary: r.evidenceSummaryForMain(),
		Guidance:        r.rt.Guidance,
		ForceFinalize:   true,
	})

	decision, err := llmcall.AskMainForDecision(ctx, r.orc.MainAPI, r.orc.Call, messages,
		r.rt.ForcedSynthesisEnableThink, r.orc.Routed.Stream,
		r.mainTokenCallback(agent.PhaseForcedSynthesis))
	if err != nil {
		return "", err
	}

	r.emit(agent.EventMainDecision, &agent.MainDecisionData{
		Phase:    agent.PhaseForcedSynthesis,
		Decision: datatypes.DecisionFinalize,
		Guidance: decision.Guidance,
	})

	return r.finishWithReport(ctx,
		strings.TrimSpace(decision.Answer),
		prompts.SummarizeDecisionContext(decision))
}
