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

// defaultContinueGuidance is used when a continue decision carries none.
const defaultContinueGuidance = "Gather more concrete evidence and retry finalize."

// decisionFailGuidance steers the worker after an unparseable decision.
const decisionFailGuidance = "The sufficiency check failed; gather more concrete evidence with safe read-only commands and retry finalize."

// handleAssessSufficiency asks the main model whether the gathered
// evidence supports a final answer.
func (r *run) handleAssessSufficiency(ctx context.Context) (agent.LoopState, error) {
	r.emitState(agent.StateAssessSufficiency, "judging evidence sufficiency")
	r.emit(agent.EventMainStart, &agent.MainStartData{
		Phase:         agent.PhaseAssessSufficiency,
		EvidenceCount: len(r.rt.Evidence),
	})

	messages := prompts.BuildDecisionMessages(prompts.DecisionInput{
		Goal:            r.goal,
		EvidenceSummary: r.evidenceSummaryForMain(),
		Guidance:        r.rt.Guidance,
	})

	decision, err := llmcall.AskMainForDecision(ctx, r.orc.MainAPI, r.orc.Call, messages,
		nil, r.orc.Routed.Stream, r.mainTokenCallback(agent.PhaseAssessSufficiency))
	if err != nil {
		var sve *agent.StructuredValidationError
		if !errors.As(err, &sve) {
			return "", err
		}
		return r.decisionFailed(err)
	}

	if decision.ForcedSynthesisEnableThink != nil {
		r.rt.ForcedSynthesisEnableThink = decision.ForcedSynthesisEnableThink
	}

	if decision.Decision == datatypes.DecisionContinue {
		guidance := decision.Guidance
		if strings.TrimSpace(guidance) == "" {
			guidance = defaultContinueGuidance
		}
		r.rt.Guidance = guidance
		r.rt.Evidence = evidence.AddMainGuidance(r.rt.Evidence, guidance)

		// The guidance entry is durable before the decision event fires.
		if err := r.appendAndPersist(datatypes.RoleSystem, agent.MainGuidanceLine(r.rt.Step, guidance)); err != nil {
			return "", err
		}
		r.emit(agent.EventMainDecision, &agent.MainDecisionData{
			Phase:    agent.PhaseAssessSufficiency,
			Decision: decision.Decision,
			Guidance: guidance,
		})
		r.rt.Step++
		return agent.StateAcquireEvidence, nil
	}

	r.emit(agent.EventMainDecision, &agent.MainDecisionData{
		Phase:    agent.PhaseAssessSufficiency,
		Decision: decision.Decision,
		Guidance: decision.Guidance,
	})

	return r.finishWithReport(ctx,
		strings.TrimSpace(decision.Answer),
		prompts.SummarizeDecisionContext(decision))
}

// decisionFailed converts an unparseable decision into synthetic
// guidance and another worker turn.
func (r *run) decisionFailed(cause error) (agent.LoopState, error) {
	r.rt.Guidance = decisionFailGuidance
	r.rt.Evidence = evidence.AddMainGuidance(r.rt.Evidence, decisionFailGuidance)

	line := agent.MainDecisionFailLine(r.rt.Step, cause.Error())
	if err := r.appendAndPersist(datatypes.RoleSystem, line); err != nil {
		return "", err
	}

	r.emit(agent.EventMainDecision, &agent.MainDecisionData{
		Phase:    agent.PhaseAssessSufficiency,
		Decision: datatypes.DecisionContinue,
		Guidance: decisionFailGuidance,
	})

	r.rt.Step++
	return agent.StateAcquireEvidence, nil
}
