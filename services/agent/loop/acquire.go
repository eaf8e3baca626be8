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
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
	"github.com/AleutianAI/KiskaLocal/services/agent/evidence"
	"github.com/AleutianAI/KiskaLocal/services/agent/llmcall"
	"github.com/AleutianAI/KiskaLocal/services/agent/prompts"
)

// handleAcquireEvidence runs one worker turn: a tool call, a question
// to the operator, or a finalize request.
func (r *run) handleAcquireEvidence(ctx context.Context) (agent.LoopState, error) {
	r.emitState(agent.StateAcquireEvidence, fmt.Sprintf("worker step %d", r.rt.Step))

	if r.rt.Step > r.orc.Routed.MaxSteps {
		r.rt.ForcedSynthesisReason = fmt.Sprintf("max step reached: step=%d, maxSteps=%d",
			r.rt.Step, r.orc.Routed.MaxSteps)
		return agent.StateForcedSynthesis, nil
	}
	r.rt.Steps = r.rt.Step

	r.emit(agent.EventWorkerStart, &agent.WorkerStartData{Step: r.rt.Step})

	messages := prompts.BuildWorkerMessages(r.orc.WorkerSystemPrompt, prompts.WorkerHeaderInput{
		Goal:             r.goal,
		Step:             r.rt.Step,
		Guidance:         r.rt.Guidance,
		RecentUserAnswer: r.rt.RecentUserAnswer,
		EvidenceSummary:  evidence.SummarizeRecentForWorker(r.rt.Evidence, prompts.EvidenceWindow),
		LastTool:         r.rt.LastTool,
	})

	action, err := llmcall.AskWorkerForAction(ctx, r.orc.WorkerAPI, r.orc.Call, messages,
		r.rt.Step, r.orc.Routed.Stream, r.workerTokenCallback(r.rt.Step))
	if err != nil {
		var wvf *agent.WorkerValidationFailure
		if !errors.As(err, &wvf) {
			return "", err
		}
		return r.workerValidationFailed(wvf)
	}

	switch action.Action {
	case datatypes.ActionCallTool:
		return r.executeTool(ctx, action)
	case datatypes.ActionAsk:
		return r.askOperator(ctx, action)
	default:
		r.emit(agent.EventWorkerAction, &agent.WorkerActionData{
			Step:   r.rt.Step,
			Action: datatypes.ActionFinalize,
			Detail: "worker requested finalize",
		})
		return agent.StateAssessSufficiency, nil
	}
}

// workerValidationFailed records the failure and forces synthesis.
func (r *run) workerValidationFailed(wvf *agent.WorkerValidationFailure) (agent.LoopState, error) {
	r.emit(agent.EventWorkerAction, &agent.WorkerActionData{
		Step:   r.rt.Step,
		Action: datatypes.ActionFinalize,
		Detail: wvf.Error(),
	})

	r.rt.Evidence = evidence.AddMainGuidance(r.rt.Evidence,
		"worker output was repeatedly invalid: "+wvf.Error())
	r.rt.ForcedSynthesisReason = wvf.Error()

	line := agent.WorkerValidationFailLine(r.rt.Step, wvf.Error())
	if err := r.appendAndPersist(datatypes.RoleSystem, line); err != nil {
		return "", err
	}
	return agent.StateForcedSynthesis, nil
}

// executeTool runs a gated shell command in the sandbox and records the
// result as evidence and session entries.
func (r *run) executeTool(ctx context.Context, action *datatypes.WorkerAction) (agent.LoopState, error) {
	step := r.rt.Step
	cmd := action.Args.Cmd

	r.emit(agent.EventWorkerAction, &agent.WorkerActionData{
		Step:   step,
		Action: datatypes.ActionCallTool,
		Detail: action.Reason,
	})
	r.emit(agent.EventToolStart, &agent.ToolStartData{Step: step, Cmd: cmd})

	result, err := r.orc.Runner.Run(ctx, cmd, r.workspaceGroup, r.orc.SandboxOptions)
	if err != nil {
		return "", fmt.Errorf("sandbox executor failed at step %d: %w", step, err)
	}
	r.rt.LastTool = result
	r.rt.Evidence = evidence.AddToolResult(r.rt.Evidence, result)

	if err := r.appendAndPersist(datatypes.RoleSystem, agent.WorkerToolLine(step, cmd)); err != nil {
		return "", err
	}
	if err := r.appendAndPersist(datatypes.RoleSystem, agent.WorkerToolResultLine(step, result.ExitCode)); err != nil {
		return "", err
	}

	// Both session entries are durable before the result event fires.
	r.emit(agent.EventToolResult, &agent.ToolResultData{
		Step:             step,
		ExitCode:         result.ExitCode,
		Stdout:           result.Stdout,
		Stderr:           result.Stderr,
		Runner:           result.Runner,
		WorkspaceGroupID: result.WorkspaceGroupID,
	})

	r.rt.Step++
	return agent.StateAcquireEvidence, nil
}

// askOperator routes a worker question through the askUser callback.
func (r *run) askOperator(ctx context.Context, action *datatypes.WorkerAction) (agent.LoopState, error) {
	step := r.rt.Step
	question := action.Question

	r.emit(agent.EventWorkerAction, &agent.WorkerActionData{
		Step:   step,
		Action: datatypes.ActionAsk,
		Detail: question,
	})
	r.emit(agent.EventAsk, &agent.AskData{Step: step, Question: question})

	if r.opts.AskUser == nil {
		return "", &agent.ConfigError{
			Reason: fmt.Sprintf("worker asked %q at step %d", question, step),
			Err:    agent.ErrAskUserUnavailable,
		}
	}

	answer, err := r.opts.AskUser(ctx, question)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	r.rt.RecentUserAnswer = answer
	r.rt.Evidence = evidence.AddUserAnswer(r.rt.Evidence, question, answer)

	if err := r.appendAndPersist(datatypes.RoleSystem, agent.WorkerAskLine(step, question)); err != nil {
		return "", err
	}
	if err := r.appendAndPersist(datatypes.RoleSystem, agent.WorkerAskAnswerLine(step, answer)); err != nil {
		return "", err
	}

	r.emit(agent.EventAskAnswer, &agent.AskAnswerData{Step: step, Answer: answer})

	r.rt.Step++
	return agent.StateAcquireEvidence, nil
}
