// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llmcall

import (
	"context"
	"errors"
	"strings"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
	"github.com/AleutianAI/KiskaLocal/services/agent/prompts"
	"github.com/AleutianAI/KiskaLocal/services/agent/safety"
	"github.com/AleutianAI/KiskaLocal/services/agent/structured"
	"github.com/AleutianAI/KiskaLocal/services/llm"
)

// AskWorkerForAction requests one structured worker action. The parse
// step strips think blocks, enforces the reply token limit, validates
// the action shape, and runs call_tool commands through the command
// safety gate. Exhausting the repair budget raises a
// *agent.WorkerValidationFailure carrying the step.
func AskWorkerForAction(
	ctx context.Context,
	api llm.Client,
	cfg Config,
	messages []datatypes.ChatMessage,
	step int,
	streamOnFirst bool,
	onToken llm.TokenCallback,
) (*datatypes.WorkerAction, error) {
	ctx, span := tracer.Start(ctx, "llmcall.AskWorkerForAction")
	defer span.End()

	gate := safety.NewGate(&safety.GateConfig{MaxPipes: cfg.MaxPipes})

	parse := func(content string) (*datatypes.WorkerAction, error) {
		stripped := structured.StripThinkBlocks(content)
		if err := structured.ValidateWorkerReplyTokenLimit(content, cfg.WorkerMaxResponseTokens); err != nil {
			return nil, err
		}
		action, err := structured.ParseWorkerAction(stripped)
		if err != nil {
			return nil, err
		}
		if action.Action == datatypes.ActionCallTool {
			if err := gate.Check(action.Args.Cmd); err != nil {
				return nil, err
			}
		}
		return action, nil
	}

	request := cfg.WorkerActionRequest()
	action, err := RequestStructuredWithRepair(ctx, api, messages, cfg.retryLimit(), streamOnFirst,
		func(int) llm.ChatRequest { return request },
		parse, structured.KindWorkerAction, onToken)
	if err != nil {
		var sve *agent.StructuredValidationError
		if errors.As(err, &sve) {
			return nil, &agent.WorkerValidationFailure{Step: step, Err: err}
		}
		// Provider failures and cancellation are not the worker's fault;
		// they propagate unchanged for the loop to abort on.
		return nil, err
	}
	return action, nil
}

// AskMainForPlanning requests the main model's opening plan.
func AskMainForPlanning(
	ctx context.Context,
	api llm.Client,
	cfg Config,
	messages []datatypes.ChatMessage,
	streamOnFirst bool,
	onToken llm.TokenCallback,
) (*datatypes.PlanningResult, error) {
	ctx, span := tracer.Start(ctx, "llmcall.AskMainForPlanning")
	defer span.End()

	request := cfg.PlanningRequest()
	return RequestStructuredWithRepair(ctx, api, messages, cfg.retryLimit(), streamOnFirst,
		func(int) llm.ChatRequest { return request },
		func(content string) (*datatypes.PlanningResult, error) {
			return structured.ParsePlanningResult(structured.StripThinkBlocks(content))
		},
		structured.KindPlanning, onToken)
}

// AskMainForDecision requests the sufficiency decision.
func AskMainForDecision(
	ctx context.Context,
	api llm.Client,
	cfg Config,
	messages []datatypes.ChatMessage,
	enableThinkOverride *bool,
	streamOnFirst bool,
	onToken llm.TokenCallback,
) (*datatypes.MainDecision, error) {
	ctx, span := tracer.Start(ctx, "llmcall.AskMainForDecision")
	defer span.End()

	request := cfg.DecisionRequest(enableThinkOverride)
	return RequestStructuredWithRepair(ctx, api, messages, cfg.retryLimit(), streamOnFirst,
		func(int) llm.ChatRequest { return request },
		func(content string) (*datatypes.MainDecision, error) {
			return structured.ParseMainDecision(structured.StripThinkBlocks(content))
		},
		structured.KindMainDecision, onToken)
}

// finalAnswerRepairRounds is how many plain-text rewrites are attempted
// before salvage and fallback.
const finalAnswerRepairRounds = 2

// AskMainForFinalAnswer requests the natural-language final report. It
// never fails on model misbehavior: structured leakage triggers rewrite
// rounds, then field salvage, then the deterministic fallback. The
// returned flag reports whether the fallback template was used. The
// only returned error is context cancellation.
func AskMainForFinalAnswer(
	ctx context.Context,
	api llm.Client,
	cfg Config,
	input prompts.FinalAnswerInput,
	evidenceLines []string,
	streamOnFirst bool,
	onToken llm.TokenCallback,
) (answer string, usedFallback bool, err error) {
	ctx, span := tracer.Start(ctx, "llmcall.AskMainForFinalAnswer")
	defer span.End()

	baseMessages := prompts.BuildFinalAnswerMessages(input)
	request := cfg.FinalReportRequest()

	messages := baseMessages
	var lastContent string
	for attempt := 0; attempt <= finalAnswerRepairRounds; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}

		content, callErr := RequestChatReply(ctx, api, messages, attempt, streamOnFirst, request, onToken)
		if callErr != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			break
		}

		content = strings.TrimSpace(structured.StripThinkBlocks(content))
		lastContent = content
		if content != "" && !structured.LooksLikeStructuredOutput(content) {
			return content, false, nil
		}

		messages = append(append(append([]datatypes.ChatMessage{}, baseMessages...),
			datatypes.ChatMessage{Role: datatypes.RoleAssistant, Content: content}),
			prompts.PlainTextReminder())
	}

	if salvaged := structured.TryExtractAnswerField(lastContent); salvaged != "" {
		return salvaged, false, nil
	}
	return FallbackFinalAnswer(input.Goal, evidenceLines), true, nil
}
