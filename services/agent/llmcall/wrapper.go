// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmcall wraps chat completions for the agent loop: streaming
// on first attempts, the structured-output repair-retry protocol, the
// per-phase sampling profiles, and the deterministic fallback answer.
package llmcall

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
	"github.com/AleutianAI/KiskaLocal/services/agent/structured"
	"github.com/AleutianAI/KiskaLocal/services/llm"
)

var tracer = otel.Tracer("kiska.agent.llmcall")

// DefaultRetryLimit is the structured repair budget: one initial attempt
// plus this many repairs.
const DefaultRetryLimit = 2

// RequestChatReply issues one chat completion. Attempt 0 streams when
// streamOnFirst is set; retries always run non-streaming so the repair
// loop stays deterministic.
func RequestChatReply(
	ctx context.Context,
	api llm.Client,
	messages []datatypes.ChatMessage,
	attempt int,
	streamOnFirst bool,
	request llm.ChatRequest,
	onToken llm.TokenCallback,
) (string, error) {
	request.Messages = messages

	var (
		reply *llm.ChatReply
		err   error
	)
	if attempt == 0 && streamOnFirst {
		reply, err = api.Stream(ctx, request, onToken)
	} else {
		reply, err = api.Completion(ctx, request)
	}
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

// ParseFunc validates one completion into a T.
type ParseFunc[T any] func(content string) (T, error)

// RequestForAttemptFunc supplies the request profile for an attempt.
type RequestForAttemptFunc func(attempt int) llm.ChatRequest

// RequestStructuredWithRepair drives the repair-retry protocol for a
// structured phase. Each failed parse appends the bad assistant reply
// and a repair prompt to the base messages and retries; provider errors
// consume a retry without a repair prompt. When the budget is exhausted
// the last provider error is surfaced as-is, and the last parse failure
// as a *agent.StructuredValidationError.
func RequestStructuredWithRepair[T any](
	ctx context.Context,
	api llm.Client,
	baseMessages []datatypes.ChatMessage,
	retryLimit int,
	streamOnFirst bool,
	requestForAttempt RequestForAttemptFunc,
	parse ParseFunc[T],
	repairKind string,
	onToken llm.TokenCallback,
) (T, error) {
	var zero T

	messages := baseMessages
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		content, err := RequestChatReply(ctx, api, messages, attempt, streamOnFirst, requestForAttempt(attempt), onToken)
		if err != nil {
			var perr *llm.ProviderError
			if errors.As(err, &perr) && attempt < retryLimit {
				// Transport trouble consumes a retry with the same prompt.
				continue
			}
			return zero, err
		}

		parsed, parseErr := parse(content)
		if parseErr == nil {
			return parsed, nil
		}

		if attempt >= retryLimit {
			return zero, &agent.StructuredValidationError{
				Kind:     repairKind,
				Attempts: attempt + 1,
				Reason:   parseErr.Error(),
			}
		}

		repair := structured.BuildStructuredRepairPrompt(repairKind, parseErr.Error())
		messages = append(append(append([]datatypes.ChatMessage{}, baseMessages...),
			datatypes.ChatMessage{Role: datatypes.RoleAssistant, Content: content}), repair)
	}
}
