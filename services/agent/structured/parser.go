// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package structured extracts and validates the JSON protocol objects
// local models emit for the agent loop: worker actions, main decisions,
// and planning results.
//
// Local models routinely wrap JSON in prose, leak <think> reasoning
// blocks, or emit fenced code. The helpers here are deliberately
// forgiving about the packaging and strict about the payload shape.
package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// Structured output kinds, used for repair prompts and error reporting.
const (
	KindWorkerAction = "worker-action"
	KindMainDecision = "main-decision"
	KindPlanning     = "planning"
)

// ErrNoJSONObject indicates no JSON object could be located in the text.
var ErrNoJSONObject = errors.New("no JSON object found in model output")

// thinkBlockRe matches one <think>...</think> pair, case-insensitive,
// non-greedy across the pair so multiple blocks are each removed.
var thinkBlockRe = regexp.MustCompile(`(?is)<think>.*?</think>`)

// ExtractJSONObject returns the substring from the first '{' to the last
// '}' inclusive. Models decorate their JSON with prose and code fences;
// the outermost brace pair is the protocol object.
func ExtractJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", ErrNoJSONObject
	}
	return text[start : end+1], nil
}

// StripThinkBlocks removes every <think>...</think> block from text.
func StripThinkBlocks(text string) string {
	return thinkBlockRe.ReplaceAllString(text, "")
}

// ParseWorkerAction extracts and validates a WorkerAction from text.
func ParseWorkerAction(text string) (*datatypes.WorkerAction, error) {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var action datatypes.WorkerAction
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return nil, fmt.Errorf("worker action is not valid JSON: %w", err)
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	return &action, nil
}

// ParseMainDecision extracts and validates a MainDecision from text.
func ParseMainDecision(text string) (*datatypes.MainDecision, error) {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var decision datatypes.MainDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return nil, fmt.Errorf("main decision is not valid JSON: %w", err)
	}
	if err := decision.Validate(); err != nil {
		return nil, err
	}
	return &decision, nil
}

// ParsePlanningResult extracts and validates a PlanningResult from text.
func ParsePlanningResult(text string) (*datatypes.PlanningResult, error) {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var plan datatypes.PlanningResult
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("planning result is not valid JSON: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// EstimateTokens approximates the token count of text as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ValidateWorkerReplyTokenLimit rejects worker replies whose
// think-stripped body exceeds maxTokens. The think blocks are excluded
// so verbose reasoning does not penalize a terse answer.
func ValidateWorkerReplyTokenLimit(text string, maxTokens int) error {
	if maxTokens <= 0 {
		return nil
	}
	estimated := EstimateTokens(StripThinkBlocks(text))
	if estimated > maxTokens {
		return fmt.Errorf("worker reply exceeds token limit: ~%d tokens, limit %d", estimated, maxTokens)
	}
	return nil
}

// LooksLikeStructuredOutput reports whether text still reads as JSON or
// fenced code rather than the required plain natural language.
func LooksLikeStructuredOutput(text string) bool {
	trimmed := strings.TrimSpace(StripThinkBlocks(text))
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "```") {
		return true
	}
	if raw, err := ExtractJSONObject(trimmed); err == nil && json.Valid([]byte(raw)) {
		// A parsable object embedded in a short reply is leakage; inside
		// a long prose answer it is more likely quoted material.
		return len(raw)*2 > len(trimmed)
	}
	return false
}

// answerFieldKeys are tried in order when salvaging an answer from a
// structured final reply.
var answerFieldKeys = []string{"answer", "final_answer", "response", "final"}

// TryExtractAnswerField salvages a natural-language answer from a JSON
// object the final-report model emitted against instructions. Returns ""
// when nothing can be salvaged.
func TryExtractAnswerField(text string) string {
	raw, err := ExtractJSONObject(StripThinkBlocks(text))
	if err != nil {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return ""
	}
	for _, key := range answerFieldKeys {
		if v, ok := fields[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
