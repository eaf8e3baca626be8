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
	"github.com/AleutianAI/KiskaLocal/services/llm"
)

// Config tunes the call wrapper per deployment. A zero RetryLimit falls
// back to DefaultRetryLimit; a zero WorkerMaxResponseTokens disables the
// reply length check, and a zero MaxPipes allows no pipes.
type Config struct {
	// RetryLimit is the structured repair budget (default 2).
	RetryLimit int

	// WorkerMaxResponseTokens caps the worker's reply length.
	WorkerMaxResponseTokens int

	// WorkerDisableThinkingHack turns the think-bypass primer on for
	// worker action requests.
	WorkerDisableThinkingHack bool

	// MainDisableThinkingHack turns the primer on for main planning and
	// decision requests.
	MainDisableThinkingHack bool

	// FinalDisableThinkingHack turns the primer on for the final report.
	FinalDisableThinkingHack bool

	// MaxPipes is the command safety gate's pipe budget.
	MaxPipes int
}

// retryLimit resolves the effective repair budget.
func (c Config) retryLimit() int {
	if c.RetryLimit > 0 {
		return c.RetryLimit
	}
	return DefaultRetryLimit
}

// Sampling profiles, fixed per phase independent of model defaults.
var (
	workerTemperature = float32(0.7)
	workerTopP        = float32(1.0)
	mainTemperature   = float32(0.7)
	mainTopP          = float32(1.0)
	finalTemperature  = float32(1.0)
	finalTopP         = float32(0.95)
)

// WorkerActionRequest is the sampling profile for worker actions.
func (c Config) WorkerActionRequest() llm.ChatRequest {
	req := llm.ChatRequest{
		Temperature:         &workerTemperature,
		TopP:                &workerTopP,
		DisableThinkingHack: c.WorkerDisableThinkingHack,
		DebugTag:            "worker-action",
	}
	if c.WorkerMaxResponseTokens > 0 {
		tokens := c.WorkerMaxResponseTokens
		req.MaxTokens = &tokens
	}
	return req
}

// PlanningRequest is the sampling profile for main planning.
func (c Config) PlanningRequest() llm.ChatRequest {
	return llm.ChatRequest{
		Temperature:         &mainTemperature,
		TopP:                &mainTopP,
		DisableThinkingHack: c.MainDisableThinkingHack,
		DebugTag:            "main-planning",
	}
}

// DecisionRequest is the sampling profile for the sufficiency decision.
// A prior decision's forced_synthesis_enable_think, when true, overrides
// the configured think bypass so the forced pass may reason.
func (c Config) DecisionRequest(enableThinkOverride *bool) llm.ChatRequest {
	req := llm.ChatRequest{
		Temperature:         &mainTemperature,
		TopP:                &mainTopP,
		DisableThinkingHack: c.MainDisableThinkingHack,
		DebugTag:            "main-decision",
	}
	if enableThinkOverride != nil && *enableThinkOverride {
		req.DisableThinkingHack = false
	}
	return req
}

// FinalReportRequest is the sampling profile for the final report.
func (c Config) FinalReportRequest() llm.ChatRequest {
	return llm.ChatRequest{
		Temperature:         &finalTemperature,
		TopP:                &finalTopP,
		DisableThinkingHack: c.FinalDisableThinkingHack,
		DebugTag:            "final-report",
	}
}
