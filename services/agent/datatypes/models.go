// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// AgentMode selects how the two loop roles are staffed.
type AgentMode string

const (
	// ModeMainWorker runs a fast worker model for evidence gathering and
	// a slower main model for planning, judging, and the final report.
	ModeMainWorker AgentMode = "main-worker"

	// ModeSingleMain points both roles at the same model.
	ModeSingleMain AgentMode = "single-main"
)

// ResolvedModel is a fully routed model candidate: everything the chat
// completion adapter needs to issue a request.
type ResolvedModel struct {
	// ID is the registry identifier for this candidate.
	ID string `json:"id" validate:"required"`

	// Provider names the adapter implementation ("openai-compat", "openai").
	Provider string `json:"provider" validate:"required"`

	// Endpoint is the base URL of the serving endpoint.
	Endpoint string `json:"endpoint" validate:"required,url"`

	// Credential is the resolved API credential. May be empty for local
	// servers that do not authenticate.
	Credential string `json:"-"`

	// ModelName is the provider-side model name.
	ModelName string `json:"model_name" validate:"required"`

	// ContextLength is the model's context window in tokens, if known.
	ContextLength int `json:"context_length,omitempty" validate:"omitempty,gt=0"`

	// Temperature is the model-level default temperature, if any.
	Temperature *float32 `json:"temperature,omitempty"`

	// MaxTokens is the model-level default completion budget, if any.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// ExtraParams are provider-specific body fields forwarded verbatim.
	// Request-level ExtraBody wins when keys collide.
	ExtraParams map[string]any `json:"extra_params,omitempty"`
}

// ResolvedAgentConfig is the routed configuration for one agent loop run.
type ResolvedAgentConfig struct {
	// Mode is main-worker or single-main.
	Mode AgentMode `json:"mode" validate:"required,oneof=main-worker single-main"`

	// MaxSteps bounds the number of worker turns.
	MaxSteps int `json:"max_steps" validate:"required,gte=1"`

	// Stream enables token streaming on first attempts.
	Stream bool `json:"stream"`

	// Main is the planning/judging/report model.
	Main ResolvedModel `json:"main"`

	// Worker is the evidence-gathering model. Identical to Main in
	// single-main mode.
	Worker ResolvedModel `json:"worker"`
}

// ContextLimitTokens returns the effective context budget for a run: the
// smaller of the two candidates' windows, or defaultLen when neither
// declares one.
func (c *ResolvedAgentConfig) ContextLimitTokens(defaultLen int) int {
	limit := 0
	for _, m := range []ResolvedModel{c.Main, c.Worker} {
		if m.ContextLength > 0 && (limit == 0 || m.ContextLength < limit) {
			limit = m.ContextLength
		}
	}
	if limit == 0 {
		return defaultLen
	}
	return limit
}
