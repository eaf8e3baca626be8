// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry loads the YAML model registry and routes agent IDs to
// resolved model configurations.
//
// Credentials never live in the registry file itself: each provider
// names an environment variable or secret file, and the resolved value
// is held in a memguard enclave until a route materializes it for the
// adapter.
package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// registryValidate validates registry documents.
var registryValidate = validator.New()

// ProviderSpec describes one serving endpoint.
type ProviderSpec struct {
	// ID names the provider within the registry.
	ID string `yaml:"id" validate:"required"`

	// Kind selects the adapter ("openai-compat" or "openai").
	Kind string `yaml:"kind" validate:"required,oneof=openai-compat openai"`

	// Endpoint is the base URL.
	Endpoint string `yaml:"endpoint" validate:"required,url"`

	// CredentialEnv names an environment variable holding the API key.
	CredentialEnv string `yaml:"credential_env,omitempty"`

	// CredentialFile points at a secret file holding the API key.
	CredentialFile string `yaml:"credential_file,omitempty"`
}

// ModelSpec describes one model candidate.
type ModelSpec struct {
	// ID names the candidate within the registry.
	ID string `yaml:"id" validate:"required"`

	// Provider references a ProviderSpec.ID.
	Provider string `yaml:"provider" validate:"required"`

	// ModelName is the provider-side model name.
	ModelName string `yaml:"model_name" validate:"required"`

	// ContextLength is the model's window in tokens, if known.
	ContextLength int `yaml:"context_length,omitempty" validate:"omitempty,gt=0"`

	// Temperature and MaxTokens are model-level sampling defaults.
	Temperature *float32 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`

	// ExtraParams are provider-specific body fields forwarded verbatim.
	ExtraParams map[string]any `yaml:"extra_params,omitempty"`
}

// AgentSpec wires an agent ID to its models.
type AgentSpec struct {
	// ID is the agent identifier used on the CLI.
	ID string `yaml:"id" validate:"required"`

	// Mode is main-worker or single-main.
	Mode datatypes.AgentMode `yaml:"mode" validate:"required,oneof=main-worker single-main"`

	// Main references a ModelSpec.ID.
	Main string `yaml:"main" validate:"required"`

	// Worker references a ModelSpec.ID. Ignored in single-main mode.
	Worker string `yaml:"worker,omitempty"`

	// MaxSteps bounds worker turns.
	MaxSteps int `yaml:"max_steps" validate:"required,gte=1"`

	// Stream enables token streaming by default.
	Stream bool `yaml:"stream"`
}

// registryDocument is the on-disk registry shape.
type registryDocument struct {
	Providers []ProviderSpec `yaml:"providers" validate:"required,min=1,dive"`
	Models    []ModelSpec    `yaml:"models" validate:"required,min=1,dive"`
	Agents    []AgentSpec    `yaml:"agents" validate:"required,min=1,dive"`
}

// ModelRegistry is a loaded, validated registry with credentials sealed.
type ModelRegistry struct {
	providers   map[string]ProviderSpec
	models      map[string]ModelSpec
	agents      map[string]AgentSpec
	credentials map[string]*memguard.Enclave
}

// LoadRegistry reads, validates, and seals the registry at path.
func LoadRegistry(path string) (*ModelRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &agent.ConfigError{Reason: fmt.Sprintf("model registry not readable at %s", path), Err: err}
	}

	var doc registryDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &agent.ConfigError{Reason: "model registry is not valid YAML", Err: err}
	}
	if err := registryValidate.Struct(&doc); err != nil {
		return nil, &agent.ConfigError{Reason: "model registry failed validation", Err: err}
	}

	reg := &ModelRegistry{
		providers:   make(map[string]ProviderSpec, len(doc.Providers)),
		models:      make(map[string]ModelSpec, len(doc.Models)),
		agents:      make(map[string]AgentSpec, len(doc.Agents)),
		credentials: make(map[string]*memguard.Enclave),
	}

	for _, p := range doc.Providers {
		if _, dup := reg.providers[p.ID]; dup {
			return nil, &agent.ConfigError{Reason: fmt.Sprintf("duplicate provider id %q", p.ID)}
		}
		reg.providers[p.ID] = p
		if enclave, err := sealCredential(p); err != nil {
			return nil, err
		} else if enclave != nil {
			reg.credentials[p.ID] = enclave
		}
	}
	for _, m := range doc.Models {
		if _, ok := reg.providers[m.Provider]; !ok {
			return nil, &agent.ConfigError{Reason: fmt.Sprintf("model %q references unknown provider %q", m.ID, m.Provider)}
		}
		if _, dup := reg.models[m.ID]; dup {
			return nil, &agent.ConfigError{Reason: fmt.Sprintf("duplicate model id %q", m.ID)}
		}
		reg.models[m.ID] = m
	}
	for _, a := range doc.Agents {
		if _, ok := reg.models[a.Main]; !ok {
			return nil, &agent.ConfigError{Reason: fmt.Sprintf("agent %q references unknown main model %q", a.ID, a.Main)}
		}
		if a.Mode == datatypes.ModeMainWorker {
			if a.Worker == "" {
				return nil, &agent.ConfigError{Reason: fmt.Sprintf("agent %q is main-worker but names no worker model", a.ID)}
			}
			if _, ok := reg.models[a.Worker]; !ok {
				return nil, &agent.ConfigError{Reason: fmt.Sprintf("agent %q references unknown worker model %q", a.ID, a.Worker)}
			}
		}
		if _, dup := reg.agents[a.ID]; dup {
			return nil, &agent.ConfigError{Reason: fmt.Sprintf("duplicate agent id %q", a.ID)}
		}
		reg.agents[a.ID] = a
	}

	return reg, nil
}

// sealCredential resolves a provider's credential source into an
// enclave. Both sources empty means an unauthenticated endpoint.
func sealCredential(p ProviderSpec) (*memguard.Enclave, error) {
	if p.CredentialEnv != "" {
		if value := os.Getenv(p.CredentialEnv); value != "" {
			return memguard.NewEnclave([]byte(value)), nil
		}
	}
	if p.CredentialFile != "" {
		raw, err := os.ReadFile(p.CredentialFile)
		if err != nil {
			return nil, &agent.ConfigError{
				Reason: fmt.Sprintf("provider %q credential file %s not readable", p.ID, p.CredentialFile),
				Err:    err,
			}
		}
		return memguard.NewEnclave([]byte(strings.TrimSpace(string(raw)))), nil
	}
	return nil, nil
}

// AgentIDs returns the registered agent IDs.
func (r *ModelRegistry) AgentIDs() []string {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// Models returns the registered model specs.
func (r *ModelRegistry) Models() []ModelSpec {
	models := make([]ModelSpec, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	return models
}

// AgentOverride carries caller overrides applied on top of an AgentSpec.
type AgentOverride struct {
	// Mode overrides the agent mode when non-empty.
	Mode datatypes.AgentMode

	// MaxSteps overrides the step budget when > 0.
	MaxSteps int

	// Stream overrides the streaming flag when non-nil.
	Stream *bool
}

// RouteAgent resolves an agent ID plus overrides into the concrete
// model configuration for one run. In single-main mode the worker slot
// mirrors the main model.
func RouteAgent(reg *ModelRegistry, agentID string, override AgentOverride) (*datatypes.ResolvedAgentConfig, error) {
	spec, ok := reg.agents[agentID]
	if !ok {
		return nil, &agent.ConfigError{Reason: fmt.Sprintf("unknown agent id %q", agentID)}
	}

	mode := spec.Mode
	if override.Mode != "" {
		mode = override.Mode
	}
	maxSteps := spec.MaxSteps
	if override.MaxSteps > 0 {
		maxSteps = override.MaxSteps
	}
	stream := spec.Stream
	if override.Stream != nil {
		stream = *override.Stream
	}

	main, err := reg.resolveModel(spec.Main)
	if err != nil {
		return nil, err
	}

	worker := main
	if mode == datatypes.ModeMainWorker {
		if spec.Worker == "" {
			return nil, &agent.ConfigError{Reason: fmt.Sprintf("agent %q has no worker model for main-worker mode", agentID)}
		}
		worker, err = reg.resolveModel(spec.Worker)
		if err != nil {
			return nil, err
		}
	}

	return &datatypes.ResolvedAgentConfig{
		Mode:     mode,
		MaxSteps: maxSteps,
		Stream:   stream,
		Main:     main,
		Worker:   worker,
	}, nil
}

// resolveModel materializes a ModelSpec into a ResolvedModel, opening
// the provider's credential enclave if one is sealed.
func (r *ModelRegistry) resolveModel(modelID string) (datatypes.ResolvedModel, error) {
	spec, ok := r.models[modelID]
	if !ok {
		return datatypes.ResolvedModel{}, &agent.ConfigError{Reason: fmt.Sprintf("unknown model id %q", modelID)}
	}
	provider := r.providers[spec.Provider]

	credential := ""
	if enclave, ok := r.credentials[provider.ID]; ok {
		buf, err := enclave.Open()
		if err != nil {
			return datatypes.ResolvedModel{}, &agent.ConfigError{
				Reason: fmt.Sprintf("credential for provider %q could not be opened", provider.ID),
				Err:    err,
			}
		}
		credential = string(buf.Bytes())
		buf.Destroy()
	}

	return datatypes.ResolvedModel{
		ID:            spec.ID,
		Provider:      provider.Kind,
		Endpoint:      provider.Endpoint,
		Credential:    credential,
		ModelName:     spec.ModelName,
		ContextLength: spec.ContextLength,
		Temperature:   spec.Temperature,
		MaxTokens:     spec.MaxTokens,
		ExtraParams:   spec.ExtraParams,
	}, nil
}
