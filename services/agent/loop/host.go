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

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
	"github.com/AleutianAI/KiskaLocal/services/agent/llmcall"
	"github.com/AleutianAI/KiskaLocal/services/agent/prompts"
	"github.com/AleutianAI/KiskaLocal/services/llm"
	"github.com/AleutianAI/KiskaLocal/services/registry"
	"github.com/AleutianAI/KiskaLocal/services/sandbox"
	"github.com/AleutianAI/KiskaLocal/services/session"
)

// HostConfig is everything RunAgentLoop needs beyond the call itself.
type HostConfig struct {
	// RegistryPath locates the YAML model registry.
	RegistryPath string

	// SessionDir is the session store directory.
	SessionDir string

	// WorkspaceRoot hosts local sandbox workspaces.
	WorkspaceRoot string

	// WorkerPromptPath locates the worker system prompt text file.
	WorkerPromptPath string

	// Call tunes the LLM call wrapper.
	Call llmcall.Config

	// Sandbox configures command execution.
	Sandbox sandbox.Options
}

// RunAgentLoop is the public entry point: it routes the agent, builds
// the role clients, loads the worker system prompt, and drives the loop
// on the given session.
func RunAgentLoop(
	ctx context.Context,
	host HostConfig,
	sess *datatypes.ChatSession,
	goal string,
	agentID string,
	opts agent.RunOptions,
) (*agent.RunResult, error) {
	reg, err := registry.LoadRegistry(host.RegistryPath)
	if err != nil {
		return nil, err
	}

	routed, err := registry.RouteAgent(reg, agentID, registry.AgentOverride{
		Mode:     opts.Mode,
		MaxSteps: opts.MaxSteps,
		Stream:   opts.Stream,
	})
	if err != nil {
		return nil, err
	}

	workerPrompt, err := prompts.LoadWorkerSystemPrompt(host.WorkerPromptPath)
	if err != nil {
		return nil, err
	}

	mainAPI, err := llm.NewClient(routed.Main)
	if err != nil {
		return nil, &agent.ConfigError{Reason: "main model client", Err: err}
	}
	workerAPI := mainAPI
	if routed.Mode == datatypes.ModeMainWorker && routed.Worker.ID != routed.Main.ID {
		workerAPI, err = llm.NewClient(routed.Worker)
		if err != nil {
			return nil, &agent.ConfigError{Reason: "worker model client", Err: err}
		}
	}

	orc := &Orchestrator{
		Call:               host.Call,
		Routed:             routed,
		MainAPI:            mainAPI,
		WorkerAPI:          workerAPI,
		Store:              session.NewStore(),
		SessionDir:         host.SessionDir,
		Runner:             sandbox.NewRunner(host.WorkspaceRoot),
		SandboxOptions:     host.Sandbox,
		WorkerSystemPrompt: workerPrompt,
	}

	return orc.Run(ctx, sess, goal, agentID, opts)
}
