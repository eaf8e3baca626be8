// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/KiskaLocal/services/agent/llmcall"
	"github.com/AleutianAI/KiskaLocal/services/sandbox"
)

var configValidate = validator.New()

// Config is the host configuration loaded from config.yaml.
type Config struct {
	// Logging configures the layered logger.
	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	// RegistryPath locates the model registry.
	RegistryPath string `yaml:"registry_path" validate:"required"`

	// SessionDir holds persisted chat sessions.
	SessionDir string `yaml:"session_dir" validate:"required"`

	// WorkspaceRoot hosts local sandbox workspaces.
	WorkspaceRoot string `yaml:"workspace_root" validate:"required"`

	// WorkerPromptPath locates the worker system prompt text file.
	WorkerPromptPath string `yaml:"worker_prompt_path" validate:"required"`

	// HistoryPath locates the run-history database. Empty disables it.
	HistoryPath string `yaml:"history_path"`

	// Call tunes the LLM call wrapper.
	Call struct {
		RetryLimit                int  `yaml:"retry_limit"`
		WorkerMaxResponseTokens   int  `yaml:"worker_max_response_tokens"`
		WorkerDisableThinkingHack bool `yaml:"worker_disable_thinking_hack"`
		MainDisableThinkingHack   bool `yaml:"main_disable_thinking_hack"`
		FinalDisableThinkingHack  bool `yaml:"final_disable_thinking_hack"`
		MaxPipes                  int  `yaml:"max_pipes"`
	} `yaml:"call"`

	// Sandbox configures command execution.
	Sandbox struct {
		Mode                  string   `yaml:"mode" validate:"omitempty,oneof=local docker"`
		TimeoutMs             int      `yaml:"timeout_ms"`
		MaxBufferBytes        int      `yaml:"max_buffer_bytes"`
		ShellPath             string   `yaml:"shell_path"`
		DockerShellPath       string   `yaml:"docker_shell_path"`
		DockerImage           string   `yaml:"docker_image"`
		DockerWorkspaceRoot   string   `yaml:"docker_workspace_root"`
		DockerContainerPrefix string   `yaml:"docker_container_prefix"`
		DockerNetwork         string   `yaml:"docker_network"`
		DockerMemory          string   `yaml:"docker_memory"`
		DockerCpus            string   `yaml:"docker_cpus"`
		DockerPidsLimit       int      `yaml:"docker_pids_limit"`
		DockerRequiredTools   []string `yaml:"docker_required_tools"`
		DockerWorkspaceInit   string   `yaml:"docker_workspace_init"`
	} `yaml:"sandbox"`
}

// LoadConfig reads and validates the config file. Relative resource
// paths are resolved against the config file's directory.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := configValidate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config %s failed validation: %w", path, err)
	}

	base := filepath.Dir(path)
	cfg.RegistryPath = resolvePath(base, cfg.RegistryPath)
	cfg.SessionDir = resolvePath(base, cfg.SessionDir)
	cfg.WorkspaceRoot = resolvePath(base, cfg.WorkspaceRoot)
	cfg.WorkerPromptPath = resolvePath(base, cfg.WorkerPromptPath)
	if cfg.HistoryPath != "" {
		cfg.HistoryPath = resolvePath(base, cfg.HistoryPath)
	}

	return &cfg, nil
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// CallConfig maps the config onto the call wrapper's tuning record.
func (c *Config) CallConfig() llmcall.Config {
	return llmcall.Config{
		RetryLimit:                c.Call.RetryLimit,
		WorkerMaxResponseTokens:   c.Call.WorkerMaxResponseTokens,
		WorkerDisableThinkingHack: c.Call.WorkerDisableThinkingHack,
		MainDisableThinkingHack:   c.Call.MainDisableThinkingHack,
		FinalDisableThinkingHack:  c.Call.FinalDisableThinkingHack,
		MaxPipes:                  c.Call.MaxPipes,
	}
}

// SandboxOptions maps the config onto the executor options.
func (c *Config) SandboxOptions() sandbox.Options {
	return sandbox.Options{
		Mode:                       c.Sandbox.Mode,
		TimeoutMs:                  c.Sandbox.TimeoutMs,
		MaxBufferBytes:             c.Sandbox.MaxBufferBytes,
		ShellPath:                  c.Sandbox.ShellPath,
		DockerShellPath:            c.Sandbox.DockerShellPath,
		DockerImage:                c.Sandbox.DockerImage,
		DockerWorkspaceRoot:        c.Sandbox.DockerWorkspaceRoot,
		DockerContainerPrefix:      c.Sandbox.DockerContainerPrefix,
		DockerNetwork:              c.Sandbox.DockerNetwork,
		DockerMemory:               c.Sandbox.DockerMemory,
		DockerCpus:                 c.Sandbox.DockerCpus,
		DockerPidsLimit:            c.Sandbox.DockerPidsLimit,
		DockerRequiredTools:        c.Sandbox.DockerRequiredTools,
		DockerWorkspaceInitCommand: c.Sandbox.DockerWorkspaceInit,
	}
}
