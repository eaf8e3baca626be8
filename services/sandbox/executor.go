// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox executes worker-proposed shell commands in a
// per-workspace-group sandbox, either a local working directory or a
// long-lived docker container.
//
// A non-zero exit code, including a timeout, is a ToolResult and never
// an error; errors are reserved for the executor itself failing to run
// anything at all.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// Defaults applied when Options leaves fields zero.
const (
	DefaultTimeoutMs      = 120_000
	DefaultMaxBufferBytes = 256 * 1024
	DefaultShellPath      = "/bin/sh"

	// timeoutExitCode mirrors the coreutils timeout convention.
	timeoutExitCode = 124

	// spawnFailureExitCode marks commands the shell could not start.
	spawnFailureExitCode = 127
)

// Options configures one sandboxed execution.
type Options struct {
	// Mode selects the isolation backend: local or docker.
	Mode string

	// TimeoutMs bounds the command's wall-clock time.
	TimeoutMs int

	// MaxBufferBytes caps each captured output stream.
	MaxBufferBytes int

	// ShellPath is the local shell.
	ShellPath string

	// DockerShellPath is the shell inside the container.
	DockerShellPath string

	// DockerImage is the container image for new workspace containers.
	DockerImage string

	// DockerWorkspaceRoot is the in-container working directory root.
	DockerWorkspaceRoot string

	// DockerContainerPrefix prefixes per-group container names.
	DockerContainerPrefix string

	// DockerNetwork, DockerMemory, DockerCpus, DockerPidsLimit are
	// resource limits for new containers.
	DockerNetwork   string
	DockerMemory    string
	DockerCpus      string
	DockerPidsLimit int

	// DockerRequiredTools are probed once per container; missing tools
	// are logged, not fatal.
	DockerRequiredTools []string

	// DockerWorkspaceInitCommand runs once when a container is created.
	DockerWorkspaceInitCommand string
}

// Runner executes commands for workspace groups.
//
// Thread Safety: Runner is safe for concurrent use across groups; the
// agent loop serializes commands within one run.
type Runner struct {
	// workspaceRoot hosts local per-group working directories.
	workspaceRoot string

	mu          sync.Mutex
	initialized map[string]bool
}

// NewRunner creates a runner rooted at workspaceRoot for local mode.
func NewRunner(workspaceRoot string) *Runner {
	return &Runner{
		workspaceRoot: workspaceRoot,
		initialized:   make(map[string]bool),
	}
}

// Run executes cmd for the workspace group and returns its result.
func (r *Runner) Run(ctx context.Context, cmd, workspaceGroupID string, opts Options) (*datatypes.ToolResult, error) {
	applyDefaults(&opts)

	result := &datatypes.ToolResult{
		Cmd:              cmd,
		Runner:           opts.Mode,
		WorkspaceGroupID: workspaceGroupID,
	}

	switch opts.Mode {
	case datatypes.RunnerLocal:
		return r.runLocal(ctx, cmd, workspaceGroupID, opts, result)
	case datatypes.RunnerDocker:
		return r.runDocker(ctx, cmd, workspaceGroupID, opts, result)
	default:
		return nil, fmt.Errorf("unknown sandbox mode %q", opts.Mode)
	}
}

func applyDefaults(opts *Options) {
	if opts.Mode == "" {
		opts.Mode = datatypes.RunnerLocal
	}
	if opts.TimeoutMs <= 0 {
		opts.TimeoutMs = DefaultTimeoutMs
	}
	if opts.MaxBufferBytes <= 0 {
		opts.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if opts.ShellPath == "" {
		opts.ShellPath = DefaultShellPath
	}
	if opts.DockerShellPath == "" {
		opts.DockerShellPath = opts.ShellPath
	}
	if opts.DockerWorkspaceRoot == "" {
		opts.DockerWorkspaceRoot = "/workspace"
	}
	if opts.DockerContainerPrefix == "" {
		opts.DockerContainerPrefix = "kiska-ws"
	}
}

// runLocal executes cmd with the local shell inside the group's
// working directory.
func (r *Runner) runLocal(ctx context.Context, cmd, group string, opts Options, result *datatypes.ToolResult) (*datatypes.ToolResult, error) {
	dir := filepath.Join(r.workspaceRoot, sanitizeGroup(group))
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to prepare workspace %s: %w", dir, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
	defer cancel()

	command := exec.CommandContext(execCtx, opts.ShellPath, "-c", cmd)
	command.Dir = dir

	return capture(execCtx, command, opts.MaxBufferBytes, result)
}

// runDocker executes cmd with docker exec inside the group's container,
// creating the container on first use.
func (r *Runner) runDocker(ctx context.Context, cmd, group string, opts Options, result *datatypes.ToolResult) (*datatypes.ToolResult, error) {
	container := opts.DockerContainerPrefix + "-" + sanitizeGroup(group)
	if err := r.ensureContainer(ctx, container, opts); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
	defer cancel()

	args := []string{"exec", "-w", opts.DockerWorkspaceRoot, container, opts.DockerShellPath, "-c", cmd}
	command := exec.CommandContext(execCtx, "docker", args...)

	return capture(execCtx, command, opts.MaxBufferBytes, result)
}

// ensureContainer starts the group's container when it is not running
// and applies the one-time workspace init.
func (r *Runner) ensureContainer(ctx context.Context, container string, opts Options) error {
	r.mu.Lock()
	done := r.initialized[container]
	r.mu.Unlock()
	if done {
		return nil
	}

	probe := exec.CommandContext(ctx, "docker", "ps", "-q", "--filter", "name=^"+container+"$")
	out, err := probe.Output()
	if err != nil {
		return fmt.Errorf("docker is not available: %w", err)
	}

	if len(bytes.TrimSpace(out)) == 0 {
		if opts.DockerImage == "" {
			return fmt.Errorf("docker mode requires a configured image")
		}
		args := []string{
			"run", "-d", "--name", container,
			"-w", opts.DockerWorkspaceRoot,
		}
		if opts.DockerNetwork != "" {
			args = append(args, "--network", opts.DockerNetwork)
		}
		if opts.DockerMemory != "" {
			args = append(args, "--memory", opts.DockerMemory)
		}
		if opts.DockerCpus != "" {
			args = append(args, "--cpus", opts.DockerCpus)
		}
		if opts.DockerPidsLimit > 0 {
			args = append(args, "--pids-limit", fmt.Sprint(opts.DockerPidsLimit))
		}
		args = append(args, opts.DockerImage, "sleep", "infinity")

		if out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput(); err != nil {
			return fmt.Errorf("failed to start workspace container %s: %w: %s", container, err, strings.TrimSpace(string(out)))
		}

		if opts.DockerWorkspaceInitCommand != "" {
			init := exec.CommandContext(ctx, "docker", "exec", "-w", opts.DockerWorkspaceRoot,
				container, opts.DockerShellPath, "-c", opts.DockerWorkspaceInitCommand)
			if out, err := init.CombinedOutput(); err != nil {
				return fmt.Errorf("workspace init failed in %s: %w: %s", container, err, strings.TrimSpace(string(out)))
			}
		}

		for _, tool := range opts.DockerRequiredTools {
			check := exec.CommandContext(ctx, "docker", "exec", container, "which", tool)
			if err := check.Run(); err != nil {
				slog.Warn("required tool missing in workspace container",
					"container", container, "tool", tool)
			}
		}
	}

	r.mu.Lock()
	r.initialized[container] = true
	r.mu.Unlock()
	return nil
}

// capture runs the prepared command, collecting bounded stdout/stderr,
// and folds every termination mode into the result's exit code.
func capture(ctx context.Context, command *exec.Cmd, maxBuffer int, result *datatypes.ToolResult) (*datatypes.ToolResult, error) {
	stdout := newBoundedBuffer(maxBuffer)
	stderr := newBoundedBuffer(maxBuffer)

	stdoutPipe, err := command.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := command.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := command.Start(); err != nil {
		result.ExitCode = spawnFailureExitCode
		result.Stderr = datatypes.NormalizeOutput(err.Error())
		return result, nil
	}

	var group errgroup.Group
	group.Go(func() error { return stdout.consume(stdoutPipe) })
	group.Go(func() error { return stderr.consume(stderrPipe) })
	pumpErr := group.Wait()

	waitErr := command.Wait()

	result.Stdout = datatypes.NormalizeOutput(stdout.String())
	result.Stderr = datatypes.NormalizeOutput(stderr.String())

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.ExitCode = timeoutExitCode
		if result.Stderr == "" {
			result.Stderr = "command timed out"
		}
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = spawnFailureExitCode
			if result.Stderr == "" {
				result.Stderr = datatypes.NormalizeOutput(waitErr.Error())
			}
		}
	default:
		result.ExitCode = 0
	}

	if pumpErr != nil && result.ExitCode == 0 {
		result.ExitCode = spawnFailureExitCode
		result.Stderr = datatypes.NormalizeOutput(pumpErr.Error())
	}

	return result, nil
}

// sanitizeGroup maps a workspace group ID onto a filesystem- and
// container-name-safe token.
func sanitizeGroup(group string) string {
	var sb strings.Builder
	for _, c := range group {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			sb.WriteRune(c)
		default:
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "default"
	}
	return sb.String()
}
