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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/KiskaLocal/pkg/ux"
	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
	"github.com/AleutianAI/KiskaLocal/services/agent/history"
	"github.com/AleutianAI/KiskaLocal/services/agent/loop"
	"github.com/AleutianAI/KiskaLocal/services/agent/observability"
	"github.com/AleutianAI/KiskaLocal/services/session"
)

var agentFlags struct {
	agentID        string
	sessionID      string
	mode           string
	maxSteps       int
	stream         bool
	workspaceGroup string
	quiet          bool
	assumeYes      bool
}

var agentCmd = &cobra.Command{
	Use:   "agent \"<goal>\"",
	Short: "Run the agent loop for a goal",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().StringVar(&agentFlags.agentID, "agent", "default", "agent id from the model registry")
	agentCmd.Flags().StringVar(&agentFlags.sessionID, "session", "", "chat session id (new one generated when empty)")
	agentCmd.Flags().StringVar(&agentFlags.mode, "mode", "", "override agent mode (main-worker or single-main)")
	agentCmd.Flags().IntVar(&agentFlags.maxSteps, "max-steps", 0, "override the worker step budget")
	agentCmd.Flags().BoolVar(&agentFlags.stream, "stream", false, "force token streaming on")
	agentCmd.Flags().StringVar(&agentFlags.workspaceGroup, "workspace-group", "", "sandbox workspace group (defaults to the session id)")
	agentCmd.Flags().BoolVar(&agentFlags.quiet, "quiet", false, "print only the final answer")
	agentCmd.Flags().BoolVar(&agentFlags.assumeYes, "yes", false, "answer YES to every worker question")
}

func runAgent(cmd *cobra.Command, args []string) error {
	goal := strings.TrimSpace(args[0])
	if goal == "" {
		return fmt.Errorf("goal must not be empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := ux.NewOutput(os.Stdout)

	store := session.NewStore()
	sess, err := store.LoadOrCreate(config.SessionDir, agentFlags.sessionID, "")
	if err != nil {
		return err
	}

	opts := agent.RunOptions{
		Mode:             datatypes.AgentMode(agentFlags.mode),
		MaxSteps:         agentFlags.maxSteps,
		WorkspaceGroupID: agentFlags.workspaceGroup,
		AskUser:          askOperator,
	}
	if cmd.Flags().Changed("stream") {
		opts.Stream = &agentFlags.stream
	}

	metrics := observability.NewCollector(prometheus.DefaultRegisterer)
	renderer := newEventRenderer(out, agentFlags.quiet)
	opts.OnEvent = observability.Chain(metrics.Observe, renderer.observe)

	if !agentFlags.quiet {
		out.Heading("kiska agent %s · session %s", agentFlags.agentID, sess.ID)
	}

	result, err := loop.RunAgentLoop(ctx, loop.HostConfig{
		RegistryPath:     config.RegistryPath,
		SessionDir:       config.SessionDir,
		WorkspaceRoot:    config.WorkspaceRoot,
		WorkerPromptPath: config.WorkerPromptPath,
		Call:             config.CallConfig(),
		Sandbox:          config.SandboxOptions(),
	}, sess, goal, agentFlags.agentID, opts)
	if err != nil {
		return err
	}

	if agentFlags.quiet {
		fmt.Println(result.Summary)
	} else {
		out.Answer(result.Summary)
		out.Detail(fmt.Sprintf("steps=%d evidence=%d worker=%s main=%s",
			result.Steps, len(result.Evidence), result.WorkerModel, result.MainModel))
	}

	recordRun(sess.ID, goal, result)
	return nil
}

// askOperator answers a worker YES/NO question through a terminal
// confirm prompt.
func askOperator(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if agentFlags.assumeYes {
		return "YES", nil
	}

	yes := true
	confirm := huh.NewConfirm().
		Title(question).
		Affirmative("YES").
		Negative("NO").
		Value(&yes)
	if err := confirm.Run(); err != nil {
		return "", err
	}
	if yes {
		return "YES", nil
	}
	return "NO", nil
}

// recordRun appends the completed run to the history store, when one is
// configured. History failures never fail the run.
func recordRun(sessionID, goal string, result *agent.RunResult) {
	if config.HistoryPath == "" {
		return
	}
	store, err := history.Open(config.HistoryPath)
	if err != nil {
		slog.Warn("run history unavailable", "error", err)
		return
	}
	defer store.Close()

	if err := store.RecordResult(sessionID, goal, result); err != nil {
		slog.Warn("failed to record run history", "error", err)
	}
}
