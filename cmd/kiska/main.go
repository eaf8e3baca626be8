// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kiska is a local-LLM host: it turns a natural-language goal
// into a verified answer by driving a two-role agent loop against
// locally served models, with every run attached to a persistent chat
// session.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KiskaLocal/pkg/logging"
)

var (
	config     *Config
	configPath string
	logger     *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:           "kiska",
	Short:         "Local-LLM agent host",
	Long:          "kiska drives a worker/main agent loop against local models: the worker gathers evidence with sandboxed shell commands, the main model plans, judges sufficiency, and writes the final report.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kiska: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the host config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		config = cfg

		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.Logging.Level),
			LogDir:  cfg.Logging.Dir,
			Service: "cli",
		})
		logger.SetDefault()
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	}

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(historyCmd)
}
