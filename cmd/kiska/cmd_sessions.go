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
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KiskaLocal/pkg/ux"
	"github.com/AleutianAI/KiskaLocal/services/agent/history"
	"github.com/AleutianAI/KiskaLocal/services/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := session.NewStore().List(config.SessionDir)
		if err != nil {
			return err
		}
		sort.Strings(ids)
		out := ux.NewOutput(os.Stdout)
		out.Heading("Sessions (%d)", len(ids))
		for _, id := range ids {
			out.Detail(id)
		}
		return nil
	},
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Discard a session's history and recreate it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := session.NewStore().Reset(config.SessionDir, args[0], "")
		if err != nil {
			return err
		}
		fmt.Printf("session %s reset\n", args[0])
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent agent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if config.HistoryPath == "" {
			return fmt.Errorf("run history is disabled (set history_path in config)")
		}
		store, err := history.Open(config.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.Recent(20)
		if err != nil {
			return err
		}

		out := ux.NewOutput(os.Stdout)
		out.Heading("Recent runs (%d)", len(records))
		for _, r := range records {
			out.Detail(fmt.Sprintf("%s  %s  agent=%s steps=%d  %s",
				r.CompletedAt.Format("2006-01-02 15:04"), r.SessionID, r.AgentID, r.Steps, r.Goal))
		}
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)
}
