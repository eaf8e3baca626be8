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
	"github.com/AleutianAI/KiskaLocal/services/registry"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List registered models and agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.LoadRegistry(config.RegistryPath)
		if err != nil {
			return err
		}
		out := ux.NewOutput(os.Stdout)

		models := reg.Models()
		sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
		out.Heading("Models")
		for _, m := range models {
			ctxLen := "unknown context"
			if m.ContextLength > 0 {
				ctxLen = fmt.Sprintf("%d-token context", m.ContextLength)
			}
			out.Detail(fmt.Sprintf("%s → %s (%s, %s)", m.ID, m.ModelName, m.Provider, ctxLen))
		}

		agents := reg.AgentIDs()
		sort.Strings(agents)
		out.Heading("Agents")
		for _, id := range agents {
			out.Detail(id)
		}
		return nil
	},
}
