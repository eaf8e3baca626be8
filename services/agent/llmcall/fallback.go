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
	"strings"
)

// FallbackFinalAnswer renders the deterministic templated report used
// when the main model cannot produce a usable final answer. The goal
// and every evidence line appear verbatim.
func FallbackFinalAnswer(goal string, evidenceLines []string) string {
	var sb strings.Builder

	sb.WriteString("I could not produce a polished final report for the goal: ")
	sb.WriteString(goal)
	sb.WriteString("\n\n")

	if len(evidenceLines) == 0 {
		sb.WriteString("No evidence was gathered during this run.")
		return sb.String()
	}

	sb.WriteString("Here is the evidence gathered during this run:\n")
	for _, line := range evidenceLines {
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\nReview the evidence above for the facts relevant to the goal.")
	return sb.String()
}
