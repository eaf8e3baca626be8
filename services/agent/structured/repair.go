// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package structured

import (
	"strings"

	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

// BuildStructuredRepairPrompt composes the user-role message sent back
// to a model whose structured output failed validation. It quotes the
// error, demands a single JSON object, and for worker actions appends
// targeted hints when the error suggests a known failure mode.
func BuildStructuredRepairPrompt(kind, errorMessage string) datatypes.ChatMessage {
	var sb strings.Builder

	sb.WriteString("Your previous reply was rejected: ")
	sb.WriteString(errorMessage)
	sb.WriteString("\n\nRe-output EXACTLY one valid JSON object of the specified ")
	sb.WriteString(kind)
	sb.WriteString(" shape. Output the JSON object only: no prose before or after, no code fences.")

	if kind == KindWorkerAction {
		lower := strings.ToLower(errorMessage)
		if strings.Contains(lower, "token limit") || strings.Contains(lower, "exceeds") {
			sb.WriteString("\nKeep the reply short: a single compact JSON object, nothing else.")
		}
		if strings.Contains(lower, "policy violation") || strings.Contains(lower, "not allowed") ||
			strings.Contains(lower, "pipe") {
			sb.WriteString("\nPropose a different, safe, read-only command that satisfies the command policy.")
		}
		if strings.Contains(lower, "think") {
			sb.WriteString("\nDo not include <think> tags or hidden reasoning in the reply.")
		}
	}

	return datatypes.ChatMessage{Role: datatypes.RoleUser, Content: sb.String()}
}
