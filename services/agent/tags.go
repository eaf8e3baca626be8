// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"fmt"
	"strings"
)

// Loop-tagged session lines. Every externally observable loop action
// leaves one of these entries in the session so that compaction and
// post-hoc inspection can reconstruct the run.
const (
	TagAgentGoalPrefix        = "[AGENT_GOAL:"
	TagWorkerToolPrefix       = "[WORKER_TOOL_"
	TagWorkerToolResultPrefix = "[WORKER_TOOL_RESULT_"
	TagWorkerAskPrefix        = "[WORKER_ASK_"
	TagWorkerAskAnswerPrefix  = "[WORKER_ASK_ANSWER_"
	TagMainGuidancePrefix     = "[MAIN_GUIDANCE_"
	TagPlanningResult         = "[PLANNING_RESULT]"
	TagPlanningFail           = "[PLANNING_FAIL]"
	TagWorkerValidationFail   = "[WORKER_VALIDATION_FAIL_"
	TagMainDecisionFail       = "[MAIN_DECISION_FAIL_"
	TagMainFinalAnswerFail    = "[MAIN_FINAL_ANSWER_FAIL_"
	TagMainForceFinalizeFail  = "[MAIN_FORCE_FINALIZE_FAIL]"
)

// loopTagPrefixes is the closed set used to recognize tagged lines.
var loopTagPrefixes = []string{
	TagAgentGoalPrefix,
	TagWorkerToolPrefix,
	TagWorkerToolResultPrefix,
	TagWorkerAskPrefix,
	TagWorkerAskAnswerPrefix,
	TagMainGuidancePrefix,
	TagPlanningResult,
	TagPlanningFail,
	TagWorkerValidationFail,
	TagMainDecisionFail,
	TagMainFinalAnswerFail,
	TagMainForceFinalizeFail,
}

// AgentGoalLine renders the run-opening goal entry.
func AgentGoalLine(agentID, goal string) string {
	return fmt.Sprintf("%s%s] %s", TagAgentGoalPrefix, agentID, goal)
}

// WorkerToolLine renders the tool invocation entry for a step.
func WorkerToolLine(step int, cmd string) string {
	return fmt.Sprintf("%s%d] %s", TagWorkerToolPrefix, step, cmd)
}

// WorkerToolResultLine renders the tool result entry for a step.
func WorkerToolResultLine(step, exitCode int) string {
	return fmt.Sprintf("%s%d] exit=%d", TagWorkerToolResultPrefix, step, exitCode)
}

// WorkerAskLine renders the ask entry for a step.
func WorkerAskLine(step int, question string) string {
	return fmt.Sprintf("%s%d] %s", TagWorkerAskPrefix, step, question)
}

// WorkerAskAnswerLine renders the ask-answer entry for a step.
func WorkerAskAnswerLine(step int, answer string) string {
	return fmt.Sprintf("%s%d] %s", TagWorkerAskAnswerPrefix, step, answer)
}

// MainGuidanceLine renders the guidance entry for a step.
func MainGuidanceLine(step int, guidance string) string {
	return fmt.Sprintf("%s%d] %s", TagMainGuidancePrefix, step, guidance)
}

// WorkerValidationFailLine renders the worker failure entry for a step.
func WorkerValidationFailLine(step int, reason string) string {
	return fmt.Sprintf("%s%d] %s", TagWorkerValidationFail, step, reason)
}

// MainDecisionFailLine renders the decision failure entry for a step.
func MainDecisionFailLine(step int, reason string) string {
	return fmt.Sprintf("%s%d] %s", TagMainDecisionFail, step, reason)
}

// MainFinalAnswerFailLine renders the final-answer failure entry.
func MainFinalAnswerFailLine(step int, reason string) string {
	return fmt.Sprintf("%s%d] %s", TagMainFinalAnswerFail, step, reason)
}

// IsLoopTagged reports whether a session line carries a loop tag.
func IsLoopTagged(content string) bool {
	for _, prefix := range loopTagPrefixes {
		if strings.HasPrefix(content, prefix) {
			return true
		}
	}
	return false
}

// StripLoopTag removes a leading loop tag (through its closing bracket)
// from content, leaving the payload.
func StripLoopTag(content string) string {
	if !IsLoopTagged(content) {
		return content
	}
	if end := strings.Index(content, "]"); end >= 0 {
		return strings.TrimSpace(content[end+1:])
	}
	return content
}
