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
	"log/slog"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/contextguard"
)

// handleContextGuard compacts the session and resumes the pre-empted
// stage. A check that no longer trips (the session shrank some other
// way) clears the signature and resumes immediately.
func (r *run) handleContextGuard(_ context.Context) (agent.LoopState, error) {
	plan := contextguard.ComputeCompactionPlan(r.session, r.contextLimit)
	if !plan.ShouldCompact {
		r.rt.LastCompactionSignature = ""
		return r.rt.ResumeStateAfterCompaction, nil
	}

	beforeTokens := plan.EstimatedTokens
	beforeMessages := len(r.session.Messages)

	r.emit(agent.EventCompactionStart, &agent.CompactionStartData{
		EstimatedTokens:    plan.EstimatedTokens,
		TriggerTokens:      plan.TriggerTokens,
		TargetTokens:       plan.TargetTokens,
		ContextLimitTokens: r.contextLimit,
		MessageCount:       beforeMessages,
	})

	summary := contextguard.BuildCompactionSummaryDocument(r.goal, r.rt, r.session.Messages)
	r.session.Messages = contextguard.BuildCompactedSessionMessages(r.session, summary, plan.TargetTokens)
	if err := r.orc.Store.Save(r.orc.SessionDir, r.session); err != nil {
		return "", err
	}

	// Remember what the compacted session looks like: if the next check
	// sees this exact shape again, compaction made no progress and must
	// not re-enter.
	after := contextguard.ComputeCompactionPlan(r.session, r.contextLimit)
	r.rt.LastCompactionSignature = after.Signature

	r.emit(agent.EventCompactionComplete, &agent.CompactionCompleteData{
		BeforeTokens:   beforeTokens,
		AfterTokens:    after.EstimatedTokens,
		BeforeMessages: beforeMessages,
		AfterMessages:  len(r.session.Messages),
	})

	slog.Info("session compacted",
		"session_id", r.session.ID,
		"before_tokens", beforeTokens,
		"after_tokens", after.EstimatedTokens,
		"before_messages", beforeMessages,
		"after_messages", len(r.session.Messages),
	)

	return r.rt.ResumeStateAfterCompaction, nil
}
