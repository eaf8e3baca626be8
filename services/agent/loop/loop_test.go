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
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/contextguard"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
	"github.com/AleutianAI/KiskaLocal/services/llm"
	"github.com/AleutianAI/KiskaLocal/services/sandbox"
)

// memStore keeps sessions in memory and counts saves.
type memStore struct {
	mu    sync.Mutex
	saves int
	fail  error
}

func (s *memStore) Save(_ string, _ *datatypes.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.saves++
	return nil
}

// scriptedRunner returns queued tool results in order.
type scriptedRunner struct {
	mu      sync.Mutex
	results []*datatypes.ToolResult
	cmds    []string
}

func (r *scriptedRunner) Run(_ context.Context, cmd, group string, _ sandbox.Options) (*datatypes.ToolResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)

	result := &datatypes.ToolResult{ExitCode: 0}
	if len(r.results) > 0 {
		result = r.results[0]
		r.results = r.results[1:]
	}
	result.Cmd = cmd
	result.Runner = datatypes.RunnerLocal
	result.WorkspaceGroupID = group
	return result, nil
}

// eventRecorder captures the event stream.
type eventRecorder struct {
	mu     sync.Mutex
	events []agent.Event
}

func (e *eventRecorder) observe(ev agent.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventRecorder) kinds() []agent.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	kinds := make([]agent.EventKind, len(e.events))
	for i, ev := range e.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (e *eventRecorder) firstOf(kind agent.EventKind) *agent.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.events {
		if e.events[i].Kind == kind {
			return &e.events[i]
		}
	}
	return nil
}

func newOrchestrator(mainAPI, workerAPI llm.Client, maxSteps int, runner ToolRunner, store SessionStore) *Orchestrator {
	return &Orchestrator{
		Routed: &datatypes.ResolvedAgentConfig{
			Mode:     datatypes.ModeMainWorker,
			MaxSteps: maxSteps,
			Main:     datatypes.ResolvedModel{ID: "main", ModelName: "main-model"},
			Worker:   datatypes.ResolvedModel{ID: "worker", ModelName: "worker-model"},
		},
		MainAPI:            mainAPI,
		WorkerAPI:          workerAPI,
		Store:              store,
		SessionDir:         "unused",
		Runner:             runner,
		WorkerSystemPrompt: "You gather evidence with safe shell commands.",
	}
}

func newSession(id string) *datatypes.ChatSession {
	return &datatypes.ChatSession{ID: id}
}

const (
	planCollect   = `{"next":"collect_evidence","reason":"need filesystem check"}`
	workerList    = `{"action":"call_tool","tool":"shell","args":{"cmd":"ls -1"},"reason":"enumerate roots"}`
	workerDone    = `{"action":"finalize"}`
	decisionFinal = `{"decision":"finalize","answer":"Repo roots: src, docs"}`
)

func TestRun_HappyPath_OneToolCallThenFinalize(t *testing.T) {
	mainAPI := llm.NewMockClient(planCollect, decisionFinal, "Repo roots: src, docs")
	workerAPI := llm.NewMockClient(workerList, workerDone)
	runner := &scriptedRunner{results: []*datatypes.ToolResult{
		{ExitCode: 0, Stdout: "src\ndocs\n"},
	}}
	store := &memStore{}
	recorder := &eventRecorder{}

	sess := newSession("sess-1")
	result, err := newOrchestrator(mainAPI, workerAPI, 8, runner, store).
		Run(context.Background(), sess, "list repo roots", "dev",
			agent.RunOptions{OnEvent: recorder.observe})

	require.NoError(t, err)
	assert.Equal(t, "Repo roots: src, docs", result.Summary)
	assert.Equal(t, 2, result.Steps)
	assert.Len(t, result.Evidence, 1)

	// Event stream order.
	want := []agent.EventKind{
		agent.EventStart,
		agent.EventLoopState, // PlanIntent
		agent.EventPlanningStart,
		agent.EventMainStart, // planning
		agent.EventPlanningResult,
		agent.EventLoopState, // AcquireEvidence step 1
		agent.EventWorkerStart,
		agent.EventWorkerAction, // call_tool
		agent.EventToolStart,
		agent.EventToolResult,
		agent.EventLoopState, // AcquireEvidence step 2
		agent.EventWorkerStart,
		agent.EventWorkerAction, // finalize
		agent.EventLoopState,    // AssessSufficiency
		agent.EventMainStart,    // assess-sufficiency
		agent.EventMainDecision,
		agent.EventMainStart, // final-report
		agent.EventFinalAnswer,
		agent.EventComplete,
	}
	assert.Equal(t, want, recorder.kinds())

	complete := recorder.firstOf(agent.EventComplete).Data.(*agent.CompleteData)
	assert.Equal(t, 2, complete.Steps)
	assert.Equal(t, 1, complete.EvidenceCount)

	// Session shape: goal entry first, assistant answer last, tool
	// entries in order.
	require.NotEmpty(t, sess.Messages)
	assert.True(t, strings.HasPrefix(sess.Messages[0].Content, agent.TagAgentGoalPrefix),
		"goal line opens the run")
	tail := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, datatypes.RoleAssistant, tail.Role)
	assert.Equal(t, "Repo roots: src, docs", tail.Content)

	toolIdx, resultIdx := -1, -1
	for i, m := range sess.Messages {
		if strings.HasPrefix(m.Content, agent.TagWorkerToolPrefix+"1]") {
			toolIdx = i
		}
		if strings.HasPrefix(m.Content, agent.TagWorkerToolResultPrefix+"1]") {
			resultIdx = i
		}
	}
	require.GreaterOrEqual(t, toolIdx, 0)
	require.Greater(t, resultIdx, toolIdx)

	assert.Equal(t, []string{"ls -1"}, runner.cmds)
	assert.Greater(t, store.saves, 0)
}

func TestRun_GoalLineIsFirstEntry(t *testing.T) {
	mainAPI := llm.NewMockClient(
		`{"next":"final_report","reason":"trivial restate","answer_hint":"Here is the restated answer."}`,
		"Here is the restated answer.",
	)
	store := &memStore{}
	sess := newSession("sess-goal")

	_, err := newOrchestrator(mainAPI, llm.NewMockClient("unused"), 4, &scriptedRunner{}, store).
		Run(context.Background(), sess, "restate", "dev", agent.RunOptions{})
	require.NoError(t, err)

	goalLines := 0
	for _, m := range sess.Messages {
		if strings.HasPrefix(m.Content, agent.TagAgentGoalPrefix) {
			goalLines++
			assert.Equal(t, datatypes.RoleUser, m.Role)
		}
	}
	assert.Equal(t, 1, goalLines)
}

func TestRun_AskBranch(t *testing.T) {
	mainAPI := llm.NewMockClient(planCollect,
		`{"decision":"finalize","answer":"Skipped node_modules per user."}`,
		"Skipped node_modules per user.")
	workerAPI := llm.NewMockClient(
		`{"action":"ask","question":"Should I inspect node_modules? (YES/NO)"}`,
		workerDone,
	)
	recorder := &eventRecorder{}
	sess := newSession("sess-2")

	var asked string
	result, err := newOrchestrator(mainAPI, workerAPI, 8, &scriptedRunner{}, &memStore{}).
		Run(context.Background(), sess, "survey the repo", "dev", agent.RunOptions{
			OnEvent: recorder.observe,
			AskUser: func(_ context.Context, question string) (string, error) {
				asked = question
				return " NO \n", nil
			},
		})

	require.NoError(t, err)
	assert.Equal(t, "Should I inspect node_modules? (YES/NO)", asked)
	assert.Equal(t, "Skipped node_modules per user.", result.Summary)

	require.NotNil(t, recorder.firstOf(agent.EventAsk))
	answerEvent := recorder.firstOf(agent.EventAskAnswer)
	require.NotNil(t, answerEvent)
	assert.Equal(t, "NO", answerEvent.Data.(*agent.AskAnswerData).Answer, "answer is trimmed")

	var sawAsk, sawAnswer bool
	for _, m := range sess.Messages {
		if strings.HasPrefix(m.Content, agent.TagWorkerAskPrefix+"1]") {
			sawAsk = true
		}
		if strings.HasPrefix(m.Content, agent.TagWorkerAskAnswerPrefix+"1]") {
			sawAnswer = true
		}
	}
	assert.True(t, sawAsk)
	assert.True(t, sawAnswer)

	assert.Contains(t, strings.Join(result.Evidence, "\n"), "Q: Should I inspect node_modules? (YES/NO) / A: NO")
}

func TestRun_AskWithoutCallbackAborts(t *testing.T) {
	mainAPI := llm.NewMockClient(planCollect)
	workerAPI := llm.NewMockClient(`{"action":"ask","question":"Continue? (YES/NO)"}`)

	_, err := newOrchestrator(mainAPI, workerAPI, 8, &scriptedRunner{}, &memStore{}).
		Run(context.Background(), newSession("sess-3"), "goal", "dev", agent.RunOptions{})

	var cerr *agent.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, agent.ErrAskUserUnavailable)
}

func TestRun_ForcedSynthesisOnMaxSteps(t *testing.T) {
	mainAPI := llm.NewMockClient(planCollect,
		`{"decision":"finalize","answer":"best-effort summary"}`,
		"best-effort summary")
	workerAPI := llm.NewMockClient(workerList, workerList)
	runner := &scriptedRunner{results: []*datatypes.ToolResult{
		{ExitCode: 0, Stdout: "one"},
		{ExitCode: 0, Stdout: "two"},
	}}
	recorder := &eventRecorder{}

	result, err := newOrchestrator(mainAPI, workerAPI, 2, runner, &memStore{}).
		Run(context.Background(), newSession("sess-4"), "goal", "dev",
			agent.RunOptions{OnEvent: recorder.observe})

	require.NoError(t, err)
	assert.Equal(t, "best-effort summary", result.Summary)
	assert.Equal(t, 2, result.Steps, "complete.steps stays at the budget")
	assert.Len(t, runner.cmds, 2)

	forced := recorder.firstOf(agent.EventMainStart)
	require.NotNil(t, forced)

	var phases []string
	for _, ev := range recorder.events {
		if ev.Kind == agent.EventMainStart {
			phases = append(phases, ev.Data.(*agent.MainStartData).Phase)
		}
	}
	assert.Contains(t, phases, agent.PhaseForcedSynthesis)
}

func TestRun_WorkerValidationFailureForcesSynthesis(t *testing.T) {
	// Worker emits junk on every attempt; main also fails its forced
	// decision, so the run lands on the deterministic fallback.
	mainAPI := llm.NewMockClient(planCollect, "junk", "junk", "junk")
	workerAPI := llm.NewMockClient("not json at all")
	recorder := &eventRecorder{}
	sess := newSession("sess-5")

	result, err := newOrchestrator(mainAPI, workerAPI, 8, &scriptedRunner{}, &memStore{}).
		Run(context.Background(), sess, "goal", "dev",
			agent.RunOptions{OnEvent: recorder.observe})

	require.NoError(t, err)
	assert.Contains(t, result.Summary, "goal")
	assert.Contains(t, result.Summary, "worker output was repeatedly invalid",
		"fallback lists the failure evidence")

	var sawValidationFail, sawForceFail bool
	for _, m := range sess.Messages {
		if strings.HasPrefix(m.Content, agent.TagWorkerValidationFail+"1]") {
			sawValidationFail = true
		}
		if strings.HasPrefix(m.Content, agent.TagMainForceFinalizeFail) {
			sawForceFail = true
		}
	}
	assert.True(t, sawValidationFail)
	assert.True(t, sawForceFail)

	// The synthetic finalize action was published.
	action := recorder.firstOf(agent.EventWorkerAction)
	require.NotNil(t, action)
	assert.Equal(t, datatypes.ActionFinalize, action.Data.(*agent.WorkerActionData).Action)

	tail := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, datatypes.RoleAssistant, tail.Role)
}

func TestRun_MainDecisionFailureContinues(t *testing.T) {
	// First decision attempt set is junk; the worker then finalizes a
	// second time and the next decision succeeds.
	mainAPI := llm.NewMockClient(planCollect,
		"junk", "junk", "junk",
		decisionFinal, "Repo roots: src, docs")
	workerAPI := llm.NewMockClient(workerDone, workerDone)
	recorder := &eventRecorder{}
	sess := newSession("sess-6")

	result, err := newOrchestrator(mainAPI, workerAPI, 8, &scriptedRunner{}, &memStore{}).
		Run(context.Background(), sess, "goal", "dev",
			agent.RunOptions{OnEvent: recorder.observe})

	require.NoError(t, err)
	assert.Equal(t, "Repo roots: src, docs", result.Summary)

	sawFail := false
	for _, m := range sess.Messages {
		if strings.HasPrefix(m.Content, agent.TagMainDecisionFail) {
			sawFail = true
		}
	}
	assert.True(t, sawFail)

	// A synthetic continue decision was published before the retry.
	decisions := 0
	for _, ev := range recorder.events {
		if ev.Kind == agent.EventMainDecision {
			decisions++
		}
	}
	assert.GreaterOrEqual(t, decisions, 2)
}

func TestRun_PlanningFailureDefaultsToCollectEvidence(t *testing.T) {
	mainAPI := llm.NewMockClient("junk", "junk", "junk",
		decisionFinal, "Repo roots: src, docs")
	workerAPI := llm.NewMockClient(workerDone)
	sess := newSession("sess-7")

	result, err := newOrchestrator(mainAPI, workerAPI, 8, &scriptedRunner{}, &memStore{}).
		Run(context.Background(), sess, "goal", "dev", agent.RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, "Repo roots: src, docs", result.Summary)

	sawPlanningFail := false
	for _, m := range sess.Messages {
		if strings.HasPrefix(m.Content, agent.TagPlanningFail) {
			sawPlanningFail = true
		}
	}
	assert.True(t, sawPlanningFail)
}

func TestRun_PlanningShortCircuitToFinalReport(t *testing.T) {
	mainAPI := llm.NewMockClient(
		`{"next":"final_report","reason":"trivial restate","answer_hint":"Here is the restated answer."}`,
		"Here is the restated answer.",
	)
	workerAPI := llm.NewMockClient("never called")
	recorder := &eventRecorder{}

	result, err := newOrchestrator(mainAPI, workerAPI, 8, &scriptedRunner{}, &memStore{}).
		Run(context.Background(), newSession("sess-8"), "restate the question", "dev",
			agent.RunOptions{OnEvent: recorder.observe})

	require.NoError(t, err)
	assert.Equal(t, "Here is the restated answer.", result.Summary)
	assert.Equal(t, 0, result.Steps, "no worker step ran")

	for _, ev := range recorder.events {
		assert.NotEqual(t, agent.EventWorkerStart, ev.Kind)
	}
}

func TestRun_CompactionPreemption(t *testing.T) {
	mainAPI := llm.NewMockClient(
		`{"next":"final_report","reason":"trivial","answer_hint":"done"}`,
		"done",
	)
	recorder := &eventRecorder{}

	// A session already past both compaction gates at the default limit.
	sess := newSession("sess-9")
	sess.Append(datatypes.RoleSystem, "base system prompt")
	for i := 0; i < 30; i++ {
		sess.Append(datatypes.RoleUser, strings.Repeat("history ", 150)+fmt.Sprint(i))
	}
	before := contextguard.ComputeCompactionPlan(sess, contextguard.DefaultContextLength)
	require.True(t, before.ShouldCompact)

	_, err := newOrchestrator(mainAPI, llm.NewMockClient("unused"), 8, &scriptedRunner{}, &memStore{}).
		Run(context.Background(), sess, "goal", "dev",
			agent.RunOptions{OnEvent: recorder.observe})
	require.NoError(t, err)

	kinds := recorder.kinds()
	require.GreaterOrEqual(t, len(kinds), 3)
	assert.Equal(t, agent.EventStart, kinds[0])
	assert.Equal(t, agent.EventCompactionStart, kinds[1], "compaction pre-empts the first stage")
	assert.Equal(t, agent.EventCompactionComplete, kinds[2])

	complete := recorder.firstOf(agent.EventCompactionComplete).Data.(*agent.CompactionCompleteData)
	assert.Less(t, complete.AfterTokens, complete.BeforeTokens)
	assert.Less(t, complete.AfterMessages, complete.BeforeMessages)

	sawMarker := false
	for _, m := range sess.Messages {
		if strings.HasPrefix(m.Content, contextguard.Marker) {
			sawMarker = true
		}
	}
	assert.True(t, sawMarker, "summary document survives in the session")
}

// summarySection extracts one titled group's body from a compaction
// summary document.
func summarySection(t *testing.T, doc, title string) string {
	t.Helper()
	_, rest, ok := strings.Cut(doc, title+":\n")
	require.True(t, ok, "section %q missing in summary:\n%s", title, doc)
	if body, _, found := strings.Cut(rest, "\n\n"); found {
		return body
	}
	return rest
}

func TestRun_CompactionSummaryKeepsToolCommandsGrouped(t *testing.T) {
	// Three tool steps run before the session crosses both compaction
	// gates, so the summary document is built from real interleaved
	// [WORKER_TOOL_N]/[WORKER_TOOL_RESULT_N] entries.
	mainAPI := llm.NewMockClient(planCollect, decisionFinal, "Repo roots: src, docs")
	workerAPI := llm.NewMockClient(workerList, workerList, workerList, workerDone)
	runner := &scriptedRunner{results: []*datatypes.ToolResult{
		{ExitCode: 0, Stdout: "one"},
		{ExitCode: 0, Stdout: "two"},
		{ExitCode: 0, Stdout: "three"},
	}}
	recorder := &eventRecorder{}

	// 17 bulky turns: token pressure is already past the trigger, but
	// the message-count gate holds until the tool entries land.
	sess := newSession("sess-13")
	for i := 0; i < 17; i++ {
		sess.Append(datatypes.RoleUser, strings.Repeat("earlier conversation ", 350)+fmt.Sprint(i))
	}

	_, err := newOrchestrator(mainAPI, workerAPI, 8, runner, &memStore{}).
		Run(context.Background(), sess, "list repo roots", "dev",
			agent.RunOptions{OnEvent: recorder.observe})
	require.NoError(t, err)

	require.NotNil(t, recorder.firstOf(agent.EventCompactionComplete), "the run must have compacted")
	require.Len(t, runner.cmds, 3, "all three tool steps ran before compaction")

	var doc string
	for _, m := range sess.Messages {
		if strings.HasPrefix(m.Content, contextguard.Marker) {
			doc = m.Content
		}
	}
	require.NotEmpty(t, doc, "summary document missing from the compacted session")

	commands := summarySection(t, doc, "Tool commands")
	for step := 1; step <= 3; step++ {
		assert.Contains(t, commands, fmt.Sprintf("%s%d] ls -1", agent.TagWorkerToolPrefix, step),
			"tool command for step %d must stay in the commands group", step)
	}
	assert.NotContains(t, commands, agent.TagWorkerToolResultPrefix,
		"result lines must not appear under Tool commands")

	results := summarySection(t, doc, "Tool results")
	for step := 1; step <= 3; step++ {
		assert.Contains(t, results, fmt.Sprintf("%s%d] exit=0", agent.TagWorkerToolResultPrefix, step))
	}
}

func TestRun_StoreFailureAborts(t *testing.T) {
	store := &memStore{fail: &agent.StoreError{Op: "save", SessionID: "s", Err: fmt.Errorf("disk full")}}
	mainAPI := llm.NewMockClient(planCollect)

	_, err := newOrchestrator(mainAPI, llm.NewMockClient("x"), 8, &scriptedRunner{}, store).
		Run(context.Background(), newSession("sess-10"), "goal", "dev", agent.RunOptions{})

	var serr *agent.StoreError
	require.ErrorAs(t, err, &serr)
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mainAPI := llm.NewMockClient(planCollect)
	_, err := newOrchestrator(mainAPI, llm.NewMockClient("x"), 8, &scriptedRunner{}, &memStore{}).
		Run(ctx, newSession("sess-11"), "goal", "dev", agent.RunOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrCancelled)
}

func TestRun_StepNeverExceedsMaxStepsPlusOne(t *testing.T) {
	mainAPI := llm.NewMockClient(planCollect,
		`{"decision":"finalize","answer":"done"}`, "done")
	workerAPI := llm.NewMockClient(workerList)
	runner := &scriptedRunner{}
	recorder := &eventRecorder{}

	maxSteps := 3
	_, err := newOrchestrator(mainAPI, workerAPI, maxSteps, runner, &memStore{}).
		Run(context.Background(), newSession("sess-12"), "goal", "dev",
			agent.RunOptions{OnEvent: recorder.observe})
	require.NoError(t, err)

	for _, ev := range recorder.events {
		if ev.Kind == agent.EventLoopState {
			data := ev.Data.(*agent.LoopStateData)
			assert.LessOrEqual(t, data.Step, maxSteps+1)
		}
	}
}
