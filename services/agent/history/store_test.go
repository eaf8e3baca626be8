// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KiskaLocal/services/agent"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_AppendAndRecent(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(RunRecord{
			SessionID:   "sess",
			AgentID:     "dev",
			Goal:        "goal",
			Steps:       i + 1,
			Answer:      "answer",
			CompletedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 3, records[0].Steps, "newest first")
	assert.Equal(t, 1, records[2].Steps)
	assert.NotEmpty(t, records[0].ID, "missing IDs are generated")
}

func TestStore_RecentLimit(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(RunRecord{Goal: "g", Answer: "a"}))
	}
	records, err := store.Recent(2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStore_RecordResult(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordResult("sess-1", "list roots", &agent.RunResult{
		AgentID:  "dev",
		Steps:    2,
		Summary:  "Repo roots: src, docs",
		Evidence: []string{"one"},
	}))

	records, err := store.Recent(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sess-1", records[0].SessionID)
	assert.Equal(t, "list roots", records[0].Goal)
	assert.Equal(t, 1, records[0].EvidenceCount)
}
