// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KiskaLocal/services/agent"
	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

func TestStore_LoadOrCreate_New(t *testing.T) {
	dir := t.TempDir()
	store := NewStore()

	session, err := store.LoadOrCreate(dir, "run-1", "you are helpful")
	require.NoError(t, err)
	assert.Equal(t, "run-1", session.ID)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, datatypes.RoleSystem, session.Messages[0].Role)

	// The new session was persisted immediately.
	_, err = os.Stat(filepath.Join(dir, "run-1.json"))
	assert.NoError(t, err)
}

func TestStore_LoadOrCreate_GeneratedID(t *testing.T) {
	store := NewStore()
	session, err := store.LoadOrCreate(t.TempDir(), "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
}

func TestStore_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	store := NewStore()

	session, err := store.LoadOrCreate(dir, "run-2", "sys")
	require.NoError(t, err)

	session.Append(datatypes.RoleUser, "hello")
	session.Append(datatypes.RoleAssistant, "hi there")
	require.NoError(t, store.Save(dir, session))

	reloaded, err := store.LoadOrCreate(dir, "run-2", "ignored on reload")
	require.NoError(t, err)
	require.Len(t, reloaded.Messages, 3)
	assert.Equal(t, "hi there", reloaded.Messages[2].Content)
	assert.False(t, reloaded.UpdatedAt.IsZero())
}

func TestStore_Reset(t *testing.T) {
	dir := t.TempDir()
	store := NewStore()

	session, err := store.LoadOrCreate(dir, "run-3", "sys")
	require.NoError(t, err)
	session.Append(datatypes.RoleUser, "old turn")
	require.NoError(t, store.Save(dir, session))

	fresh, err := store.Reset(dir, "run-3", "sys")
	require.NoError(t, err)
	require.Len(t, fresh.Messages, 1)
	assert.Equal(t, "sys", fresh.Messages[0].Content)
}

func TestStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{nope"), 0o600))

	_, err := NewStore().LoadOrCreate(dir, "bad", "")
	var serr *agent.StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "load", serr.Op)
}

func TestStore_RejectsTraversalIDs(t *testing.T) {
	store := NewStore()
	_, err := store.LoadOrCreate(t.TempDir(), "../escape", "")
	var serr *agent.StoreError
	require.ErrorAs(t, err, &serr)
}

func TestStore_List(t *testing.T) {
	dir := t.TempDir()
	store := NewStore()

	_, err := store.LoadOrCreate(dir, "a", "")
	require.NoError(t, err)
	_, err = store.LoadOrCreate(dir, "b", "")
	require.NoError(t, err)

	ids, err := store.List(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	ids, err = store.List(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}
