// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("local sandbox tests require a POSIX shell")
	}
}

func TestRunner_Local_Success(t *testing.T) {
	skipOnWindows(t)
	runner := NewRunner(t.TempDir())

	result, err := runner.Run(context.Background(), "echo hello && echo oops >&2", "group-1", Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello")
	assert.Contains(t, result.Stderr, "oops")
	assert.Equal(t, datatypes.RunnerLocal, result.Runner)
	assert.Equal(t, "group-1", result.WorkspaceGroupID)
}

func TestRunner_Local_NonZeroExitIsNotAnError(t *testing.T) {
	skipOnWindows(t)
	runner := NewRunner(t.TempDir())

	result, err := runner.Run(context.Background(), "exit 3", "group-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunner_Local_Timeout(t *testing.T) {
	skipOnWindows(t)
	runner := NewRunner(t.TempDir())

	result, err := runner.Run(context.Background(), "sleep 5", "group-1", Options{TimeoutMs: 100})
	require.NoError(t, err)
	assert.NotZero(t, result.ExitCode)
}

func TestRunner_Local_WorkspacePersistsAcrossCommands(t *testing.T) {
	skipOnWindows(t)
	runner := NewRunner(t.TempDir())

	_, err := runner.Run(context.Background(), "echo data > probe.txt", "group-2", Options{})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "cat probe.txt", "group-2", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "data")

	// A different group sees a different workspace.
	result, err = runner.Run(context.Background(), "cat probe.txt", "group-3", Options{})
	require.NoError(t, err)
	assert.NotZero(t, result.ExitCode)
}

func TestRunner_Local_OutputCapped(t *testing.T) {
	skipOnWindows(t)
	runner := NewRunner(t.TempDir())

	result, err := runner.Run(context.Background(),
		"yes long-line-of-output | head -c 100000", "group-1",
		Options{MaxBufferBytes: 4096, TimeoutMs: 30_000})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Stdout), datatypes.MaxToolOutputChars+len(datatypes.ToolOutputTruncationMarker))
}

func TestRunner_UnknownMode(t *testing.T) {
	runner := NewRunner(t.TempDir())
	_, err := runner.Run(context.Background(), "ls", "g", Options{Mode: "vm"})
	assert.Error(t, err)
}

func TestSanitizeGroup(t *testing.T) {
	assert.Equal(t, "a-b_c.9", sanitizeGroup("a-b_c.9"))
	assert.Equal(t, "a_b_c", sanitizeGroup("a/b c"))
	assert.Equal(t, "default", sanitizeGroup(""))
	assert.False(t, strings.Contains(sanitizeGroup("../escape"), "/"))
}
