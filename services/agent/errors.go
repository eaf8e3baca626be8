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
	"errors"
	"fmt"
)

// Sentinel errors for the agent loop.
var (
	// ErrCancelled indicates the caller cancelled the run. The partial
	// session remains persisted.
	ErrCancelled = errors.New("run cancelled")

	// ErrAskUserUnavailable indicates the worker asked a question but no
	// AskUser callback was configured.
	ErrAskUserUnavailable = errors.New("worker asked a question but no askUser callback is configured")

	// ErrWorkerPromptMissing indicates the worker system prompt resource
	// could not be read.
	ErrWorkerPromptMissing = errors.New("worker system prompt resource missing")
)

// ConfigError is a non-recoverable configuration problem; the run aborts.
type ConfigError struct {
	// Reason describes the misconfiguration.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StoreError wraps a session persistence failure; the run aborts.
type StoreError struct {
	// Op is the store operation that failed ("save", "load", "reset").
	Op string

	// SessionID is the affected session.
	SessionID string

	// Err is the underlying cause.
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store %s failed for %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// PolicyViolation is returned by the command safety gate when a proposed
// command breaks the sandbox policy. It is handled as a worker
// validation failure, never as a fatal error.
type PolicyViolation struct {
	// Rule names the violated rule ("forbidden_executable", "git_push",
	// "pipe_budget", "empty_command").
	Rule string

	// Detail is the human-readable explanation quoted back to the model.
	Detail string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("command policy violation (%s): %s", e.Rule, e.Detail)
}

// StructuredValidationError is raised when the repair-retry budget for a
// structured phase is exhausted.
type StructuredValidationError struct {
	// Kind is the structured output kind ("worker-action",
	// "main-decision", "planning").
	Kind string

	// Attempts is how many completions were tried.
	Attempts int

	// Reason is the last validation failure.
	Reason string
}

func (e *StructuredValidationError) Error() string {
	return fmt.Sprintf("structured %s output invalid after %d attempts: %s", e.Kind, e.Attempts, e.Reason)
}

// WorkerValidationFailure marks the worker's retry cap being hit at a
// specific step; the loop responds by forcing synthesis.
type WorkerValidationFailure struct {
	// Step is the worker step that failed.
	Step int

	// Err is the final validation error.
	Err error
}

func (e *WorkerValidationFailure) Error() string {
	return fmt.Sprintf("worker validation failed at step %d: %v", e.Step, e.Err)
}

func (e *WorkerValidationFailure) Unwrap() error { return e.Err }
