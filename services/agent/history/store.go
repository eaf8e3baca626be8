// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history records completed agent runs in a local BadgerDB so
// past goals, step counts, and final answers survive process restarts
// and can be listed from the CLI.
//
// License note: BadgerDB is Apache 2.0 licensed
// (github.com/dgraph-io/badger).
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/KiskaLocal/services/agent"
)

// keyPrefix namespaces run records inside the database.
const keyPrefix = "run/"

// RunRecord is one completed agent run.
type RunRecord struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// SessionID is the chat session the run was attached to.
	SessionID string `json:"session_id"`

	// AgentID is the routed agent.
	AgentID string `json:"agent_id"`

	// Goal is the operator's natural-language goal.
	Goal string `json:"goal"`

	// Steps is the last worker step reached.
	Steps int `json:"steps"`

	// EvidenceCount is how many evidence items were gathered.
	EvidenceCount int `json:"evidence_count"`

	// Answer is the final report.
	Answer string `json:"answer"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Store persists run records.
//
// Thread Safety: Store is safe for concurrent use; Badger provides the
// transaction isolation.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the history database at path. An empty path
// opens an in-memory database, used by tests.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores one completed run. A missing ID gets a UUID.
func (s *Store) Append(record RunRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CompletedAt.IsZero() {
		record.CompletedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}

	key := fmt.Sprintf("%s%d/%s", keyPrefix, record.CompletedAt.UnixNano(), record.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
}

// RecordResult builds and appends a record from a run result.
func (s *Store) RecordResult(sessionID, goal string, result *agent.RunResult) error {
	return s.Append(RunRecord{
		SessionID:     sessionID,
		AgentID:       result.AgentID,
		Goal:          goal,
		Steps:         result.Steps,
		EvidenceCount: len(result.Evidence),
		Answer:        result.Summary,
	})
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var records []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek past the prefix range end.
		seek := append([]byte(keyPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(keyPrefix)) && len(records) < limit; it.Next() {
			err := it.Item().Value(func(raw []byte) error {
				var record RunRecord
				if err := json.Unmarshal(raw, &record); err != nil {
					return err
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}
	return records, nil
}
