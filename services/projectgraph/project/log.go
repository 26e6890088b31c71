// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

import (
	"fmt"
	"sync"
)

// DiagnosticKind is the severity of a diagnostic log entry.
type DiagnosticKind string

const (
	// DiagnosticWarning is a non-fatal problem.
	DiagnosticWarning DiagnosticKind = "warning"

	// DiagnosticFailure is a failed operation.
	DiagnosticFailure DiagnosticKind = "failure"
)

// DiagnosticLogEntry is a single diagnostic produced during a load.
type DiagnosticLogEntry struct {
	Kind    DiagnosticKind `json:"kind"`
	Message string         `json:"message"`

	// ProjectFile is the project file the entry refers to, when known.
	ProjectFile string `json:"projectFile,omitempty"`

	// Project is the owning id. Never serialized: ids are process local.
	Project *ProjectID `json:"-"`
}

// String implements fmt.Stringer.
func (e DiagnosticLogEntry) String() string {
	if e.ProjectFile != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.ProjectFile, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// DiagnosticLog is an append-only list of diagnostics.
//
// Thread Safety:
//
//	Safe for concurrent use.
type DiagnosticLog struct {
	mu      sync.Mutex
	entries []DiagnosticLogEntry
}

// Add appends an entry.
func (l *DiagnosticLog) Add(entry DiagnosticLogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// AddAll appends entries in order.
func (l *DiagnosticLog) AddAll(entries []DiagnosticLogEntry) {
	if len(entries) == 0 {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, entries...)
	l.mu.Unlock()
}

// Entries returns a copy of the entries.
func (l *DiagnosticLog) Entries() []DiagnosticLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DiagnosticLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *DiagnosticLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// HasFailures reports whether any entry is a failure.
func (l *DiagnosticLog) HasFailures() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Kind == DiagnosticFailure {
			return true
		}
	}
	return false
}
