// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

// Sentinel errors for project path and loader failures.
var (
	// ErrProjectFileNotFound indicates the project file does not exist.
	ErrProjectFileNotFound = errors.New("project file not found")

	// ErrInvalidProjectPath indicates the path cannot name a project file.
	ErrInvalidProjectPath = errors.New("invalid project path")

	// ErrUnsupportedDialect indicates no language is associated with the
	// project file's extension.
	ErrUnsupportedDialect = errors.New("project file extension is not associated with a language")

	// ErrEvaluationFailed indicates the build engine could not evaluate a project.
	ErrEvaluationFailed = errors.New("project evaluation failed")

	// ErrBuildFailed indicates the build engine could not build a project.
	ErrBuildFailed = errors.New("project build failed")
)

// PathError is a path failure for a specific project file.
type PathError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PathError) Unwrap() error {
	return e.Err
}

// LoadError is an evaluation or build failure reported by the engine.
type LoadError struct {
	// Path is the project file.
	Path string

	// Err is ErrEvaluationFailed or ErrBuildFailed, or a transport error.
	Err error

	// Log is the engine's failure log.
	Log []project.DiagnosticLogEntry
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Path, e.Err)
	for _, entry := range e.Log {
		if entry.Kind == project.DiagnosticFailure {
			fmt.Fprintf(&b, "; %s", entry.Message)
		}
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *LoadError) Unwrap() error {
	return e.Err
}
