// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnostics routes load failures according to caller policy.
//
// Every failure site in the loader is tagged with a ReportingMode. Throw
// surfaces the error to the caller, Log records it in the session's
// diagnostic log and continues, Ignore drops it. Requested and discovered
// projects carry separate ReportingOptions so a broken transitive
// reference can be tolerated while a broken requested project is fatal.
package diagnostics

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

// ReportingMode selects how a failure is handled.
type ReportingMode int

const (
	// Throw returns the failure to the caller.
	Throw ReportingMode = iota

	// Log records the failure and continues.
	Log

	// Ignore drops the failure.
	Ignore
)

// String returns the mode name.
func (m ReportingMode) String() string {
	switch m {
	case Throw:
		return "throw"
	case Log:
		return "log"
	case Ignore:
		return "ignore"
	default:
		return "unknown"
	}
}

// ParseReportingMode parses a mode name as written in configuration.
func ParseReportingMode(s string) (ReportingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "throw":
		return Throw, nil
	case "log", "":
		return Log, nil
	case "ignore":
		return Ignore, nil
	default:
		return Log, fmt.Errorf("unknown reporting mode %q", s)
	}
}

// ReportingOptions are the modes for one class of projects.
type ReportingOptions struct {
	// OnPathFailure applies when a project path is missing or invalid.
	OnPathFailure ReportingMode

	// OnLoaderFailure applies when the build engine fails to evaluate or
	// build the project, or its dialect is unsupported.
	OnLoaderFailure ReportingMode
}

// Reporter applies reporting modes.
//
// Thread Safety:
//
//	Safe for concurrent use; the underlying log is concurrency safe.
type Reporter struct {
	log    *project.DiagnosticLog
	logger *slog.Logger
}

// NewReporter creates a reporter that appends to log.
func NewReporter(log *project.DiagnosticLog, logger *slog.Logger) *Reporter {
	if log == nil {
		log = &project.DiagnosticLog{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{log: log, logger: logger}
}

// Log returns the diagnostic log the reporter appends to.
func (r *Reporter) Log() *project.DiagnosticLog {
	return r.log
}

// Report handles a failure.
//
// Outputs:
//
//	error - err itself for Throw, nil otherwise.
func (r *Reporter) Report(mode ReportingMode, err error, projectFile string, id *project.ProjectID) error {
	if err == nil {
		return nil
	}
	switch mode {
	case Throw:
		return err
	case Log:
		r.log.Add(project.DiagnosticLogEntry{
			Kind:        project.DiagnosticFailure,
			Message:     err.Error(),
			ProjectFile: projectFile,
			Project:     id,
		})
		r.logger.Warn("project load failure",
			slog.String("project", projectFile),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Warn records a non-fatal warning. Warnings are never thrown.
func (r *Reporter) Warn(message, projectFile string, id *project.ProjectID) {
	r.log.Add(project.DiagnosticLogEntry{
		Kind:        project.DiagnosticWarning,
		Message:     message,
		ProjectFile: projectFile,
		Project:     id,
	})
	r.logger.Debug("project load warning",
		slog.String("project", projectFile),
		slog.String("message", message),
	)
}

// Forward appends entries produced elsewhere, such as build diagnostics.
func (r *Reporter) Forward(entries []project.DiagnosticLogEntry, id *project.ProjectID) {
	for _, e := range entries {
		if e.Project == nil {
			e.Project = id
		}
		r.log.Add(e)
	}
}
