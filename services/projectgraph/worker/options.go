// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

import (
	"log/slog"

	"github.com/AleutianAI/projectgraph/services/projectgraph/diagnostics"
	"github.com/AleutianAI/projectgraph/services/projectgraph/progress"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
	"github.com/AleutianAI/projectgraph/services/projectgraph/projectmap"
)

// Options controls one load session.
type Options struct {
	// Requested is the reporting policy for caller-specified paths.
	Requested diagnostics.ReportingOptions

	// Discovered is the reporting policy for paths reached only through
	// references.
	Discovered diagnostics.ReportingOptions

	// BaseDir resolves relative requested paths. Empty means the working
	// directory.
	BaseDir string

	// GlobalProperties are passed to every evaluation.
	GlobalProperties map[string]string

	// LanguageExtensions maps lower-case project file extensions to
	// languages. A project whose extension is absent has an unsupported
	// dialect.
	LanguageExtensions map[string]string

	// LoadMetadataForReferencedProjects keeps a referenced project as a
	// metadata reference, without loading it, when its output already
	// exists on disk. Requested projects are always loaded.
	LoadMetadataForReferencedProjects bool

	// Parallelism is how many requested paths load at once. Values below
	// 2 load sequentially.
	Parallelism int
}

// DefaultLanguageExtensions returns the built-in extension map.
func DefaultLanguageExtensions() map[string]string {
	return map[string]string{
		".csproj": project.LanguageCSharp,
		".vbproj": project.LanguageVisualBasic,
	}
}

// DefaultOptions returns options that fail on any problem with a
// requested project and log problems with discovered ones.
func DefaultOptions() Options {
	return Options{
		Requested: diagnostics.ReportingOptions{
			OnPathFailure:   diagnostics.Throw,
			OnLoaderFailure: diagnostics.Throw,
		},
		Discovered: diagnostics.ReportingOptions{
			OnPathFailure:   diagnostics.Log,
			OnLoaderFailure: diagnostics.Log,
		},
		LanguageExtensions: DefaultLanguageExtensions(),
		Parallelism:        1,
	}
}

// Option configures a Worker.
type Option func(*Worker)

// WithProjectMap shares an identity index with other sessions.
func WithProjectMap(m *projectmap.Map) Option {
	return func(w *Worker) { w.projectMap = m }
}

// WithDiagnosticLog collects diagnostics into log.
func WithDiagnosticLog(log *project.DiagnosticLog) Option {
	return func(w *Worker) { w.diagLog = log }
}

// WithProgress receives phase events.
func WithProgress(r progress.Reporter) Option {
	return func(w *Worker) { w.progress = r }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithFileExists replaces the file system check used for project paths
// and metadata references.
func WithFileExists(f diagnostics.FileExistsFunc) Option {
	return func(w *Worker) { w.fileExists = f }
}
