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
	"path/filepath"
	"strings"
)

// Language names understood by the loader.
const (
	LanguageCSharp      = "C#"
	LanguageVisualBasic = "Visual Basic"
)

// SourceKind classifies a source document.
type SourceKind string

const (
	// SourceKindRegular is an ordinary source file.
	SourceKindRegular SourceKind = "regular"

	// SourceKindScript is a script file.
	SourceKindScript SourceKind = "script"

	// SourceKindGenerated is a file produced by the build.
	SourceKindGenerated SourceKind = "generated"
)

// DocumentFileInfo describes a document as reported by the build engine.
type DocumentFileInfo struct {
	// FilePath is the absolute path of the document.
	FilePath string `json:"filePath"`

	// LogicalPath is the path relative to the project, used for the name.
	// Linked files carry their link path here.
	LogicalPath string `json:"logicalPath,omitempty"`

	// Folders are the logical folders containing the document.
	Folders []string `json:"folders,omitempty"`

	// SourceKind classifies the document. Empty means regular.
	SourceKind SourceKind `json:"sourceKind,omitempty"`

	// IsLinked is true when the file lives outside the project cone.
	IsLinked bool `json:"isLinked,omitempty"`
}

// Name returns the display name of the document.
func (d DocumentFileInfo) Name() string {
	if d.LogicalPath != "" {
		return filepath.Base(d.LogicalPath)
	}
	return filepath.Base(d.FilePath)
}

// Kind returns the source kind, defaulting to regular.
func (d DocumentFileInfo) Kind() SourceKind {
	if d.SourceKind == "" {
		return SourceKindRegular
	}
	return d.SourceKind
}

// ProjectFileReference is a raw project-to-project reference declaration.
type ProjectFileReference struct {
	// Path is the referenced project file, absolute or relative to the
	// referencing project's directory.
	Path string `json:"path"`

	// Aliases is the ordered extern alias set. Empty for ordinary references.
	Aliases []string `json:"aliases,omitempty"`

	// ReferenceOutputAssembly is false when the reference only orders the
	// build and must not be linked.
	ReferenceOutputAssembly *bool `json:"referenceOutputAssembly,omitempty"`
}

// LinksOutput reports whether the reference should be linked at all.
func (r ProjectFileReference) LinksOutput() bool {
	return r.ReferenceOutputAssembly == nil || *r.ReferenceOutputAssembly
}

// Descriptor is the raw per-project output of one evaluate+build round trip.
//
// Description:
//
//	Descriptors are produced by the build engine and consumed immediately
//	by the worker, which turns each one into a Node. They are also the wire
//	payload of the build RPC, hence the JSON tags.
type Descriptor struct {
	Language          string `json:"language"`
	FilePath          string `json:"filePath"`
	OutputFilePath    string `json:"outputFilePath,omitempty"`
	OutputRefFilePath string `json:"outputRefFilePath,omitempty"`

	// TargetFramework is the target framework label. Empty when the
	// project is not multi-targeted.
	TargetFramework string `json:"targetFramework,omitempty"`

	// CommandLineArgs are the compiler arguments produced by the build.
	CommandLineArgs []string `json:"commandLineArgs,omitempty"`

	Documents               []DocumentFileInfo `json:"documents,omitempty"`
	AdditionalDocuments     []DocumentFileInfo `json:"additionalDocuments,omitempty"`
	AnalyzerConfigDocuments []DocumentFileInfo `json:"analyzerConfigDocuments,omitempty"`

	ProjectReferences []ProjectFileReference `json:"projectReferences,omitempty"`

	// Log carries diagnostics produced while building this project.
	Log []DiagnosticLogEntry `json:"log,omitempty"`

	// IsEmpty marks a placeholder descriptor produced for a failed load.
	IsEmpty bool `json:"isEmpty,omitempty"`
}

// Name returns the project name derived from the file path.
func (d *Descriptor) Name() string {
	return ProjectName(d.FilePath)
}

// EmptyDescriptor returns a placeholder descriptor for a project whose
// evaluation failed. It carries the failure log.
func EmptyDescriptor(path, language string, log []DiagnosticLogEntry) *Descriptor {
	return &Descriptor{
		Language: language,
		FilePath: path,
		Log:      log,
		IsEmpty:  true,
	}
}

// ProjectName returns the file name of path without its extension.
func ProjectName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
