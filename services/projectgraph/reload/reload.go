// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reload updates an already loaded project node from a fresh
// descriptor, replacing only the facets whose checksums changed.
package reload

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/AleutianAI/projectgraph/services/projectgraph/cmdline"
	"github.com/AleutianAI/projectgraph/services/projectgraph/diagnostics"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
	"github.com/AleutianAI/projectgraph/services/projectgraph/projectmap"
)

// Option configures a Reloader.
type Option func(*Reloader)

// WithProjectMap lets references resolve to identities that have no node
// in the graph. Placeholder identities for unknown references are
// recorded in it. Without one, the Reloader keeps a private map.
func WithProjectMap(m *projectmap.Map) Option {
	return func(r *Reloader) { r.projectMap = m }
}

// WithDiagnosticLog appends the warnings of every reload to log.
func WithDiagnosticLog(log *project.DiagnosticLog) Option {
	return func(r *Reloader) { r.diagLog = log }
}

// WithFileExists replaces the check used to keep metadata references.
func WithFileExists(f diagnostics.FileExistsFunc) Option {
	return func(r *Reloader) { r.fileExists = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reloader) { r.logger = l }
}

// Reloader applies descriptors to existing nodes.
//
// Thread Safety:
//
//	Safe for concurrent use. The project map and diagnostic log are
//	internally synchronized.
type Reloader struct {
	projectMap *projectmap.Map
	diagLog    *project.DiagnosticLog
	fileExists diagnostics.FileExistsFunc
	logger     *slog.Logger
}

// NewReloader creates a Reloader.
func NewReloader(opts ...Option) *Reloader {
	r := &Reloader{}
	for _, opt := range opts {
		opt(r)
	}
	if r.fileExists == nil {
		r.fileExists = diagnostics.OSFileExists
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.projectMap == nil {
		r.projectMap = projectmap.New()
	}
	return r
}

// Reload builds the successor of old from desc.
//
// Description:
//
//	Interprets desc the way a load would. Compiler arguments become
//	options and metadata references. Project references are linked to
//	nodes of graph or identities of the project map; a reference to an
//	unknown project gets a placeholder identity, and a link that would
//	close a cycle falls back to the target's output as a metadata
//	reference. Documents keep their identities by file path. The
//	candidate is then merged into old with Apply. Warnings are returned
//	in Changes.Warnings.
//
// Inputs:
//
//	graph - The graph containing old. Used to resolve project references.
//	old - The current node.
//	desc - The fresh descriptor for the same project and target.
//
// Outputs:
//
//	*project.Node - The new node. Equal to old when nothing changed.
//	*Changes - The replaced facets.
//	error - *ConsistencyError if desc names a different project file.
func (r *Reloader) Reload(graph *project.Graph, old *project.Node, desc *project.Descriptor) (*project.Node, *Changes, error) {
	if old == nil || desc == nil {
		return nil, nil, fmt.Errorf("reload: old node and descriptor are required")
	}
	path := desc.FilePath
	if path == "" {
		path = old.FilePath()
	}
	if path != old.FilePath() {
		return nil, nil, &ConsistencyError{Project: old.ID, Field: "FilePath", Old: old.FilePath(), New: path}
	}

	args := cmdline.Parse(desc.CommandLineArgs, filepath.Dir(path))
	out, outRef := desc.OutputFilePath, desc.OutputRefFilePath
	if out == "" {
		out = args.OutputPath
	}
	if outRef == "" {
		outRef = args.RefOutputPath
	}
	lang := desc.Language
	if lang == "" {
		lang = old.Attributes.Language
	}

	warn := &warnings{project: old.ID, file: path}
	meta := append([]project.MetadataReference(nil), args.MetadataReferences...)
	var edges []project.ReferenceEdge
	for _, ref := range desc.ProjectReferences {
		if !ref.LinksOutput() {
			continue
		}
		var edge *project.ReferenceEdge
		edge, meta = r.link(graph, old, path, ref, meta, warn)
		if edge != nil && !hasEdge(edges, edge.To) {
			edges = append(edges, *edge)
		}
	}

	compilation := args.CompilationOptions
	parse := args.ParseOptions
	candidate := project.NewNode(project.NodeParts{
		ID: old.ID,
		Attributes: &project.Attributes{
			Language:          lang,
			Name:              old.Name(),
			FilePath:          path,
			OutputFilePath:    out,
			OutputRefFilePath: outRef,
			TargetFramework:   desc.TargetFramework,
			IsEmpty:           desc.IsEmpty,
		},
		CompilationOptions:      &compilation,
		ParseOptions:            &parse,
		ProjectReferences:       edges,
		MetadataReferences:      r.prune(graph, meta, warn),
		AnalyzerReferences:      args.AnalyzerReferences,
		Documents:               documents(old.ID, old.Documents, desc.Documents),
		AdditionalDocuments:     documents(old.ID, old.AdditionalDocuments, desc.AdditionalDocuments),
		AnalyzerConfigDocuments: documents(old.ID, old.AnalyzerConfigDocuments, desc.AnalyzerConfigDocuments),
		Log:                     desc.Log,
	})

	n, changes, err := r.Apply(old, candidate)
	if err != nil {
		return nil, nil, err
	}
	changes.Warnings = warn.entries
	if r.diagLog != nil {
		r.diagLog.AddAll(warn.entries)
	}
	for _, e := range warn.entries {
		r.logger.Debug("project reload warning",
			slog.String("project", path),
			slog.String("message", e.Message),
		)
	}
	return n, changes, nil
}

// Apply merges next into old facet by facet.
//
// Description:
//
//	A facet whose checksum is unchanged keeps old's value by reference.
//	Document facets that changed are diffed per document: unchanged
//	documents are reused, documents whose folders or source kind changed
//	are rebuilt with WithAttributes, and the rest are added or removed.
//
// Outputs:
//
//	*project.Node - The merged node; old itself when nothing changed.
//	*Changes - The replaced facets and document deltas.
//	error - *ConsistencyError when next has a different id, or when a
//	        document keeps its id but changes its name or file path.
func (r *Reloader) Apply(old, next *project.Node) (*project.Node, *Changes, error) {
	if old.ID != next.ID {
		return nil, nil, &ConsistencyError{Project: old.ID, Field: "ID", Old: old.ID.String(), New: next.ID.String()}
	}

	changes := &Changes{Project: old.ID, Documents: make(map[project.Facet]*DocumentChanges), Log: next.Log}
	for _, f := range project.AllFacets() {
		if old.Checksum(f) != next.Checksum(f) {
			changes.Facets = append(changes.Facets, f)
		}
	}
	if changes.IsEmpty() {
		return old, changes, nil
	}

	parts := project.NodeParts{
		ID:                      old.ID,
		Attributes:              old.Attributes,
		CompilationOptions:      old.CompilationOptions,
		ParseOptions:            old.ParseOptions,
		ProjectReferences:       old.ProjectReferences,
		MetadataReferences:      old.MetadataReferences,
		AnalyzerReferences:      old.AnalyzerReferences,
		Documents:               old.Documents,
		AdditionalDocuments:     old.AdditionalDocuments,
		AnalyzerConfigDocuments: old.AnalyzerConfigDocuments,
		Log:                     next.Log,
	}

	for _, f := range changes.Facets {
		switch f {
		case project.FacetAttributes:
			parts.Attributes = next.Attributes
		case project.FacetCompilationOptions:
			parts.CompilationOptions = next.CompilationOptions
		case project.FacetParseOptions:
			parts.ParseOptions = next.ParseOptions
		case project.FacetProjectReferences:
			parts.ProjectReferences = next.ProjectReferences
		case project.FacetMetadataReferences:
			parts.MetadataReferences = next.MetadataReferences
		case project.FacetAnalyzerReferences:
			parts.AnalyzerReferences = next.AnalyzerReferences
		case project.FacetDocuments, project.FacetAdditionalDocuments, project.FacetAnalyzerConfigDocuments:
			set, delta, err := diffDocuments(old.ID, old.DocumentSet(f), next.DocumentSet(f))
			if err != nil {
				return nil, nil, err
			}
			changes.Documents[f] = delta
			switch f {
			case project.FacetDocuments:
				parts.Documents = set
			case project.FacetAdditionalDocuments:
				parts.AdditionalDocuments = set
			default:
				parts.AnalyzerConfigDocuments = set
			}
		}
	}

	r.logger.Debug("project reloaded",
		slog.String("project", old.FilePath()),
		slog.String("changes", changes.String()),
	)
	return project.NewNode(parts), changes, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// link resolves one project reference against the graph. The returned
// metadata list has the target's output removed when an edge is made,
// and added when every candidate would close a cycle.
func (r *Reloader) link(graph *project.Graph, old *project.Node, path string, ref project.ProjectFileReference,
	meta []project.MetadataReference, warn *warnings) (*project.ReferenceEdge, []project.MetadataReference) {

	refPath := ref.Path
	if !filepath.IsAbs(refPath) {
		refPath = filepath.Join(filepath.Dir(path), refPath)
	}
	refPath = filepath.Clean(refPath)

	var candidates []*project.ProjectID
	outputs := make(map[*project.ProjectID][2]string)
	for _, n := range graph.NodesByPath(refPath) {
		candidates = append(candidates, n.ID)
		outputs[n.ID] = [2]string{n.OutputFilePath(), n.Attributes.OutputRefFilePath}
	}
	for _, id := range r.projectMap.IDs(refPath) {
		if _, ok := outputs[id]; ok {
			continue
		}
		out, outRef, _ := r.projectMap.OutputPaths(id)
		candidates = append(candidates, id)
		outputs[id] = [2]string{out, outRef}
	}

	if len(candidates) == 0 {
		to := r.projectMap.GetOrCreate(refPath)
		warn.add("project reference %s is not loaded; linked to a placeholder identity", refPath)
		if to == old.ID || graph.Reaches(to, old.ID) {
			return nil, meta
		}
		return &project.ReferenceEdge{From: old.ID, To: to, Aliases: ref.Aliases}, meta
	}

	// Prefer a target whose output the compiler already references.
	ordered := make([]*project.ProjectID, 0, len(candidates))
	var rest []*project.ProjectID
	for _, id := range candidates {
		o := outputs[id]
		if indexOf(meta, o[0]) >= 0 || indexOf(meta, o[1]) >= 0 {
			ordered = append(ordered, id)
		} else {
			rest = append(rest, id)
		}
	}
	ordered = append(ordered, rest...)

	for _, to := range ordered {
		if to == old.ID || graph.Reaches(to, old.ID) {
			continue
		}
		aliases := ref.Aliases
		for _, p := range outputs[to] {
			if i := indexOf(meta, p); i >= 0 {
				if len(aliases) == 0 {
					aliases = meta[i].Aliases
				}
				meta = append(meta[:i:i], meta[i+1:]...)
			}
		}
		return &project.ReferenceEdge{From: old.ID, To: to, Aliases: aliases}, meta
	}

	target := ordered[0]
	o := outputs[target]
	if target != old.ID && o[0] != "" && indexOf(meta, o[0]) < 0 && indexOf(meta, o[1]) < 0 {
		meta = append(meta, project.MetadataReference{Path: o[0], Aliases: ref.Aliases})
	}
	warn.add("project reference to %s would create a cycle; kept as metadata reference", target.DebugName())
	return nil, meta
}

// prune drops metadata references that name neither an existing file
// nor the output of a known project.
func (r *Reloader) prune(graph *project.Graph, meta []project.MetadataReference, warn *warnings) []project.MetadataReference {
	outputs := make(map[string]bool)
	for _, n := range graph.Nodes() {
		outputs[n.OutputFilePath()] = true
		outputs[n.Attributes.OutputRefFilePath] = true
	}
	var kept []project.MetadataReference
	for _, m := range meta {
		if r.fileExists(m.Path) || outputs[m.Path] {
			kept = append(kept, m)
			continue
		}
		if _, ok := r.projectMap.IsOutputOf(m.Path); ok {
			kept = append(kept, m)
			continue
		}
		warn.add("metadata reference %s not found; dropped", m.Path)
	}
	return kept
}

// warnings collects the warning entries of one reload.
type warnings struct {
	project *project.ProjectID
	file    string
	entries []project.DiagnosticLogEntry
}

func (w *warnings) add(format string, args ...any) {
	w.entries = append(w.entries, project.DiagnosticLogEntry{
		Kind:        project.DiagnosticWarning,
		Message:     fmt.Sprintf(format, args...),
		ProjectFile: w.file,
		Project:     w.project,
	})
}

// documents builds a document set from infos, reusing the identity of
// the document with the same file path and name in old.
func documents(id *project.ProjectID, old *project.DocumentSet, infos []project.DocumentFileInfo) *project.DocumentSet {
	docs := make([]*project.Document, 0, len(infos))
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		if seen[info.FilePath] {
			continue
		}
		seen[info.FilePath] = true

		docID := project.NewDocumentID(id, info.FilePath)
		if prev, ok := old.ByPath(info.FilePath); ok && prev.Name == info.Name() {
			docID = prev.ID
		}
		docs = append(docs, &project.Document{
			ID:         docID,
			Name:       info.Name(),
			FilePath:   info.FilePath,
			Folders:    info.Folders,
			SourceKind: info.Kind(),
		})
	}
	return project.NewDocumentSet(docs)
}

// diffDocuments merges next into old document by document.
func diffDocuments(projectID *project.ProjectID, old, next *project.DocumentSet) (*project.DocumentSet, *DocumentChanges, error) {
	delta := &DocumentChanges{}
	merged := make([]*project.Document, 0, next.Len())
	for _, d := range next.Documents() {
		prev, ok := old.Get(d.ID)
		if !ok {
			delta.Added = append(delta.Added, d.ID)
			merged = append(merged, d)
			continue
		}
		oldSum, _ := old.DocumentChecksum(d.ID)
		newSum, _ := next.DocumentChecksum(d.ID)
		if oldSum == newSum {
			merged = append(merged, prev)
			continue
		}
		if prev.Name != d.Name {
			return nil, nil, &ConsistencyError{Project: projectID, Document: d.ID, Field: "Name", Old: prev.Name, New: d.Name}
		}
		if prev.FilePath != d.FilePath {
			return nil, nil, &ConsistencyError{Project: projectID, Document: d.ID, Field: "FilePath", Old: prev.FilePath, New: d.FilePath}
		}
		delta.AttributesChanged = append(delta.AttributesChanged, d.ID)
		merged = append(merged, prev.WithAttributes(d.Folders, d.SourceKind))
	}
	for _, d := range old.Documents() {
		if _, ok := next.Get(d.ID); !ok {
			delta.Removed = append(delta.Removed, d.ID)
		}
	}
	return project.NewDocumentSet(merged), delta, nil
}

func indexOf(meta []project.MetadataReference, path string) int {
	if path == "" {
		return -1
	}
	for i, m := range meta {
		if m.Path == path {
			return i
		}
	}
	return -1
}

func hasEdge(edges []project.ReferenceEdge, to *project.ProjectID) bool {
	for _, e := range edges {
		if e.To == to {
			return true
		}
	}
	return false
}
