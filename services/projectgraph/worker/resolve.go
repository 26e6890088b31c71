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
	"context"
	"fmt"
	"path/filepath"

	"github.com/AleutianAI/projectgraph/services/projectgraph/buildhost"
	"github.com/AleutianAI/projectgraph/services/projectgraph/cmdline"
	"github.com/AleutianAI/projectgraph/services/projectgraph/diagnostics"
	"github.com/AleutianAI/projectgraph/services/projectgraph/progress"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

// =============================================================================
// NODE CONSTRUCTION
// =============================================================================

// buildNodes turns the descriptors of one project file into nodes.
//
// Description:
//
//	Identities for every descriptor are assigned before any reference is
//	resolved, so a project that references back into this one finds a
//	known identity instead of loading it again. Two descriptors that
//	would share an identity get distinct ones.
func (w *Worker) buildNodes(ctx context.Context, path, lang string, descs []*project.Descriptor, engineLog []project.DiagnosticLogEntry, client *buildhost.Client) ([]*project.Node, error) {
	fanOut := len(descs) > 1
	ids := make([]*project.ProjectID, len(descs))
	args := make([]*cmdline.Arguments, len(descs))
	taken := make(map[*project.ProjectID]bool, len(descs))

	for i, d := range descs {
		args[i] = cmdline.Parse(d.CommandLineArgs, filepath.Dir(path))
		out, outRef := outputPaths(d, args[i])

		label := path
		if fanOut {
			label = displayName(path, d.TargetFramework, fanOut)
		}
		id := w.projectMap.GetOrCreateLabeled(path, label, out, outRef)
		if taken[id] {
			id = project.NewProjectID(label)
			w.projectMap.Record(id, path, "", "")
		}
		taken[id] = true
		ids[i] = id
	}

	if len(ids) > 0 {
		w.reporter.Forward(engineLog, ids[0])
	}

	nodes := make([]*project.Node, 0, len(descs))
	for i, d := range descs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := w.resolveNode(ctx, ids[i], path, lang, d, args[i], fanOut, engineLog, client)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// resolveNode resolves the references of one descriptor and assembles
// its node.
func (w *Worker) resolveNode(ctx context.Context, id *project.ProjectID, path, lang string, d *project.Descriptor,
	args *cmdline.Arguments, fanOut bool, engineLog []project.DiagnosticLogEntry, client *buildhost.Client) (*project.Node, error) {

	timer := progress.Start(w.progress, path, progress.PhaseResolve)
	defer timer.Done(d.TargetFramework)

	if d.Language != "" {
		lang = d.Language
	}
	out, outRef := outputPaths(d, args)
	attrs := &project.Attributes{
		Language:          lang,
		Name:              displayName(path, d.TargetFramework, fanOut),
		FilePath:          path,
		OutputFilePath:    out,
		OutputRefFilePath: outRef,
		TargetFramework:   d.TargetFramework,
		IsEmpty:           d.IsEmpty,
	}

	log := make([]project.DiagnosticLogEntry, 0, len(engineLog)+len(d.Log))
	for _, e := range append(append([]project.DiagnosticLogEntry(nil), engineLog...), d.Log...) {
		e.Project = id
		log = append(log, e)
	}
	if len(d.Log) > 0 && !d.IsEmpty {
		w.reporter.Forward(d.Log, id)
	}

	if d.IsEmpty {
		return project.NewNode(project.NodeParts{ID: id, Attributes: attrs, Log: log}), nil
	}

	meta := newMetadataSet(args.MetadataReferences)
	var edges []project.ReferenceEdge
	linked := make(map[*project.ProjectID]bool)
	for _, ref := range d.ProjectReferences {
		if !ref.LinksOutput() {
			continue
		}
		edge, err := w.resolveReference(ctx, id, path, ref, meta, client)
		if err != nil {
			return nil, err
		}
		if edge == nil || linked[edge.To] {
			continue
		}
		linked[edge.To] = true
		edges = append(edges, *edge)
	}

	compilation := args.CompilationOptions
	parse := args.ParseOptions
	return project.NewNode(project.NodeParts{
		ID:                      id,
		Attributes:              attrs,
		CompilationOptions:      &compilation,
		ParseOptions:            &parse,
		ProjectReferences:       edges,
		MetadataReferences:      w.pruneMetadata(id, path, meta),
		AnalyzerReferences:      args.AnalyzerReferences,
		Documents:               w.documents(id, path, d.Documents),
		AdditionalDocuments:     w.documents(id, path, d.AdditionalDocuments),
		AnalyzerConfigDocuments: w.documents(id, path, d.AnalyzerConfigDocuments),
		Log:                     log,
	}), nil
}

// documents builds a document set, skipping repeated files.
func (w *Worker) documents(id *project.ProjectID, path string, infos []project.DocumentFileInfo) *project.DocumentSet {
	docs := make([]*project.Document, 0, len(infos))
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		if seen[info.FilePath] {
			w.reporter.Warn(fmt.Sprintf("duplicate document %s skipped", info.FilePath), path, id)
			continue
		}
		seen[info.FilePath] = true
		docs = append(docs, &project.Document{
			ID:         project.NewDocumentID(id, info.FilePath),
			Name:       info.Name(),
			FilePath:   info.FilePath,
			Folders:    info.Folders,
			SourceKind: info.Kind(),
		})
	}
	return project.NewDocumentSet(docs)
}

// pruneMetadata drops metadata references that name neither an existing
// file nor the output of a known project.
func (w *Worker) pruneMetadata(id *project.ProjectID, path string, meta *metadataSet) []project.MetadataReference {
	var kept []project.MetadataReference
	for _, ref := range meta.list() {
		if meta.isPinned(ref.Path) || w.fileExists(ref.Path) {
			kept = append(kept, ref)
			continue
		}
		if _, ok := w.projectMap.IsOutputOf(ref.Path); ok {
			kept = append(kept, ref)
			continue
		}
		w.reporter.Warn(fmt.Sprintf("unresolved metadata reference %s dropped", ref.Path), path, id)
	}
	return kept
}

// =============================================================================
// REFERENCE RESOLUTION
// =============================================================================

// resolveReference turns one project reference into an edge, a metadata
// reference, or nothing.
//
// Description:
//
//	Tried in order:
//	  (a) the path already has identities: link to one of them;
//	  (b) the path has an unsupported dialect: keep its output as
//	      metadata when the compiler arguments already reference it;
//	  (c) load the path recursively and link to one of its nodes;
//	  (d) link to a placeholder identity with no node.
//	A link that would close a cycle is refused and the target's output is
//	kept as a metadata reference instead.
//
// Outputs:
//
//	*project.ReferenceEdge - The linked edge, or nil.
//	error - A failure reported with Throw.
func (w *Worker) resolveReference(ctx context.Context, from *project.ProjectID, fromPath string,
	ref project.ProjectFileReference, meta *metadataSet, client *buildhost.Client) (*project.ReferenceEdge, error) {

	refPath := ref.Path
	if refPath != "" && !filepath.IsAbs(refPath) {
		refPath = filepath.Join(filepath.Dir(fromPath), refPath)
	}
	if refPath != "" {
		refPath = filepath.Clean(refPath)
	}
	w.noteReference(fromPath, refPath)
	rpcCtx := context.WithoutCancel(ctx)

	// (a)
	if ids := w.projectMap.IDs(refPath); len(ids) > 0 {
		return w.link(from, fromPath, ids, ref.Aliases, meta), nil
	}

	// (b)
	if refPath != "" && w.languageFor(refPath) == "" {
		out, err := client.ProjectOutputPath(rpcCtx, refPath)
		if err == nil && out != "" && meta.contains(out) {
			meta.pin(out)
			return nil, nil
		}
		perr := &diagnostics.PathError{Path: refPath, Err: diagnostics.ErrUnsupportedDialect}
		if rerr := w.reporter.Report(w.opts.Discovered.OnLoaderFailure, perr, refPath, from); rerr != nil {
			return nil, rerr
		}
		return w.placeholder(from, refPath, ref.Aliases), nil
	}

	if w.opts.LoadMetadataForReferencedProjects && !w.isRequestedPath(refPath) {
		out, err := client.ProjectOutputPath(rpcCtx, refPath)
		if err == nil && out != "" && w.fileExists(out) {
			aliases := ref.Aliases
			if existing, ok := meta.remove(out); ok && len(aliases) == 0 {
				aliases = existing
			}
			meta.add(out, aliases)
			return nil, nil
		}
	}

	// (c)
	resolved, ok, err := w.paths.Resolve(refPath, "", w.opts.Discovered.OnPathFailure)
	if err != nil {
		return nil, err
	}
	if ok {
		nodes, err := w.loadPath(ctx, resolved, w.opts.Discovered)
		if err != nil {
			return nil, err
		}
		if len(nodes) > 0 {
			ids := make([]*project.ProjectID, len(nodes))
			for i, n := range nodes {
				ids[i] = n.ID
			}
			return w.link(from, fromPath, ids, ref.Aliases, meta), nil
		}
	}

	// (d)
	return w.placeholder(from, refPath, ref.Aliases), nil
}

// link adds an edge from one of the candidates, preferring a candidate
// whose output is already among the metadata references. The chosen
// target's output is removed from the metadata references. When every
// candidate would close a cycle, the first candidate's output is kept as
// metadata instead.
func (w *Worker) link(from *project.ProjectID, fromPath string, candidates []*project.ProjectID,
	aliases []string, meta *metadataSet) *project.ReferenceEdge {

	ordered := make([]*project.ProjectID, 0, len(candidates))
	var rest []*project.ProjectID
	for _, id := range candidates {
		out, outRef, _ := w.projectMap.OutputPaths(id)
		if meta.contains(out) || meta.contains(outRef) {
			ordered = append(ordered, id)
		} else {
			rest = append(rest, id)
		}
	}
	ordered = append(ordered, rest...)

	for _, to := range ordered {
		if !w.tryLink(from, to) {
			continue
		}
		out, outRef, _ := w.projectMap.OutputPaths(to)
		edgeAliases := aliases
		for _, p := range []string{out, outRef} {
			if existing, ok := meta.remove(p); ok && len(edgeAliases) == 0 {
				edgeAliases = existing
			}
		}
		return &project.ReferenceEdge{From: from, To: to, Aliases: edgeAliases}
	}

	target := ordered[0]
	out, outRef, _ := w.projectMap.OutputPaths(target)
	if out != "" && !meta.contains(out) && !meta.contains(outRef) {
		meta.add(out, aliases)
	}
	w.reporter.Warn(fmt.Sprintf("project reference to %s would create a cycle; kept as metadata reference", target.DebugName()), fromPath, from)
	return nil
}

// placeholder links to an identity for a project that produced no node.
func (w *Worker) placeholder(from *project.ProjectID, refPath string, aliases []string) *project.ReferenceEdge {
	if refPath == "" {
		return nil
	}
	to := w.projectMap.GetOrCreate(refPath)
	if !w.tryLink(from, to) {
		return nil
	}
	return &project.ReferenceEdge{From: from, To: to, Aliases: aliases}
}

// =============================================================================
// SESSION GRAPH
// =============================================================================

// tryLink inserts from→to unless to already reaches from. The check and
// the insert happen under one lock.
func (w *Worker) tryLink(from, to *project.ProjectID) bool {
	if from == to {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reachesLocked(to, from) {
		return false
	}
	for _, existing := range w.adj[from] {
		if existing == to {
			return true
		}
	}
	w.adj[from] = append(w.adj[from], to)
	clear(w.reach)
	return true
}

// reachesLocked reports whether target is reachable from start over the
// session edges and the edges of nodes seeded into the project map. The
// reachable set of each start node is memoized until the next insert.
func (w *Worker) reachesLocked(start, target *project.ProjectID) bool {
	set, ok := w.reach[start]
	if !ok {
		set = make(map[*project.ProjectID]bool)
		stack := []*project.ProjectID{start}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, next := range w.successorsLocked(cur) {
				if !set[next] {
					set[next] = true
					stack = append(stack, next)
				}
			}
		}
		w.reach[start] = set
	}
	return set[target]
}

func (w *Worker) successorsLocked(id *project.ProjectID) []*project.ProjectID {
	next := append([]*project.ProjectID(nil), w.adj[id]...)
	for _, e := range w.projectMap.Edges(id) {
		next = append(next, e.To)
	}
	return next
}

// noteReference records that from referenced to, for result ordering.
func (w *Worker) noteReference(from, to string) {
	if to == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, existing := range w.refs[from] {
		if existing == to {
			return
		}
	}
	w.refs[from] = append(w.refs[from], to)
}

// =============================================================================
// HELPERS
// =============================================================================

// outputPaths returns the descriptor's outputs, falling back to the
// compiler arguments.
func outputPaths(d *project.Descriptor, args *cmdline.Arguments) (string, string) {
	out, outRef := d.OutputFilePath, d.OutputRefFilePath
	if out == "" {
		out = args.OutputPath
	}
	if outRef == "" {
		outRef = args.RefOutputPath
	}
	return out, outRef
}

// displayName is the project name, suffixed with the target framework
// when a project file produced several nodes.
func displayName(path, targetFramework string, fanOut bool) string {
	name := project.ProjectName(path)
	if fanOut && targetFramework != "" {
		return fmt.Sprintf("%s(%s)", name, targetFramework)
	}
	return name
}

// withAttributes returns a copy of n with attrs.
func withAttributes(n *project.Node, attrs *project.Attributes) *project.Node {
	return project.NewNode(project.NodeParts{
		ID:                      n.ID,
		Attributes:              attrs,
		CompilationOptions:      n.CompilationOptions,
		ParseOptions:            n.ParseOptions,
		ProjectReferences:       n.ProjectReferences,
		MetadataReferences:      n.MetadataReferences,
		AnalyzerReferences:      n.AnalyzerReferences,
		Documents:               n.Documents,
		AdditionalDocuments:     n.AdditionalDocuments,
		AnalyzerConfigDocuments: n.AnalyzerConfigDocuments,
		Log:                     n.Log,
	})
}
