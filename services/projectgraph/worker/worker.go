// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worker turns project file paths into project graph nodes.
//
// A Worker is one load session. It evaluates and builds each project
// through a build engine, assigns identities through a projectmap.Map,
// resolves project references recursively and guarantees the resulting
// reference graph is acyclic. Each project path is loaded at most once
// per session, however many callers ask for it concurrently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/projectgraph/services/projectgraph/buildhost"
	"github.com/AleutianAI/projectgraph/services/projectgraph/diagnostics"
	"github.com/AleutianAI/projectgraph/services/projectgraph/progress"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
	"github.com/AleutianAI/projectgraph/services/projectgraph/projectmap"
)

var tracer = otel.Tracer("projectgraph.worker")

// EngineSource hands out build engine clients. *buildhost.Pool
// implements it.
type EngineSource interface {
	// AcquireForProject returns a client for the project at path, and the
	// variant the project would have preferred when a substitute was used.
	AcquireForProject(ctx context.Context, path string) (*buildhost.Client, buildhost.EngineVariant, error)
}

// loadResult is the memoized outcome of loading one project path.
//
// failure holds an evaluation or build failure, or an unsupported
// dialect, independent of any reporting mode. nodes then hold the empty
// placeholder, if any. Each caller applies its own mode to failure.
type loadResult struct {
	nodes   []*project.Node
	failure error
	err     error

	// logged is set once failure has been recorded in the session log.
	logged bool
}

// Worker is one project load session.
//
// Description:
//
//	Sessions memoize by project path: loading a path twice returns the
//	same nodes, and concurrent loads of one path share a single engine
//	round trip. Reference edges are inserted one at a time, each after a
//	reachability check, so the session graph stays acyclic no matter the
//	order in which loads finish.
//
// Thread Safety:
//
//	Safe for concurrent use. Load may be called from several goroutines.
type Worker struct {
	engines    EngineSource
	opts       Options
	projectMap *projectmap.Map
	diagLog    *project.DiagnosticLog
	reporter   *diagnostics.Reporter
	paths      *diagnostics.PathResolver
	progress   progress.Reporter
	logger     *slog.Logger
	fileExists diagnostics.FileExistsFunc

	group singleflight.Group

	memoMu sync.Mutex
	memo   map[string]*loadResult

	// mu guards the session graph below.
	mu    sync.Mutex
	adj   map[*project.ProjectID][]*project.ProjectID
	reach map[*project.ProjectID]map[*project.ProjectID]bool
	refs  map[string][]string

	requested map[string]bool
}

// New creates a load session.
//
// Inputs:
//
//	engines - Source of build engine clients. Must not be nil.
//	opts - Session options; zero fields fall back to DefaultOptions.
//	options - Optional collaborators.
//
// Outputs:
//
//	*Worker - The session.
func New(engines EngineSource, opts Options, options ...Option) *Worker {
	defaults := DefaultOptions()
	if opts.LanguageExtensions == nil {
		opts.LanguageExtensions = defaults.LanguageExtensions
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}

	w := &Worker{
		engines: engines,
		opts:    opts,
		memo:    make(map[string]*loadResult),
		adj:     make(map[*project.ProjectID][]*project.ProjectID),
		reach:   make(map[*project.ProjectID]map[*project.ProjectID]bool),
		refs:    make(map[string][]string),

		requested: make(map[string]bool),
	}
	for _, o := range options {
		o(w)
	}
	if w.projectMap == nil {
		w.projectMap = projectmap.New()
	}
	if w.diagLog == nil {
		w.diagLog = &project.DiagnosticLog{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.progress == nil {
		w.progress = progress.Discard
	}
	if w.fileExists == nil {
		w.fileExists = diagnostics.OSFileExists
	}
	w.reporter = diagnostics.NewReporter(w.diagLog, w.logger)
	w.paths = diagnostics.NewPathResolver(w.reporter, w.fileExists)
	return w
}

// Log returns the session's diagnostic log.
func (w *Worker) Log() *project.DiagnosticLog {
	return w.diagLog
}

// ProjectMap returns the session's identity index.
func (w *Worker) ProjectMap() *projectmap.Map {
	return w.projectMap
}

// Evaluate runs evaluate and build for path and returns its descriptors
// without linking them into the session. Engine diagnostics are appended
// to the session log. Incremental reload consumes the result.
func (w *Worker) Evaluate(ctx context.Context, path string) ([]*project.Descriptor, error) {
	client, _, err := w.engines.AcquireForProject(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("acquire build engine for %s: %w", path, err)
	}
	rpcCtx := context.WithoutCancel(ctx)

	timer := progress.Start(w.progress, path, progress.PhaseEvaluate)
	handle, evalLog, err := client.Evaluate(rpcCtx, path, w.opts.GlobalProperties)
	timer.Done("")
	w.reporter.Forward(evalLog, nil)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timer = progress.Start(w.progress, path, progress.PhaseBuild)
	descs, buildLog, err := client.Build(rpcCtx, handle)
	timer.Done("")
	w.reporter.Forward(buildLog, nil)
	if err != nil {
		return nil, err
	}
	return descs, nil
}

// Load loads the projects at paths and everything they reference.
//
// Description:
//
//	Relative paths are resolved against Options.BaseDir. Paths that fail
//	to resolve are reported through Options.Requested.OnPathFailure;
//	duplicates are skipped with a warning. The result lists the nodes of
//	the requested projects in request order, one per target framework,
//	followed by every project discovered through their references in
//	first-discovery order. Cancellation is observed between projects
//	and between engine phases; an in-flight engine call always finishes.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	paths - Project file paths.
//
// Outputs:
//
//	[]*project.Node - The loaded nodes.
//	error - A failure reported with Throw, a launch failure, or ctx.Err().
func (w *Worker) Load(ctx context.Context, paths []string) (nodes []*project.Node, err error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	ctx, span := tracer.Start(ctx, "Worker.Load",
		trace.WithAttributes(attribute.Int("projects.requested", len(paths))),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("projects.loaded", len(nodes)))
		span.End()
	}()

	requested := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, ok, rerr := w.paths.Resolve(p, w.opts.BaseDir, w.opts.Requested.OnPathFailure)
		if rerr != nil {
			return nil, rerr
		}
		if !ok {
			continue
		}
		if seen[abs] {
			w.reporter.Warn("duplicate project path skipped", abs, nil)
			continue
		}
		seen[abs] = true
		requested = append(requested, abs)
	}

	w.mu.Lock()
	for _, path := range requested {
		w.requested[path] = true
	}
	w.mu.Unlock()

	if err := w.loadRequested(ctx, requested); err != nil {
		return nil, err
	}
	return w.assemble(requested, seen), nil
}

func (w *Worker) loadRequested(ctx context.Context, requested []string) error {
	if w.opts.Parallelism == 1 {
		for _, path := range requested {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := w.loadPath(ctx, path, w.opts.Requested); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Parallelism)
	for _, path := range requested {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := w.loadPath(gctx, path, w.opts.Requested)
			return err
		})
	}
	return g.Wait()
}

// assemble orders the result: requested nodes, then discovered nodes in
// depth-first reference order. Output paths are made unique.
func (w *Worker) assemble(requested []string, isRequested map[string]bool) []*project.Node {
	var out []*project.Node
	for _, path := range requested {
		out = append(out, w.memoized(path)...)
	}

	w.mu.Lock()
	refs := make(map[string][]string, len(w.refs))
	for k, v := range w.refs {
		refs[k] = v
	}
	w.mu.Unlock()

	visited := make(map[string]bool)
	var visit func(path string)
	visit = func(path string) {
		if visited[path] {
			return
		}
		visited[path] = true
		if !isRequested[path] {
			out = append(out, w.memoized(path)...)
		}
		for _, ref := range refs[path] {
			visit(ref)
		}
	}
	for _, path := range requested {
		visit(path)
	}

	return w.uniqueOutputs(out)
}

// uniqueOutputs clears the output paths of any node whose output is
// already produced by an earlier node in nodes.
func (w *Worker) uniqueOutputs(nodes []*project.Node) []*project.Node {
	owner := make(map[string]*project.Node)
	for i, n := range nodes {
		out := n.OutputFilePath()
		if out == "" {
			continue
		}
		first, taken := owner[out]
		if !taken {
			owner[out] = n
			continue
		}
		w.reporter.Warn(fmt.Sprintf("output path %s is already produced by %s; cleared", out, first.Name()), n.FilePath(), n.ID)
		attrs := *n.Attributes
		attrs.OutputFilePath = ""
		attrs.OutputRefFilePath = ""
		nodes[i] = withAttributes(n, &attrs)
	}
	return nodes
}

func (w *Worker) memoized(path string) []*project.Node {
	w.memoMu.Lock()
	defer w.memoMu.Unlock()
	if r, ok := w.memo[path]; ok {
		return r.nodes
	}
	return nil
}

// loadPath loads path at most once per session and applies the
// caller's loader failure mode to the memoized outcome.
func (w *Worker) loadPath(ctx context.Context, path string, reporting diagnostics.ReportingOptions) ([]*project.Node, error) {
	r := w.cached(path)
	if r == nil {
		v, _, _ := w.group.Do(path, func() (interface{}, error) {
			if r := w.cached(path); r != nil {
				return r, nil
			}
			r := w.loadProjectsFromPath(ctx, path)
			if !isCancellation(r.err) {
				w.memoMu.Lock()
				w.memo[path] = r
				w.memoMu.Unlock()
			}
			return r, nil
		})
		r = v.(*loadResult)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.failure != nil {
		if err := w.reportFailure(r, path, reporting.OnLoaderFailure); err != nil {
			return nil, err
		}
	}
	return r.nodes, nil
}

func (w *Worker) cached(path string) *loadResult {
	w.memoMu.Lock()
	defer w.memoMu.Unlock()
	return w.memo[path]
}

// reportFailure applies mode to a memoized failure. Throw returns it on
// every call; Log records it in the session log once.
func (w *Worker) reportFailure(r *loadResult, path string, mode diagnostics.ReportingMode) error {
	switch mode {
	case diagnostics.Throw:
		return r.failure
	case diagnostics.Log:
		w.memoMu.Lock()
		first := !r.logged
		r.logged = true
		w.memoMu.Unlock()
		if first {
			var id *project.ProjectID
			if len(r.nodes) > 0 {
				id = r.nodes[0].ID
			}
			_ = w.reporter.Report(diagnostics.Log, r.failure, path, id)
		}
	}
	return nil
}

// loadProjectsFromPath runs evaluate and build for path and turns every
// descriptor into a node.
func (w *Worker) loadProjectsFromPath(ctx context.Context, path string) *loadResult {
	ctx, span := tracer.Start(ctx, "Worker.loadProject",
		trace.WithAttributes(attribute.String("project.path", path)),
	)
	defer span.End()

	lang := w.languageFor(path)
	if lang == "" {
		return &loadResult{failure: &diagnostics.PathError{Path: path, Err: diagnostics.ErrUnsupportedDialect}}
	}
	if err := ctx.Err(); err != nil {
		return &loadResult{err: err}
	}

	client, preferred, err := w.engines.AcquireForProject(ctx, path)
	if err != nil {
		span.RecordError(err)
		return &loadResult{err: fmt.Errorf("acquire build engine for %s: %w", path, err)}
	}
	if preferred != buildhost.VariantNone {
		w.reporter.Warn(fmt.Sprintf("project prefers the %s build engine, which is unavailable; loaded with %s",
			preferred, client.Variant()), path, nil)
	}

	// Engine calls are never abandoned halfway.
	rpcCtx := context.WithoutCancel(ctx)

	timer := progress.Start(w.progress, path, progress.PhaseEvaluate)
	handle, evalLog, err := client.Evaluate(rpcCtx, path, w.opts.GlobalProperties)
	timer.Done("")
	if err != nil {
		span.RecordError(err)
		return w.loadFailed(ctx, path, lang, err, client)
	}
	if err := ctx.Err(); err != nil {
		return &loadResult{err: err}
	}

	timer = progress.Start(w.progress, path, progress.PhaseBuild)
	descs, buildLog, err := client.Build(rpcCtx, handle)
	tfm := ""
	if len(descs) == 1 {
		tfm = descs[0].TargetFramework
	}
	timer.Done(tfm)
	if err != nil {
		span.RecordError(err)
		return w.loadFailed(ctx, path, lang, err, client)
	}
	if err := ctx.Err(); err != nil {
		return &loadResult{err: err}
	}

	engineLog := append(append([]project.DiagnosticLogEntry(nil), evalLog...), buildLog...)
	nodes, err := w.buildNodes(ctx, path, lang, descs, engineLog, client)
	return &loadResult{nodes: nodes, err: err}
}

// loadFailed turns an evaluation or build failure into a single empty
// placeholder node carrying the failure log. Whether the failure is
// thrown is decided per caller by loadPath.
func (w *Worker) loadFailed(ctx context.Context, path, lang string, failure error, client *buildhost.Client) *loadResult {
	var failureLog []project.DiagnosticLogEntry
	var loadErr *diagnostics.LoadError
	if errors.As(failure, &loadErr) {
		failureLog = loadErr.Log
	}
	if len(failureLog) == 0 {
		failureLog = []project.DiagnosticLogEntry{{
			Kind:        project.DiagnosticFailure,
			Message:     failure.Error(),
			ProjectFile: path,
		}}
	}
	desc := project.EmptyDescriptor(path, lang, failureLog)
	nodes, err := w.buildNodes(ctx, path, lang, []*project.Descriptor{desc}, nil, client)
	if err != nil {
		return &loadResult{err: err}
	}
	return &loadResult{nodes: nodes, failure: failure}
}

// languageFor returns the language associated with the extension of path.
func (w *Worker) languageFor(path string) string {
	return w.opts.LanguageExtensions[strings.ToLower(filepath.Ext(path))]
}

// isRequestedPath reports whether any Load of this session asked for path.
func (w *Worker) isRequestedPath(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requested[path]
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
