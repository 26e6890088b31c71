// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/projectgraph/services/projectgraph/buildhost"
	"github.com/AleutianAI/projectgraph/services/projectgraph/buildhost/buildhosttest"
	"github.com/AleutianAI/projectgraph/services/projectgraph/diagnostics"
	"github.com/AleutianAI/projectgraph/services/projectgraph/progress"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
	"github.com/AleutianAI/projectgraph/services/projectgraph/worker"
)

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	t      *testing.T
	dir    string
	engine *buildhosttest.Engine
	pool   *buildhost.Pool
}

func newFixture(t *testing.T, opts ...buildhost.Option) *fixture {
	t.Helper()
	engine := buildhosttest.NewEngine()
	cfg := buildhost.DefaultConfig()
	cfg.ShutdownTimeout = time.Second
	all := append([]buildhost.Option{
		buildhost.WithLauncher(engine),
		buildhost.WithToolchain(buildhost.ToolchainFunc(func(buildhost.EngineVariant) bool { return true })),
		buildhost.WithEnviron([]string{"PATH=/usr/bin"}),
	}, opts...)
	pool := buildhost.NewPool(cfg, all...)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })
	return &fixture{t: t, dir: t.TempDir(), engine: engine, pool: pool}
}

// path returns the project file path for name, e.g. "A" → <dir>/A/A.csproj.
func (f *fixture) path(name string) string {
	ext := ".csproj"
	if strings.Contains(name, ".") {
		ext = ""
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(f.dir, base, name+ext)
}

// output returns the output assembly path of name.
func (f *fixture) output(name string) string {
	return filepath.Join(f.dir, name, "bin", name+".dll")
}

// write creates the project file and scripts the engine answer.
func (f *fixture) write(name, content string, p buildhosttest.Project) string {
	f.t.Helper()
	path := f.path(name)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
	for _, d := range p.Descriptors {
		if d.FilePath == "" {
			d.FilePath = path
		}
	}
	f.engine.SetProject(path, p)
	return path
}

// project writes an SDK-style project with one descriptor producing
// name.dll and referencing refs both as projects and as metadata.
func (f *fixture) project(name string, refs ...string) string {
	f.t.Helper()
	return f.write(name, `<Project Sdk="Microsoft.NET.Sdk"/>`, buildhosttest.Project{
		Descriptors: []*project.Descriptor{f.descriptor(name, "", refs...)},
	})
}

func (f *fixture) descriptor(name, tfm string, refs ...string) *project.Descriptor {
	d := &project.Descriptor{
		Language:        project.LanguageCSharp,
		OutputFilePath:  f.output(name),
		TargetFramework: tfm,
		Documents: []project.DocumentFileInfo{
			{FilePath: filepath.Join(f.dir, name, "Class1.cs")},
		},
	}
	for _, ref := range refs {
		d.ProjectReferences = append(d.ProjectReferences, project.ProjectFileReference{Path: f.path(ref)})
		d.CommandLineArgs = append(d.CommandLineArgs, "/reference:"+f.output(ref))
	}
	return d
}

func (f *fixture) worker(opts worker.Options, options ...worker.Option) *worker.Worker {
	return worker.New(f.pool, opts, options...)
}

func byPath(nodes []*project.Node, path string) *project.Node {
	for _, n := range nodes {
		if n.FilePath() == path {
			return n
		}
	}
	return nil
}

func countEdges(nodes []*project.Node) int {
	total := 0
	for _, n := range nodes {
		total += len(n.ProjectReferences)
	}
	return total
}

func logContains(log *project.DiagnosticLog, substr string) bool {
	for _, e := range log.Entries() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// =============================================================================
// TESTS
// =============================================================================

func TestWorker_LoadWithReference(t *testing.T) {
	f := newFixture(t)
	a := f.project("A", "B")
	b := f.project("B")

	w := f.worker(worker.DefaultOptions())
	nodes, err := w.Load(context.Background(), []string{a})
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, a, nodes[0].FilePath(), "requested project comes first")
	assert.Equal(t, b, nodes[1].FilePath())

	nodeA, nodeB := nodes[0], nodes[1]
	require.Len(t, nodeA.ProjectReferences, 1)
	assert.Same(t, nodeA.ID, nodeA.ProjectReferences[0].From)
	assert.Same(t, nodeB.ID, nodeA.ProjectReferences[0].To)
	assert.False(t, nodeA.HasMetadataReference(f.output("B")), "linked output leaves the metadata references")
	assert.Equal(t, 1, nodeA.Documents.Len())
	assert.Equal(t, "A", nodeA.Name())
	assert.Equal(t, project.LanguageCSharp, nodeA.Attributes.Language)

	assert.NoError(t, project.NewGraph(nodes).Validate())
}

func TestWorker_SamePathReturnsSameIdentity(t *testing.T) {
	f := newFixture(t)
	a := f.project("A")
	w := f.worker(worker.DefaultOptions())

	first, err := w.Load(context.Background(), []string{a})
	require.NoError(t, err)
	second, err := w.Load(context.Background(), []string{a, a})
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Same(t, first[0].ID, second[0].ID)
	assert.Equal(t, 1, f.engine.Evaluations(a))
	assert.True(t, logContains(w.Log(), "duplicate project path"))
}

func TestWorker_ConcurrentLoadsShareOneRoundTrip(t *testing.T) {
	f := newFixture(t)
	a := f.project("A")

	release := make(chan struct{})
	f.engine.BuildHook = func(string) { <-release }
	w := f.worker(worker.DefaultOptions())

	const callers = 6
	results := make([][]*project.Node, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nodes, err := w.Load(context.Background(), []string{a})
			assert.NoError(t, err)
			results[i] = nodes
		}(i)
	}

	require.Eventually(t, func() bool { return f.engine.Evaluations(a) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, f.engine.Evaluations(a))
	assert.Equal(t, 1, f.engine.Builds(a))
	for _, nodes := range results {
		require.Len(t, nodes, 1)
		assert.Same(t, results[0][0].ID, nodes[0].ID)
	}
}

func TestWorker_MultiTargetFanOut(t *testing.T) {
	t.Run("distinct outputs", func(t *testing.T) {
		f := newFixture(t)
		net6 := f.descriptor("A", "net6.0")
		net6.OutputFilePath = filepath.Join(f.dir, "A", "bin", "net6.0", "A.dll")
		net8 := f.descriptor("A", "net8.0")
		net8.OutputFilePath = filepath.Join(f.dir, "A", "bin", "net8.0", "A.dll")
		a := f.write("A", `<Project Sdk="Microsoft.NET.Sdk"/>`, buildhosttest.Project{
			Descriptors: []*project.Descriptor{net6, net8},
		})

		nodes, err := f.worker(worker.DefaultOptions()).Load(context.Background(), []string{a})
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.NotSame(t, nodes[0].ID, nodes[1].ID)
		assert.Equal(t, "A(net6.0)", nodes[0].Name())
		assert.Equal(t, "A(net8.0)", nodes[1].Name())
		assert.Equal(t, "net8.0", nodes[1].Attributes.TargetFramework)
	})

	t.Run("no output path disambiguator", func(t *testing.T) {
		f := newFixture(t)
		net6 := f.descriptor("A", "net6.0")
		net6.OutputFilePath = ""
		net8 := f.descriptor("A", "net8.0")
		net8.OutputFilePath = ""
		a := f.write("A", `<Project Sdk="Microsoft.NET.Sdk"/>`, buildhosttest.Project{
			Descriptors: []*project.Descriptor{net6, net8},
		})

		w := f.worker(worker.DefaultOptions())
		nodes, err := w.Load(context.Background(), []string{a})
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.NotSame(t, nodes[0].ID, nodes[1].ID)
		assert.Len(t, w.ProjectMap().IDs(a), 2)
		assert.Equal(t, "A(net6.0)", nodes[0].ID.DebugName())
		assert.Equal(t, "A(net8.0)", nodes[1].ID.DebugName())
	})
}

func TestWorker_CycleYieldsOneEdge(t *testing.T) {
	f := newFixture(t)
	a := f.project("A", "B")
	b := f.project("B", "A")

	w := f.worker(worker.DefaultOptions())
	nodes, err := w.Load(context.Background(), []string{a})
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, 1, countEdges(nodes))
	assert.NoError(t, project.NewGraph(nodes).Validate())

	nodeA, nodeB := byPath(nodes, a), byPath(nodes, b)
	require.NotNil(t, nodeA)
	require.NotNil(t, nodeB)
	// B finished first and linked back to A; A keeps B's output as metadata.
	assert.True(t, nodeB.References(nodeA.ID))
	assert.False(t, nodeA.References(nodeB.ID))
	assert.True(t, nodeA.HasMetadataReference(f.output("B")))
	assert.True(t, logContains(w.Log(), "cycle"))
}

func TestWorker_ResultIsAcyclic(t *testing.T) {
	f := newFixture(t)
	a := f.project("A", "B", "C")
	f.project("B", "D")
	f.project("C", "D")
	f.project("D", "A")

	nodes, err := f.worker(worker.DefaultOptions()).Load(context.Background(), []string{a})
	require.NoError(t, err)
	require.Len(t, nodes, 4)
	assert.NoError(t, project.NewGraph(nodes).Validate())

	var names []string
	for _, n := range nodes {
		names = append(names, n.Name())
	}
	assert.Equal(t, []string{"A", "B", "D", "C"}, names, "discovered projects follow first-discovery order")
}

func TestWorker_UnsupportedDialectKeptAsMetadata(t *testing.T) {
	f := newFixture(t)
	c := f.write("C.fsproj", `<Project Sdk="Microsoft.NET.Sdk"/>`, buildhosttest.Project{
		OutputPath: f.output("C"),
	})
	desc := f.descriptor("A", "")
	desc.ProjectReferences = []project.ProjectFileReference{{Path: c}}
	desc.CommandLineArgs = []string{"/reference:" + f.output("C")}
	a := f.write("A", `<Project Sdk="Microsoft.NET.Sdk"/>`, buildhosttest.Project{
		Descriptors: []*project.Descriptor{desc},
	})

	nodes, err := f.worker(worker.DefaultOptions()).Load(context.Background(), []string{a})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Empty(t, nodes[0].ProjectReferences)
	assert.True(t, nodes[0].HasMetadataReference(f.output("C")))
	assert.Equal(t, 0, f.engine.Evaluations(c))
}

func TestWorker_EvaluationFailure(t *testing.T) {
	failing := buildhosttest.Project{
		EvaluateFails: true,
		Log:           []project.DiagnosticLogEntry{{Kind: project.DiagnosticFailure, Message: "invalid project xml"}},
	}

	t.Run("discovered project becomes an empty placeholder", func(t *testing.T) {
		f := newFixture(t)
		a := f.project("A", "Broken")
		broken := f.write("Broken", `<Project Sdk="Microsoft.NET.Sdk"/>`, failing)

		w := f.worker(worker.DefaultOptions())
		nodes, err := w.Load(context.Background(), []string{a})
		require.NoError(t, err)
		require.Len(t, nodes, 2)

		placeholder := byPath(nodes, broken)
		require.NotNil(t, placeholder)
		assert.True(t, placeholder.Attributes.IsEmpty)
		assert.Equal(t, 0, placeholder.Documents.Len())
		require.NotEmpty(t, placeholder.Log)
		assert.Equal(t, "invalid project xml", placeholder.Log[0].Message)
		assert.True(t, byPath(nodes, a).References(placeholder.ID))
		assert.True(t, w.Log().HasFailures())
	})

	t.Run("throw mode aborts", func(t *testing.T) {
		f := newFixture(t)
		broken := f.write("Broken", `<Project Sdk="Microsoft.NET.Sdk"/>`, failing)

		_, err := f.worker(worker.DefaultOptions()).Load(context.Background(), []string{broken})
		assert.ErrorIs(t, err, diagnostics.ErrEvaluationFailed)
	})

	t.Run("log mode on requested project", func(t *testing.T) {
		f := newFixture(t)
		broken := f.write("Broken", `<Project Sdk="Microsoft.NET.Sdk"/>`, failing)

		opts := worker.DefaultOptions()
		opts.Requested.OnLoaderFailure = diagnostics.Log
		nodes, err := f.worker(opts).Load(context.Background(), []string{broken})
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.True(t, nodes[0].Attributes.IsEmpty)
	})

	t.Run("requested throw applies after discovery", func(t *testing.T) {
		for _, order := range [][]string{{"A", "Broken"}, {"Broken", "A"}} {
			t.Run(strings.Join(order, ","), func(t *testing.T) {
				f := newFixture(t)
				paths := map[string]string{
					"A":      f.project("A", "Broken"),
					"Broken": f.write("Broken", `<Project Sdk="Microsoft.NET.Sdk"/>`, failing),
				}

				_, err := f.worker(worker.DefaultOptions()).Load(context.Background(),
					[]string{paths[order[0]], paths[order[1]]})
				assert.ErrorIs(t, err, diagnostics.ErrEvaluationFailed)
			})
		}
	})

	t.Run("memoized failure is thrown to a later request", func(t *testing.T) {
		f := newFixture(t)
		a := f.project("A", "Broken")
		broken := f.write("Broken", `<Project Sdk="Microsoft.NET.Sdk"/>`, failing)

		w := f.worker(worker.DefaultOptions())
		_, err := w.Load(context.Background(), []string{a})
		require.NoError(t, err)

		_, err = w.Load(context.Background(), []string{broken})
		assert.ErrorIs(t, err, diagnostics.ErrEvaluationFailed)
		assert.Equal(t, 1, f.engine.Evaluations(broken))
	})

	t.Run("log mode records the failure once", func(t *testing.T) {
		f := newFixture(t)
		a := f.project("A", "Broken")
		broken := f.write("Broken", `<Project Sdk="Microsoft.NET.Sdk"/>`, failing)

		opts := worker.DefaultOptions()
		opts.Requested.OnLoaderFailure = diagnostics.Log
		w := f.worker(opts)
		nodes, err := w.Load(context.Background(), []string{a, broken})
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.True(t, byPath(nodes, broken).Attributes.IsEmpty)

		failures := 0
		for _, e := range w.Log().Entries() {
			if e.Kind == project.DiagnosticFailure && e.ProjectFile == broken {
				failures++
			}
		}
		assert.Equal(t, 1, failures)
	})
}

func TestWorker_MissingProjectFile(t *testing.T) {
	f := newFixture(t)
	missing := filepath.Join(f.dir, "Missing", "Missing.csproj")

	_, err := f.worker(worker.DefaultOptions()).Load(context.Background(), []string{missing})
	assert.ErrorIs(t, err, diagnostics.ErrProjectFileNotFound)

	opts := worker.DefaultOptions()
	opts.Requested.OnPathFailure = diagnostics.Log
	w := f.worker(opts)
	nodes, err := w.Load(context.Background(), []string{missing})
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.True(t, w.Log().HasFailures())
}

func TestWorker_MissingReferenceGetsPlaceholderIdentity(t *testing.T) {
	f := newFixture(t)
	a := f.project("A", "Gone")

	w := f.worker(worker.DefaultOptions())
	nodes, err := w.Load(context.Background(), []string{a})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Len(t, nodes[0].ProjectReferences, 1)

	ids := w.ProjectMap().IDs(f.path("Gone"))
	require.Len(t, ids, 1)
	assert.Same(t, ids[0], nodes[0].ProjectReferences[0].To)
}

func TestWorker_DropsUnresolvedMetadata(t *testing.T) {
	f := newFixture(t)
	onDisk := filepath.Join(f.dir, "lib", "Real.dll")
	require.NoError(t, os.MkdirAll(filepath.Dir(onDisk), 0o755))
	require.NoError(t, os.WriteFile(onDisk, nil, 0o644))
	gone := filepath.Join(f.dir, "lib", "Gone.dll")

	desc := f.descriptor("A", "")
	desc.CommandLineArgs = []string{"/reference:" + onDisk, "/reference:" + gone}
	a := f.write("A", `<Project Sdk="Microsoft.NET.Sdk"/>`, buildhosttest.Project{
		Descriptors: []*project.Descriptor{desc},
	})

	w := f.worker(worker.DefaultOptions())
	nodes, err := w.Load(context.Background(), []string{a})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].HasMetadataReference(onDisk))
	assert.False(t, nodes[0].HasMetadataReference(gone))
	assert.True(t, logContains(w.Log(), "unresolved metadata reference"))
}

func TestWorker_SkipsBuildOrderOnlyReferences(t *testing.T) {
	f := newFixture(t)
	b := f.project("B")
	desc := f.descriptor("A", "")
	off := false
	desc.ProjectReferences = []project.ProjectFileReference{{Path: b, ReferenceOutputAssembly: &off}}
	a := f.write("A", `<Project Sdk="Microsoft.NET.Sdk"/>`, buildhosttest.Project{
		Descriptors: []*project.Descriptor{desc},
	})

	nodes, err := f.worker(worker.DefaultOptions()).Load(context.Background(), []string{a})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Empty(t, nodes[0].ProjectReferences)
	assert.Equal(t, 0, f.engine.Evaluations(b))
}

func TestWorker_LoadMetadataForReferencedProjects(t *testing.T) {
	f := newFixture(t)
	a := f.project("A", "B")
	b := f.project("B")
	require.NoError(t, os.MkdirAll(filepath.Dir(f.output("B")), 0o755))
	require.NoError(t, os.WriteFile(f.output("B"), nil, 0o644))

	opts := worker.DefaultOptions()
	opts.LoadMetadataForReferencedProjects = true
	nodes, err := f.worker(opts).Load(context.Background(), []string{a})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Empty(t, nodes[0].ProjectReferences)
	assert.True(t, nodes[0].HasMetadataReference(f.output("B")))
	assert.Equal(t, 0, f.engine.Evaluations(b))
	assert.Equal(t, 1, f.engine.OutputPathCalls(b))
}

func TestWorker_ReportsPhases(t *testing.T) {
	f := newFixture(t)
	a := f.project("A")
	rec := &progress.Recorder{}

	_, err := f.worker(worker.DefaultOptions(), worker.WithProgress(rec)).Load(context.Background(), []string{a})
	require.NoError(t, err)

	events := rec.ForPath(a)
	require.Len(t, events, 3)
	assert.Equal(t, progress.PhaseEvaluate, events[0].Phase)
	assert.Equal(t, progress.PhaseBuild, events[1].Phase)
	assert.Equal(t, progress.PhaseResolve, events[2].Phase)
}

func TestWorker_PreferredVariantWarning(t *testing.T) {
	f := newFixture(t,
		buildhost.WithToolchain(buildhost.ToolchainFunc(func(v buildhost.EngineVariant) bool { return v == buildhost.Modern })),
		buildhost.WithSelector(buildhost.NewVariantSelector("windows")),
	)
	legacy := f.write("Legacy", `<Project ToolsVersion="15.0"/>`, buildhosttest.Project{
		Descriptors: []*project.Descriptor{f.descriptor("Legacy", "")},
	})

	w := f.worker(worker.DefaultOptions())
	nodes, err := w.Load(context.Background(), []string{legacy})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, logContains(w.Log(), buildhost.LegacyFramework.String()))
	assert.Equal(t, 1, f.engine.Spawns(buildhost.Modern))
}

func TestWorker_Cancellation(t *testing.T) {
	f := newFixture(t)
	a := f.project("A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.worker(worker.DefaultOptions()).Load(ctx, []string{a})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.engine.Evaluations(a))
}

func TestWorker_Parallel(t *testing.T) {
	f := newFixture(t)
	a := f.project("A", "Shared")
	b := f.project("B", "Shared")
	shared := f.project("Shared")

	opts := worker.DefaultOptions()
	opts.Parallelism = 4
	nodes, err := f.worker(opts).Load(context.Background(), []string{a, b})
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, a, nodes[0].FilePath())
	assert.Equal(t, b, nodes[1].FilePath())
	assert.Equal(t, shared, nodes[2].FilePath())
	assert.Equal(t, 1, f.engine.Evaluations(shared))
	assert.NoError(t, project.NewGraph(nodes).Validate())
}

func TestWorker_Evaluate(t *testing.T) {
	f := newFixture(t)
	a := f.project("A", "B")
	f.project("B")
	w := f.worker(worker.DefaultOptions())

	descs, err := w.Evaluate(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, a, descs[0].FilePath)
	assert.Equal(t, 0, f.engine.Evaluations(f.path("B")), "references are not followed")
	assert.Zero(t, w.ProjectMap().Len(), "nothing is linked into the session")

	bad := f.write("Bad", `<Project Sdk="Microsoft.NET.Sdk"/>`, buildhosttest.Project{
		EvaluateFails: true,
		Log:           []project.DiagnosticLogEntry{{Kind: project.DiagnosticFailure, Message: "MSB4025"}},
	})
	_, err = w.Evaluate(context.Background(), bad)
	assert.ErrorIs(t, err, diagnostics.ErrEvaluationFailed)
	assert.True(t, w.Log().HasFailures())
}
