// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/projectgraph/services/projectgraph/buildhost"
	"github.com/AleutianAI/projectgraph/services/projectgraph/buildhost/buildhosttest"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
	storage "github.com/AleutianAI/projectgraph/services/projectgraph/storage/badger"
	"github.com/AleutianAI/projectgraph/services/projectgraph/watch"
)

const sdkProject = `<Project Sdk="Microsoft.NET.Sdk"/>`

type cliFixture struct {
	t      *testing.T
	dir    string
	engine *buildhosttest.Engine
}

func newCLIFixture(t *testing.T) *cliFixture {
	return &cliFixture{t: t, dir: t.TempDir(), engine: buildhosttest.NewEngine()}
}

// project writes name/name.csproj and scripts a descriptor with the given
// documents and project references.
func (f *cliFixture) project(name string, docs []string, refs ...string) string {
	f.t.Helper()
	path := filepath.Join(f.dir, name, name+".csproj")
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(sdkProject), 0o644))

	d := &project.Descriptor{
		Language:       project.LanguageCSharp,
		FilePath:       path,
		OutputFilePath: filepath.Join(f.dir, name, "bin", name+".dll"),
	}
	for _, doc := range docs {
		d.Documents = append(d.Documents, project.DocumentFileInfo{FilePath: filepath.Join(f.dir, name, doc)})
	}
	for _, ref := range refs {
		d.ProjectReferences = append(d.ProjectReferences, project.ProjectFileReference{
			Path: filepath.Join(f.dir, ref, ref+".csproj"),
		})
	}
	f.engine.SetProject(path, buildhosttest.Project{Descriptors: []*project.Descriptor{d}})
	return path
}

// run executes the CLI with a fresh app and returns stdout.
func (f *cliFixture) run(args ...string) (string, error) {
	f.t.Helper()
	a := &app{
		launcher:  f.engine,
		toolchain: buildhost.ToolchainFunc(func(v buildhost.EngineVariant) bool { return v == buildhost.Modern }),
	}
	cmd := newRootCmd(a)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file", f.envFile()))
	err := cmd.ExecuteContext(context.Background())
	require.NoError(f.t, a.teardown(context.Background()))
	return out.String(), err
}

// envFile pins the configuration layers so the host environment cannot
// leak into the test.
func (f *cliFixture) envFile() string {
	path := filepath.Join(f.dir, "test.env")
	if _, err := os.Stat(path); err != nil {
		require.NoError(f.t, os.WriteFile(path, []byte("PROJECTGRAPH_TELEMETRY_EXPORTER=none\n"), 0o644))
	}
	return path
}

func TestLoadCommand(t *testing.T) {
	f := newCLIFixture(t)
	a := f.project("A", []string{"Program.cs"}, "B")
	f.project("B", []string{"Lib.cs"})

	out, err := f.run("load", a)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 2 projects")
	assert.Contains(t, out, "→ B")
	assert.Contains(t, out, filepath.Join(f.dir, "B", "B.csproj"))
	assert.NotContains(t, out, "cached load")
}

func TestLoadCommand_Cache(t *testing.T) {
	f := newCLIFixture(t)
	cacheDir := filepath.Join(t.TempDir(), "cache")
	a := f.project("A", []string{"Program.cs"})

	out, err := f.run("load", a, "--cache", "--cache-dir", cacheDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Snapshot cache initialized")

	out, err = f.run("load", a, "--cache", "--cache-dir", cacheDir)
	require.NoError(t, err)
	assert.Contains(t, out, "No changes since the last cached load")

	f.project("A", []string{"Program.cs", "Added.cs"})
	out, err = f.run("load", a, "--cache", "--cache-dir", cacheDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Changed since the last cached load (1)")
	assert.Contains(t, out, "+ "+filepath.Join(f.dir, "A", "Added.cs"))
	assert.Contains(t, out, "documents")
}

func TestLoadCommand_Solution(t *testing.T) {
	f := newCLIFixture(t)
	f.project("A", nil)
	f.project("B", nil)
	sln := filepath.Join(f.dir, "All.sln")
	require.NoError(t, os.WriteFile(sln, []byte("# projects\nA/A.csproj\nB/B.csproj\n"), 0o644))

	out, err := f.run("load", sln)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 2 projects")
}

func TestLoadCommand_MissingProjectFails(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.run("load", filepath.Join(f.dir, "Nope", "Nope.csproj"))
	assert.Error(t, err)
}

func TestLoadCommand_InvalidConfig(t *testing.T) {
	f := newCLIFixture(t)
	cfg := filepath.Join(f.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("load:\n  parallelism: 0\n"), 0o644))
	_, err := f.run("load", f.project("A", nil), "--config", cfg)
	assert.Error(t, err)
}

func TestVariantCommand(t *testing.T) {
	f := newCLIFixture(t)
	modern := f.project("A", nil)
	legacy := filepath.Join(f.dir, "Old", "Old.csproj")
	require.NoError(t, os.MkdirAll(filepath.Dir(legacy), 0o755))
	require.NoError(t, os.WriteFile(legacy, []byte(`<Project ToolsVersion="15.0" xmlns="http://schemas.microsoft.com/developer/msbuild/2003"/>`), 0o644))

	out, err := f.run("variant", "--toolchain", modern, legacy)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "available")
	assert.Contains(t, lines[3], modern+": modern")
	assert.Contains(t, lines[4], "(unavailable, loads with modern)")
}

func TestVersionCommand(t *testing.T) {
	f := newCLIFixture(t)
	out, err := f.run("version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "projectgraph dev"))
}

func TestWatchSession_Apply(t *testing.T) {
	f := newCLIFixture(t)
	a := f.project("A", []string{"Program.cs"})

	cli := &app{launcher: f.engine, toolchain: buildhost.ToolchainFunc(func(buildhost.EngineVariant) bool { return true })}
	root := newRootCmd(cli)
	require.NoError(t, cli.setup(root, nil))
	defer cli.teardown(context.Background())

	opts, err := cli.workerOptions()
	require.NoError(t, err)
	pool := cli.newPool()
	defer cli.shutdownPool(pool)

	nodes, err := cli.newWorker(pool, opts).Load(context.Background(), []string{a})
	require.NoError(t, err)

	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	var out bytes.Buffer
	s := &watchSession{app: cli, pool: pool, opts: opts, graph: project.NewGraph(nodes), out: &out, store: storage.NewSnapshotStore(db)}
	before := s.graph.NodesByPath(a)[0]

	f.project("A", []string{"Program.cs", "New.cs"})
	s.apply(context.Background(), []watch.Change{{Path: a, Op: watch.OpWrite}})

	after := s.graph.NodesByPath(a)[0]
	assert.Same(t, before.ID, after.ID)
	assert.Equal(t, 2, after.Documents.Len())
	assert.Contains(t, out.String(), "documents(+1 ~0 -0)")

	snap, ok, err := s.store.Get(a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, snap.Documents["documents"], 2)
}

func TestMatchDescriptor(t *testing.T) {
	net8 := &project.Descriptor{TargetFramework: "net8.0"}
	net48 := &project.Descriptor{TargetFramework: "net48"}
	single := &project.Descriptor{}

	assert.Same(t, net48, matchDescriptor([]*project.Descriptor{net8, net48}, "net48"))
	assert.Nil(t, matchDescriptor([]*project.Descriptor{net8, net48}, "net6.0"))
	assert.Same(t, single, matchDescriptor([]*project.Descriptor{single}, ""))
}
