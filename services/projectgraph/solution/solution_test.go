// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package solution_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/projectgraph/services/projectgraph/diagnostics"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
	"github.com/AleutianAI/projectgraph/services/projectgraph/solution"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"# projects",
		"src/A/A.csproj",
		"",
		`src\B\B.vbproj`,
		"  src/A/A.csproj  ",
		"/abs/C/C.csproj",
	}, "\n")

	got, err := solution.Parse(strings.NewReader(input), "/repo")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.FromSlash("/repo/src/A/A.csproj"),
		filepath.FromSlash("/repo/src/B/B.vbproj"),
		filepath.FromSlash("/abs/C/C.csproj"),
	}, got)
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	sln := writeFile(t, filepath.Join(dir, "All.sln"), "A/A.csproj\nB/B.csproj\nC/C.csproj\n")

	t.Run("solution", func(t *testing.T) {
		s, err := solution.NewLoader(nil, diagnostics.Throw).Load(sln)
		require.NoError(t, err)
		assert.Equal(t, sln, s.Path)
		assert.Equal(t, []string{
			filepath.Join(dir, "A", "A.csproj"),
			filepath.Join(dir, "B", "B.csproj"),
			filepath.Join(dir, "C", "C.csproj"),
		}, s.Projects)
	})

	t.Run("missing solution", func(t *testing.T) {
		_, err := solution.NewLoader(nil, diagnostics.Throw).Load(filepath.Join(dir, "Nope.sln"))
		assert.ErrorIs(t, err, solution.ErrSolutionNotFound)
	})

	t.Run("filter selects a subset", func(t *testing.T) {
		slnf := writeFile(t, filepath.Join(dir, "filters", "Sub.slnf"),
			`{"solution":{"path":"../All.sln","projects":["C\\C.csproj","A/A.csproj"]}}`)
		s, err := solution.NewLoader(nil, diagnostics.Throw).Load(slnf)
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(dir, "C", "C.csproj"),
			filepath.Join(dir, "A", "A.csproj"),
		}, s.Projects)
	})

	t.Run("filter entry outside the solution", func(t *testing.T) {
		slnf := writeFile(t, filepath.Join(dir, "Bad.slnf"),
			`{"solution":{"path":"All.sln","projects":["A/A.csproj","D/D.csproj"]}}`)

		_, err := solution.NewLoader(nil, diagnostics.Throw).Load(slnf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not part of solution")

		log := &project.DiagnosticLog{}
		s, err := solution.NewLoader(diagnostics.NewReporter(log, nil), diagnostics.Log).Load(slnf)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "A", "A.csproj")}, s.Projects)
		assert.True(t, log.HasFailures())
	})

	t.Run("malformed filter", func(t *testing.T) {
		slnf := writeFile(t, filepath.Join(dir, "Broken.slnf"), `{"solution":`)
		_, err := solution.NewLoader(nil, diagnostics.Throw).Load(slnf)
		assert.ErrorIs(t, err, solution.ErrInvalidFilter)

		empty := writeFile(t, filepath.Join(dir, "Empty.slnf"), `{"solution":{"projects":[]}}`)
		_, err = solution.NewLoader(nil, diagnostics.Throw).Load(empty)
		assert.ErrorIs(t, err, solution.ErrInvalidFilter)
	})
}
