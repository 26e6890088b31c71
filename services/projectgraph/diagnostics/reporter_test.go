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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

func TestReporter_Modes(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		mode    ReportingMode
		wantErr bool
		wantLog int
	}{
		{"throw returns the error", Throw, true, 0},
		{"log records the error", Log, false, 1},
		{"ignore drops the error", Ignore, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReporter(nil, nil)
			err := r.Report(tt.mode, boom, "/src/A.csproj", nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, boom)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantLog, r.Log().Len())
		})
	}
}

func TestReporter_WarnIsNeverThrown(t *testing.T) {
	r := NewReporter(nil, nil)
	id := project.NewProjectID("A")
	r.Warn("dropped reference", "/src/A.csproj", id)

	entries := r.Log().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, project.DiagnosticWarning, entries[0].Kind)
	assert.Same(t, id, entries[0].Project)
	assert.False(t, r.Log().HasFailures())
}

func TestParseReportingMode(t *testing.T) {
	for in, want := range map[string]ReportingMode{"throw": Throw, "LOG": Log, " ignore ": Ignore, "": Log} {
		got, err := ParseReportingMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseReportingMode("explode")
	assert.Error(t, err)
}

func TestPathResolver_Resolve(t *testing.T) {
	files := map[string]bool{"/repo/src/A.csproj": true}
	exists := func(p string) bool { return files[p] }

	t.Run("joins relative paths to the base directory", func(t *testing.T) {
		r := NewPathResolver(NewReporter(nil, nil), exists)
		abs, ok, err := r.Resolve("src/../src/A.csproj", "/repo", Throw)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "/repo/src/A.csproj", abs)
	})

	t.Run("missing file throws", func(t *testing.T) {
		r := NewPathResolver(NewReporter(nil, nil), exists)
		_, ok, err := r.Resolve("/repo/src/B.csproj", "", Throw)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrProjectFileNotFound)
		var pathErr *PathError
		require.ErrorAs(t, err, &pathErr)
		assert.Equal(t, "/repo/src/B.csproj", pathErr.Path)
	})

	t.Run("missing file logs", func(t *testing.T) {
		reporter := NewReporter(nil, nil)
		r := NewPathResolver(reporter, exists)
		_, ok, err := r.Resolve("/repo/src/B.csproj", "", Log)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, reporter.Log().HasFailures())
	})

	t.Run("empty path is invalid", func(t *testing.T) {
		r := NewPathResolver(NewReporter(nil, nil), exists)
		_, _, err := r.Resolve("  ", "/repo", Throw)
		assert.ErrorIs(t, err, ErrInvalidProjectPath)
	})
}
