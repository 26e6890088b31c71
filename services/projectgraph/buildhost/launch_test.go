// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package buildhost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrubEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"MSBUILD_EXE_PATH=/host/MSBuild.dll",
		"msbuildextensionspath=/host/ext",
		"MSBuildSDKsPath=/host/sdks",
		"MSBuildLoadMicrosoftTargetsReadOnly=true",
		"MSBUILDNOINPROCNODE=1",
		"DOTNET_HOST_PATH=/usr/bin/dotnet",
		"DOTNET_ROOT=/usr/share/dotnet",
	}

	assert.Equal(t, []string{"PATH=/usr/bin", "DOTNET_ROOT=/usr/share/dotnet"}, ScrubEnv(environ))
}

func TestNewLaunchSpec(t *testing.T) {
	opts := LaunchOptions{
		EngineDir: "/opt/engine",
		MonoPath:  "/usr/local/bin/mono",
		Environ:   []string{"HOME=/root", "MSBUILD_EXE_PATH=/x"},
	}

	t.Run("modern runs through dotnet", func(t *testing.T) {
		spec, err := NewLaunchSpec(Modern, opts)
		require.NoError(t, err)
		assert.Equal(t, Modern, spec.Variant)
		assert.Equal(t, "dotnet", spec.Path)
		assert.Equal(t, []string{filepath.Join("/opt/engine", "BuildHost-netcore", "BuildHost.dll")}, spec.Args)
		assert.Equal(t, []string{"HOME=/root"}, spec.Env)
	})

	t.Run("legacy runs the executable", func(t *testing.T) {
		spec, err := NewLaunchSpec(LegacyFramework, opts)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/opt/engine", "BuildHost-net472", "BuildHost.exe"), spec.Path)
		assert.Empty(t, spec.Args)
	})

	t.Run("shim runs through mono with binlog", func(t *testing.T) {
		o := opts
		o.BinaryLogPath = "/tmp/build.binlog"
		spec, err := NewLaunchSpec(CompatibilityShim, o)
		require.NoError(t, err)
		assert.Equal(t, "/usr/local/bin/mono", spec.Path)
		assert.Equal(t, []string{
			filepath.Join("/opt/engine", "BuildHost-net472", "BuildHost.exe"),
			"--binlog", "/tmp/build.binlog",
		}, spec.Args)
	})

	t.Run("rejects unknown variant", func(t *testing.T) {
		_, err := NewLaunchSpec(VariantNone, opts)
		assert.ErrorIs(t, err, ErrUnknownVariant)
	})
}

func TestExecLauncher_MissingExecutable(t *testing.T) {
	_, err := ExecLauncher{}.Launch(t.Context(), LaunchSpec{
		Variant: Modern,
		Path:    filepath.Join(t.TempDir(), "no-such-engine"),
		Env:     os.Environ(),
	})
	assert.ErrorIs(t, err, ErrLaunchFailed)
}
