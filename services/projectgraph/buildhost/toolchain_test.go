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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o755))
}

func TestSDKSatisfies(t *testing.T) {
	installed := []string{"8.0.204", "6.0.428"}

	assert.True(t, SDKSatisfies(installed, "8.0.100"))
	assert.True(t, SDKSatisfies(installed, "6.0.428"))
	assert.False(t, SDKSatisfies(installed, "9.0.100"))
	assert.False(t, SDKSatisfies(installed, "not-a-version"))
	assert.False(t, SDKSatisfies(nil, "6.0.100"))
}

func TestInstalledSDKs(t *testing.T) {
	root := t.TempDir()
	dotnet := filepath.Join(root, "dotnet")
	writeFile(t, dotnet)
	for _, v := range []string{"6.0.428", "8.0.204", "8.0.100-preview.1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "sdk", v), 0o755))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sdk", "NuGetFallbackFolder"), 0o755))

	assert.Equal(t, []string{"8.0.204", "8.0.100-preview.1", "6.0.428"}, InstalledSDKs(dotnet))
}

func TestHostToolchain_Available(t *testing.T) {
	engineDir := t.TempDir()
	writeFile(t, EnginePath(engineDir, LegacyFramework))

	noMono := func(file string) (string, error) {
		if file == "dotnet" {
			return "/usr/bin/dotnet", nil
		}
		return "", errors.New("not found")
	}

	t.Run("modern needs dotnet", func(t *testing.T) {
		h := &HostToolchain{GOOS: "linux", EngineDir: engineDir, LookPath: noMono}
		assert.True(t, h.Available(Modern))
	})

	t.Run("legacy needs windows", func(t *testing.T) {
		linux := &HostToolchain{GOOS: "linux", EngineDir: engineDir, LookPath: noMono}
		windows := &HostToolchain{GOOS: "windows", EngineDir: engineDir, LookPath: noMono}
		assert.False(t, linux.Available(LegacyFramework))
		assert.True(t, windows.Available(LegacyFramework))
	})

	t.Run("shim needs mono", func(t *testing.T) {
		h := &HostToolchain{GOOS: "linux", EngineDir: engineDir, LookPath: noMono}
		assert.False(t, h.Available(CompatibilityShim))

		mono := filepath.Join(t.TempDir(), "mono")
		writeFile(t, mono)
		h = &HostToolchain{GOOS: "linux", EngineDir: engineDir, MonoPath: mono}
		assert.True(t, h.Available(CompatibilityShim))
	})

	t.Run("minimum sdk version", func(t *testing.T) {
		root := t.TempDir()
		dotnet := filepath.Join(root, "dotnet")
		writeFile(t, dotnet)
		require.NoError(t, os.MkdirAll(filepath.Join(root, "sdk", "6.0.428"), 0o755))

		h := &HostToolchain{DotnetPath: dotnet, MinimumSDKVersion: "8.0.100"}
		assert.False(t, h.Available(Modern))

		h = &HostToolchain{DotnetPath: dotnet, MinimumSDKVersion: "6.0.100"}
		assert.True(t, h.Available(Modern))
	})
}
