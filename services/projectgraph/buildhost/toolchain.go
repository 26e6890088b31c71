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
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
)

// Toolchain reports which engine variants this machine can host.
type Toolchain interface {
	// Available reports whether v can be launched here.
	Available(v EngineVariant) bool
}

// ToolchainFunc adapts a function to Toolchain.
type ToolchainFunc func(EngineVariant) bool

// Available calls f.
func (f ToolchainFunc) Available(v EngineVariant) bool {
	return f(v)
}

// HostToolchain discovers toolchains installed on the host.
//
// Description:
//
//	Modern needs the dotnet executable and, when MinimumSDKVersion is set,
//	an installed SDK at least that new. LegacyFramework needs a Windows
//	host and the framework engine executable. CompatibilityShim needs the
//	mono executable and the framework engine executable. Results are
//	computed once per variant.
//
// Thread Safety:
//
//	Safe for concurrent use.
type HostToolchain struct {
	// GOOS is the host OS. Empty means the running host.
	GOOS string

	// DotnetPath overrides the dotnet executable lookup.
	DotnetPath string

	// MonoPath overrides the mono executable lookup.
	MonoPath string

	// EngineDir is the directory holding the engine binaries.
	EngineDir string

	// MinimumSDKVersion is the lowest acceptable SDK version, e.g. "8.0.100".
	MinimumSDKVersion string

	// LookPath resolves executables. Nil uses exec.LookPath.
	LookPath func(file string) (string, error)

	mu     sync.Mutex
	cached map[EngineVariant]bool
}

// Available implements Toolchain.
func (h *HostToolchain) Available(v EngineVariant) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ok, done := h.cached[v]; done {
		return ok
	}
	if h.cached == nil {
		h.cached = make(map[EngineVariant]bool)
	}
	ok := h.discover(v)
	h.cached[v] = ok
	return ok
}

func (h *HostToolchain) discover(v EngineVariant) bool {
	switch v {
	case Modern:
		dotnet, ok := h.Dotnet()
		if !ok {
			return false
		}
		if h.MinimumSDKVersion == "" {
			return true
		}
		return SDKSatisfies(InstalledSDKs(dotnet), h.MinimumSDKVersion)
	case LegacyFramework:
		return h.goos() == "windows" && fileExists(EnginePath(h.EngineDir, LegacyFramework))
	case CompatibilityShim:
		if _, ok := h.Mono(); !ok {
			return false
		}
		return fileExists(EnginePath(h.EngineDir, CompatibilityShim))
	default:
		return false
	}
}

// Dotnet returns the dotnet executable.
func (h *HostToolchain) Dotnet() (string, bool) {
	return h.resolve(h.DotnetPath, "dotnet")
}

// Mono returns the mono executable.
func (h *HostToolchain) Mono() (string, bool) {
	return h.resolve(h.MonoPath, "mono")
}

func (h *HostToolchain) resolve(override, name string) (string, bool) {
	if override != "" {
		return override, fileExists(override)
	}
	lookPath := h.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(name)
	if err != nil {
		return "", false
	}
	return path, true
}

func (h *HostToolchain) goos() string {
	if h.GOOS == "" {
		return runtime.GOOS
	}
	return h.GOOS
}

// InstalledSDKs lists the SDK versions installed next to the dotnet
// executable, newest first. Symlinked executables are followed.
func InstalledSDKs(dotnet string) []string {
	if resolved, err := filepath.EvalSymlinks(dotnet); err == nil {
		dotnet = resolved
	}
	entries, err := os.ReadDir(filepath.Join(filepath.Dir(dotnet), "sdk"))
	if err != nil {
		return nil
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && semver.IsValid(canonical(e.Name())) {
			versions = append(versions, e.Name())
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return semver.Compare(canonical(versions[i]), canonical(versions[j])) > 0
	})
	return versions
}

// SDKSatisfies reports whether any installed version is >= minimum.
func SDKSatisfies(installed []string, minimum string) bool {
	want := canonical(minimum)
	if !semver.IsValid(want) {
		return false
	}
	for _, v := range installed {
		if semver.Compare(canonical(v), want) >= 0 {
			return true
		}
	}
	return false
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
