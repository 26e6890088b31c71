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
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// scrubbedEnv are build tool variables of the host process. Inherited by
// an engine they would point it at the host's own build configuration.
var scrubbedEnv = []string{
	"MSBUILD_EXE_PATH",
	"MSBuildExtensionsPath",
	"MSBuildSDKsPath",
	"MSBuildLoadMicrosoftTargetsReadOnly",
	"MSBUILDNOINPROCNODE",
	"DOTNET_HOST_PATH",
}

// =============================================================================
// LAUNCH SPECIFICATION
// =============================================================================

// LaunchSpec describes how to start one engine process.
type LaunchSpec struct {
	Variant EngineVariant

	// Path is the executable. A bare name is looked up on PATH.
	Path string

	Args []string

	// Env is the complete child environment.
	Env []string

	// Dir is the working directory. Empty inherits the parent's.
	Dir string
}

// LaunchOptions are the host settings that shape a LaunchSpec.
type LaunchOptions struct {
	// EngineDir holds the engine binaries.
	EngineDir string

	// DotnetPath is the dotnet executable. Empty means "dotnet".
	DotnetPath string

	// MonoPath is the mono executable. Empty means "mono".
	MonoPath string

	// BinaryLogPath, when set, asks every engine to write a binary log.
	BinaryLogPath string

	// Environ is the parent environment. Nil means os.Environ().
	Environ []string
}

// EnginePath returns the engine binary for v under dir.
func EnginePath(dir string, v EngineVariant) string {
	switch v {
	case Modern:
		return filepath.Join(dir, "BuildHost-netcore", "BuildHost.dll")
	case LegacyFramework, CompatibilityShim:
		return filepath.Join(dir, "BuildHost-net472", "BuildHost.exe")
	default:
		return ""
	}
}

// NewLaunchSpec builds the launch specification for v.
//
// Description:
//
//	Modern runs the engine assembly through dotnet, LegacyFramework runs
//	the engine executable directly and CompatibilityShim runs it through
//	mono. The parent environment is copied without the host's build tool
//	variables.
//
// Outputs:
//
//	LaunchSpec - The specification.
//	error - ErrUnknownVariant for VariantNone or an unknown value.
func NewLaunchSpec(v EngineVariant, opts LaunchOptions) (LaunchSpec, error) {
	engine := EnginePath(opts.EngineDir, v)
	if engine == "" {
		return LaunchSpec{}, fmt.Errorf("%w: %d", ErrUnknownVariant, int(v))
	}

	var spec LaunchSpec
	switch v {
	case Modern:
		spec = LaunchSpec{Path: orDefault(opts.DotnetPath, "dotnet"), Args: []string{engine}}
	case LegacyFramework:
		spec = LaunchSpec{Path: engine}
	case CompatibilityShim:
		spec = LaunchSpec{Path: orDefault(opts.MonoPath, "mono"), Args: []string{engine}}
	}
	spec.Variant = v

	if opts.BinaryLogPath != "" {
		spec.Args = append(spec.Args, "--binlog", opts.BinaryLogPath)
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	spec.Env = ScrubEnv(environ)
	return spec, nil
}

// ScrubEnv returns environ without the host's build tool variables.
// Names are matched case-insensitively.
func ScrubEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if isScrubbed(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func isScrubbed(name string) bool {
	for _, s := range scrubbedEnv {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// =============================================================================
// LAUNCHER
// =============================================================================

// Process is a started engine process.
type Process interface {
	// Stdin is the engine's input stream.
	Stdin() io.WriteCloser

	// Stdout is the engine's output stream.
	Stdout() io.ReadCloser

	// Wait blocks until the process exits. Called exactly once.
	Wait() error

	// Kill terminates the process and any children it started.
	Kill() error

	// Pid returns the OS process id, or 0 if there is none.
	Pid() int
}

// Launcher starts engine processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher starts engines as OS processes.
type ExecLauncher struct {
	// Logger receives the engines' stderr at debug level.
	Logger *slog.Logger
}

// Launch implements Launcher. ctx is used for logging only; the process
// outlives it.
func (l ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	path, err := exec.LookPath(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, spec.Path, err)
	}

	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stderr = &stderrLog{logger: logger, variant: spec.Variant}
	configureProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrLaunchFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrLaunchFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start process: %v", ErrLaunchFailed, err)
	}

	logger.InfoContext(ctx, "Started build engine",
		slog.String("variant", spec.Variant.String()),
		slog.String("command", path),
		slog.Int("pid", cmd.Process.Pid),
	)

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }
func (p *execProcess) Kill() error           { return killProcessTree(p.cmd) }

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// stderrLog forwards engine stderr lines to the logger.
type stderrLog struct {
	logger  *slog.Logger
	variant EngineVariant
}

func (w *stderrLog) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\r\n"), []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		w.logger.Debug("build engine stderr",
			slog.String("variant", w.variant.String()),
			slog.String("line", string(bytes.TrimRight(line, "\r"))),
		)
	}
	return len(p), nil
}
