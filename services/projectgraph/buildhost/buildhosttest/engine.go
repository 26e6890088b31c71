// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package buildhosttest provides an in-process build engine for tests.
//
// Engine implements buildhost.Launcher. Every launch starts a goroutine
// that speaks the engine protocol over io.Pipe pairs and answers from a
// scripted project table.
package buildhosttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/projectgraph/services/projectgraph/buildhost"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

// Project is the scripted engine answer for one project file.
type Project struct {
	// Descriptors is the Build result, one per target framework. The
	// engine fills in FilePath when empty.
	Descriptors []*project.Descriptor

	// EvaluateFails makes Evaluate report failure with Log.
	EvaluateFails bool

	// BuildFails makes Build report failure with Log.
	BuildFails bool

	// Log is returned with the failing or succeeding call.
	Log []project.DiagnosticLogEntry

	// OutputPath answers ProjectOutputPath. Empty uses the first
	// descriptor's output.
	OutputPath string
}

// Engine is a scripted in-process build engine.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Engine struct {
	// LaunchDelay is slept before each launch completes.
	LaunchDelay time.Duration

	// LaunchErr, when set, fails every launch.
	LaunchErr error

	// BuildHook runs before each Build answer. It may block.
	BuildHook func(path string)

	mu          sync.Mutex
	projects    map[string]Project
	handles     map[int64]string
	nextHandle  int64
	spawns      map[buildhost.EngineVariant]int
	evaluations map[string]int
	builds      map[string]int
	outputCalls map[string]int
	specs       []buildhost.LaunchSpec
	processes   []*Process
	nextPid     atomic.Int64
}

// NewEngine creates an engine with no projects.
func NewEngine() *Engine {
	return &Engine{
		projects:    make(map[string]Project),
		handles:     make(map[int64]string),
		spawns:      make(map[buildhost.EngineVariant]int),
		evaluations: make(map[string]int),
		builds:      make(map[string]int),
		outputCalls: make(map[string]int),
	}
}

// SetProject scripts the answers for path.
func (e *Engine) SetProject(path string, p Project) {
	e.mu.Lock()
	e.projects[path] = p
	e.mu.Unlock()
}

// Launch implements buildhost.Launcher.
func (e *Engine) Launch(_ context.Context, spec buildhost.LaunchSpec) (buildhost.Process, error) {
	if e.LaunchDelay > 0 {
		time.Sleep(e.LaunchDelay)
	}
	if e.LaunchErr != nil {
		return nil, e.LaunchErr
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	p := &Process{
		variant: spec.Variant,
		pid:     int(e.nextPid.Add(1)),
		stdinR:  stdinR,
		stdinW:  stdinW,
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	e.spawns[spec.Variant]++
	e.specs = append(e.specs, spec)
	e.processes = append(e.processes, p)
	e.mu.Unlock()

	go e.serve(p)
	return p, nil
}

// Spawns returns how many processes of v were launched.
func (e *Engine) Spawns(v buildhost.EngineVariant) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spawns[v]
}

// Evaluations returns how many times path was evaluated.
func (e *Engine) Evaluations(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluations[path]
}

// Builds returns how many times path was built.
func (e *Engine) Builds(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.builds[path]
}

// OutputPathCalls returns how many times the output of path was queried.
func (e *Engine) OutputPathCalls(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outputCalls[path]
}

// Specs returns every launch specification received.
func (e *Engine) Specs() []buildhost.LaunchSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]buildhost.LaunchSpec(nil), e.specs...)
}

// Crash terminates the most recent process of v without a shutdown
// handshake. It reports whether such a process existed.
func (e *Engine) Crash(v buildhost.EngineVariant) bool {
	e.mu.Lock()
	var target *Process
	for i := len(e.processes) - 1; i >= 0; i-- {
		if e.processes[i].variant == v {
			target = e.processes[i]
			break
		}
	}
	e.mu.Unlock()
	if target == nil {
		return false
	}
	target.exit()
	return true
}

func (e *Engine) serve(p *Process) {
	defer p.exit()
	proto := buildhost.NewProtocol(p.stdinR, p.stdoutW)
	for {
		msg, err := proto.ReadMessage()
		if err != nil {
			return
		}
		var req buildhost.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		if req.ID == 0 {
			if req.Method == buildhost.MethodExit {
				return
			}
			continue
		}
		go func() {
			resp := buildhost.Response{JSONRPC: buildhost.JSONRPCVersion, ID: req.ID}
			result, rerr := e.handle(req)
			if rerr != nil {
				resp.Error = rerr
			} else if result != nil {
				data, err := json.Marshal(result)
				if err != nil {
					resp.Error = &buildhost.ResponseError{Code: -32603, Message: err.Error()}
				} else {
					resp.Result = data
				}
			}
			_ = proto.WriteMessage(resp)
		}()
	}
}

func (e *Engine) handle(req buildhost.Request) (interface{}, *buildhost.ResponseError) {
	switch req.Method {
	case buildhost.MethodEvaluate:
		var params buildhost.EvaluateParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, invalidParams(err)
		}
		return e.evaluate(params.ProjectPath), nil

	case buildhost.MethodBuild:
		var params buildhost.BuildParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, invalidParams(err)
		}
		return e.build(params.Handle), nil

	case buildhost.MethodProjectOutputPath:
		var params buildhost.OutputPathParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, invalidParams(err)
		}
		e.mu.Lock()
		e.outputCalls[params.ProjectPath]++
		p := e.projects[params.ProjectPath]
		e.mu.Unlock()
		out := p.OutputPath
		if out == "" && len(p.Descriptors) > 0 {
			out = p.Descriptors[0].OutputFilePath
		}
		return buildhost.OutputPathResult{OutputPath: out}, nil

	case buildhost.MethodShutdown:
		return nil, nil

	default:
		return nil, &buildhost.ResponseError{Code: -32601, Message: "method not found: " + req.Method}
	}
}

func (e *Engine) evaluate(path string) buildhost.EvaluateResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluations[path]++
	p, ok := e.projects[path]
	if !ok {
		return buildhost.EvaluateResult{Failed: true, Log: []project.DiagnosticLogEntry{{
			Kind:        project.DiagnosticFailure,
			Message:     "project file not found by engine",
			ProjectFile: path,
		}}}
	}
	if p.EvaluateFails {
		return buildhost.EvaluateResult{Failed: true, Log: p.Log}
	}
	e.nextHandle++
	e.handles[e.nextHandle] = path
	return buildhost.EvaluateResult{Handle: e.nextHandle}
}

func (e *Engine) build(handle int64) buildhost.BuildResult {
	e.mu.Lock()
	path, ok := e.handles[handle]
	hook := e.BuildHook
	e.mu.Unlock()
	if !ok {
		return buildhost.BuildResult{Failed: true, Log: []project.DiagnosticLogEntry{{
			Kind:    project.DiagnosticFailure,
			Message: fmt.Sprintf("unknown handle %d", handle),
		}}}
	}
	if hook != nil {
		hook(path)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.builds[path]++
	p := e.projects[path]
	if p.BuildFails {
		return buildhost.BuildResult{Failed: true, Log: p.Log}
	}
	return buildhost.BuildResult{Projects: p.Descriptors, Log: p.Log}
}

func invalidParams(err error) *buildhost.ResponseError {
	return &buildhost.ResponseError{Code: -32602, Message: err.Error()}
}

// =============================================================================
// PROCESS
// =============================================================================

// Process is one fake engine process.
type Process struct {
	variant buildhost.EngineVariant
	pid     int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	done   chan struct{}
	once   sync.Once
	killed atomic.Bool
}

// Stdin implements buildhost.Process.
func (p *Process) Stdin() io.WriteCloser { return p.stdinW }

// Stdout implements buildhost.Process.
func (p *Process) Stdout() io.ReadCloser { return p.stdoutR }

// Wait implements buildhost.Process.
func (p *Process) Wait() error {
	<-p.done
	if p.killed.Load() {
		return errors.New("signal: killed")
	}
	return nil
}

// Kill implements buildhost.Process.
func (p *Process) Kill() error {
	p.killed.Store(true)
	p.exit()
	return nil
}

// Pid implements buildhost.Process.
func (p *Process) Pid() int { return p.pid }

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) exit() {
	p.once.Do(func() {
		_ = p.stdoutW.Close()
		_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
		close(p.done)
	})
}
