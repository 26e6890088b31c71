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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/projectgraph/services/projectgraph/diagnostics"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

// Engine RPC methods.
const (
	MethodEvaluate          = "evaluate"
	MethodBuild             = "build"
	MethodProjectOutputPath = "projectOutputPath"
	MethodShutdown          = "shutdown"
	MethodExit              = "exit"
)

// =============================================================================
// RPC MESSAGES
// =============================================================================

// EvaluateParams are the parameters of MethodEvaluate.
type EvaluateParams struct {
	ProjectPath      string            `json:"projectPath"`
	GlobalProperties map[string]string `json:"globalProperties,omitempty"`
}

// EvaluateResult is the result of MethodEvaluate.
type EvaluateResult struct {
	// Handle names the evaluated project in later Build calls.
	Handle int64 `json:"handle"`

	// Failed is true when evaluation failed; Log then explains why.
	Failed bool `json:"failed,omitempty"`

	Log []project.DiagnosticLogEntry `json:"log,omitempty"`
}

// BuildParams are the parameters of MethodBuild.
type BuildParams struct {
	Handle int64 `json:"handle"`
}

// BuildResult is the result of MethodBuild.
type BuildResult struct {
	// Projects has one descriptor per target framework.
	Projects []*project.Descriptor `json:"projects"`

	Failed bool                         `json:"failed,omitempty"`
	Log    []project.DiagnosticLogEntry `json:"log,omitempty"`
}

// OutputPathParams are the parameters of MethodProjectOutputPath.
type OutputPathParams struct {
	ProjectPath string `json:"projectPath"`
}

// OutputPathResult is the result of MethodProjectOutputPath.
type OutputPathResult struct {
	OutputPath string `json:"outputPath"`
}

// =============================================================================
// CLIENT
// =============================================================================

// ProjectHandle is an evaluated project living inside one engine.
type ProjectHandle struct {
	id      int64
	path    string
	variant EngineVariant
}

// Path returns the evaluated project file.
func (h ProjectHandle) Path() string {
	return h.path
}

// Client is the typed RPC proxy for one engine process.
//
// Description:
//
//	Calls may run concurrently. Once the engine's channel is lost every
//	pending and later call returns an error wrapping ErrChannelLost; the
//	caller must acquire a new Client from the Pool.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Client struct {
	variant  EngineVariant
	protocol *Protocol
}

func newClient(variant EngineVariant, protocol *Protocol) *Client {
	return &Client{variant: variant, protocol: protocol}
}

// Variant returns the variant of the engine behind the client.
func (c *Client) Variant() EngineVariant {
	return c.variant
}

// Lost is closed once the client's channel is lost.
func (c *Client) Lost() <-chan struct{} {
	return c.protocol.Lost()
}

// Evaluate asks the engine to evaluate the project file at path.
//
// Inputs:
//
//	ctx - Context for the call.
//	path - Absolute project file path.
//	globalProperties - Build properties applied to the evaluation.
//
// Outputs:
//
//	ProjectHandle - The evaluated project, valid for this client only.
//	[]project.DiagnosticLogEntry - Non-fatal diagnostics.
//	error - *diagnostics.LoadError wrapping diagnostics.ErrEvaluationFailed
//	        when the engine reports failure; ErrChannelLost on channel loss.
func (c *Client) Evaluate(ctx context.Context, path string, globalProperties map[string]string) (ProjectHandle, []project.DiagnosticLogEntry, error) {
	var result EvaluateResult
	err := c.call(ctx, MethodEvaluate, path, EvaluateParams{
		ProjectPath:      path,
		GlobalProperties: globalProperties,
	}, &result)
	if err != nil {
		return ProjectHandle{}, nil, &diagnostics.LoadError{Path: path, Err: err}
	}
	if result.Failed {
		return ProjectHandle{}, result.Log, &diagnostics.LoadError{
			Path: path,
			Err:  diagnostics.ErrEvaluationFailed,
			Log:  result.Log,
		}
	}
	return ProjectHandle{id: result.Handle, path: path, variant: c.variant}, result.Log, nil
}

// Build runs the design-time build for an evaluated project.
//
// Outputs:
//
//	[]*project.Descriptor - One per target framework; at least one.
//	[]project.DiagnosticLogEntry - Non-fatal diagnostics.
//	error - *diagnostics.LoadError wrapping diagnostics.ErrBuildFailed
//	        when the engine reports failure; ErrChannelLost on channel loss.
func (c *Client) Build(ctx context.Context, h ProjectHandle) ([]*project.Descriptor, []project.DiagnosticLogEntry, error) {
	if h.variant != c.variant || h.id == 0 {
		return nil, nil, fmt.Errorf("build %s: handle belongs to a different engine", h.path)
	}
	var result BuildResult
	if err := c.call(ctx, MethodBuild, h.path, BuildParams{Handle: h.id}, &result); err != nil {
		return nil, nil, &diagnostics.LoadError{Path: h.path, Err: err}
	}
	if result.Failed || len(result.Projects) == 0 {
		return nil, result.Log, &diagnostics.LoadError{
			Path: h.path,
			Err:  diagnostics.ErrBuildFailed,
			Log:  result.Log,
		}
	}
	for _, d := range result.Projects {
		if d.FilePath == "" {
			d.FilePath = h.path
		}
	}
	return result.Projects, result.Log, nil
}

// ProjectOutputPath asks the engine for the output of a project file
// without building it.
func (c *Client) ProjectOutputPath(ctx context.Context, path string) (string, error) {
	var result OutputPathResult
	if err := c.call(ctx, MethodProjectOutputPath, path, OutputPathParams{ProjectPath: path}, &result); err != nil {
		return "", fmt.Errorf("project output path %s: %w", path, err)
	}
	return result.OutputPath, nil
}

// Shutdown asks the engine to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	if err := c.call(ctx, MethodShutdown, "", nil, nil); err != nil {
		return err
	}
	// The engine may close its pipes as soon as it sees exit.
	if err := c.protocol.Notify(MethodExit, nil); err != nil && !errors.Is(err, ErrChannelLost) {
		return err
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, params, out interface{}) error {
	ctx, span := startRPCSpan(ctx, method, c.variant, path)
	start := time.Now()
	err := c.protocol.Call(ctx, method, params, out)
	recordRPC(ctx, method, c.variant, time.Since(start), err == nil)
	endSpan(span, err)
	return err
}
