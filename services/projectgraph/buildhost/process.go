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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// ENGINE STATE
// =============================================================================

// EngineState is the lifecycle state of an engine process.
type EngineState int

const (
	// StateNotStarted is the state before the process is launched.
	StateNotStarted EngineState = iota

	// StateRunning means the process is up and accepting calls.
	StateRunning

	// StateDisconnected means the process exited or is shutting down.
	StateDisconnected

	// StateDisposed means every resource of the process is released.
	StateDisposed
)

// String returns a human-readable state name.
func (s EngineState) String() string {
	names := []string{"not-started", "running", "disconnected", "disposed"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// ENGINE PROCESS
// =============================================================================

// engineProcess owns one OS process and its RPC channel.
type engineProcess struct {
	variant  EngineVariant
	proc     Process
	protocol *Protocol
	client   *Client
	logger   *slog.Logger

	// onDisconnect runs once when the process leaves StateRunning.
	onDisconnect func(*engineProcess)

	state   EngineState
	stateMu sync.Mutex

	disconnectOnce sync.Once
	shutdownOnce   sync.Once
	shutdownErr    error

	exited   chan struct{}
	readDone chan struct{}
	cancel   context.CancelFunc
}

func newEngineProcess(variant EngineVariant, logger *slog.Logger, onDisconnect func(*engineProcess)) *engineProcess {
	return &engineProcess{
		variant:      variant,
		logger:       logger,
		onDisconnect: onDisconnect,
		state:        StateNotStarted,
		exited:       make(chan struct{}),
		readDone:     make(chan struct{}),
	}
}

// start launches the process and begins reading its output.
//
// Description:
//
//	The process and its read loop run under a context detached from ctx,
//	so cancelling the caller never kills the engine.
func (e *engineProcess) start(ctx context.Context, launcher Launcher, spec LaunchSpec) error {
	proc, err := launcher.Launch(ctx, spec)
	if err != nil {
		e.setState(StateDisposed)
		return err
	}
	e.proc = proc
	e.protocol = NewProtocol(proc.Stdout(), proc.Stdin())
	e.client = newClient(e.variant, e.protocol)

	var loopCtx context.Context
	loopCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))

	e.setState(StateRunning)

	go func() {
		defer close(e.readDone)
		err := e.protocol.ReadLoop(loopCtx)
		e.disconnect(fmt.Sprintf("channel closed: %v", err))
	}()

	go func() {
		err := proc.Wait()
		close(e.exited)
		e.disconnect(fmt.Sprintf("process exited: %v", err))
	}()

	return nil
}

// disconnect moves the process to StateDisconnected and notifies the
// pool. Safe to call from any trigger; only the first call acts.
func (e *engineProcess) disconnect(reason string) {
	e.disconnectOnce.Do(func() {
		e.stateMu.Lock()
		if e.state == StateRunning {
			e.state = StateDisconnected
		}
		e.stateMu.Unlock()

		e.protocol.Close()
		e.logger.Info("Build engine disconnected",
			slog.String("variant", e.variant.String()),
			slog.String("reason", reason),
		)
		if e.onDisconnect != nil {
			e.onDisconnect(e)
		}
	})
}

// shutdown stops the process.
//
// Description:
//
//	Sends shutdown and exit, bounded by timeout. If the engine does not
//	answer or does not exit in time it is killed. Ignores cancellation of
//	ctx. Idempotent.
func (e *engineProcess) shutdown(ctx context.Context, timeout time.Duration) error {
	e.shutdownOnce.Do(func() {
		e.shutdownErr = e.doShutdown(ctx, timeout)
	})
	return e.shutdownErr
}

func (e *engineProcess) doShutdown(ctx context.Context, timeout time.Duration) error {
	if e.State() == StateNotStarted || e.proc == nil {
		e.setState(StateDisposed)
		return nil
	}

	e.logger.Debug("Shutting down build engine",
		slog.String("variant", e.variant.String()),
	)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var rpcErr error
	select {
	case <-e.exited:
		rpcErr = ErrChannelLost
	default:
		rpcErr = e.client.Shutdown(shutdownCtx)
	}
	e.disconnect("shutdown requested")
	_ = e.proc.Stdin().Close()

	var killErr error
	graceful := rpcErr == nil
	if graceful {
		select {
		case <-e.exited:
		case <-time.After(timeout):
			graceful = false
		}
	}
	if !graceful {
		select {
		case <-e.exited:
		default:
			e.logger.Warn("Force killing build engine",
				slog.String("variant", e.variant.String()),
				slog.Any("error", rpcErr),
			)
			killErr = e.proc.Kill()
			select {
			case <-e.exited:
				killErr = nil
			case <-time.After(timeout):
			}
		}
	}

	if e.cancel != nil {
		e.cancel()
	}
	_ = e.proc.Stdout().Close()
	select {
	case <-e.readDone:
	case <-time.After(time.Second):
	}

	e.setState(StateDisposed)
	if killErr != nil {
		return fmt.Errorf("kill %s engine: %w", e.variant, killErr)
	}
	return nil
}

// State returns the current state.
func (e *engineProcess) State() EngineState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *engineProcess) setState(s EngineState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}
