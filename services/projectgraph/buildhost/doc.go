// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package buildhost manages out-of-process build engines.
//
// A build engine is an external process that evaluates and builds project
// files on request. Engines come in three runtime variants (Modern,
// LegacyFramework and CompatibilityShim); which one a project needs is
// decided by SelectVariant from the project file's SDK markers and the
// host OS.
//
// # Architecture
//
// The Pool keeps at most one engine process per variant:
//
//	Pool
//	├── Modern            → engine process → Protocol → Client
//	├── LegacyFramework   → engine process → Protocol → Client
//	└── CompatibilityShim → engine process → Protocol → Client
//
// Each process talks Content-Length framed JSON-RPC over its stdio. A
// Client is the typed proxy over one process; many goroutines may issue
// calls on it at once, correlated by request id.
//
// # Lifecycle
//
//	NotStarted → Running → Disconnected → Disposed
//
// A process becomes Disconnected when it exits or is shut down, whichever
// happens first. The pool entry is removed exactly once. Calls pending on a
// disconnected Client fail with ErrChannelLost, and so does every later call
// on it; the next Acquire spawns a fresh process.
//
// # Cancellation
//
// Spawning and shutting down engines ignore cancellation: killing an engine
// in the middle of a build can leave its working directory corrupt. RPC
// calls observe the context passed to them.
//
// # Thread Safety
//
// Pool and Client are safe for concurrent use.
package buildhost
