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
	"fmt"
)

// Sentinel errors for engine operations.
var (
	// ErrChannelLost indicates the RPC channel to an engine broke. The
	// Client that returned it must not be retried; acquire a new one.
	ErrChannelLost = errors.New("build engine channel lost")

	// ErrLaunchFailed indicates the engine process could not be started.
	ErrLaunchFailed = errors.New("build engine launch failed")

	// ErrToolchainUnavailable indicates no toolchain can host the variant.
	ErrToolchainUnavailable = errors.New("build engine toolchain unavailable")

	// ErrUnknownVariant indicates an engine variant value is not recognized.
	ErrUnknownVariant = errors.New("unknown engine variant")

	// ErrInvalidResponse indicates the engine's response could not be decoded.
	ErrInvalidResponse = errors.New("invalid build engine response")
)

// RPCError is an error returned by the engine in a JSON-RPC response.
//
// Error codes follow JSON-RPC:
//   - -32700: Parse error
//   - -32600: Invalid request
//   - -32601: Method not found
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32800: Request cancelled
type RPCError struct {
	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the engine.
	Message string

	// Data contains optional additional data about the error.
	Data interface{}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("engine error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound returns true if the engine does not support the method.
func (e *RPCError) IsMethodNotFound() bool {
	return e.Code == -32601
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *RPCError) IsRequestCancelled() bool {
	return e.Code == -32800
}
