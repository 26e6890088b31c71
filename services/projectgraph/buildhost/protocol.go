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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// JSONRPCVersion is the JSON-RPC version spoken by build engines.
const JSONRPCVersion = "2.0"

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request represents a JSON-RPC request.
type Request struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID is the request identifier. Omit for notifications.
	ID int64 `json:"id,omitempty"`

	// Method is the method to invoke.
	Method string `json:"method"`

	// Params contains the method parameters.
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID is the request identifier this response corresponds to.
	ID int64 `json:"id"`

	// Result contains the method result (mutually exclusive with Error).
	Result json.RawMessage `json:"result,omitempty"`

	// Error contains error information (mutually exclusive with Result).
	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError represents a JSON-RPC error.
type ResponseError struct {
	// Code is the error code.
	Code int `json:"code"`

	// Message is a short description of the error.
	Message string `json:"message"`

	// Data contains additional error information.
	Data interface{} `json:"data,omitempty"`
}

// =============================================================================
// PROTOCOL HANDLER
// =============================================================================

// Protocol handles JSON-RPC communication with one engine process.
//
// Description:
//
//	Uses Content-Length framing over the engine's stdin and stdout.
//	Correlates responses to requests by id, so many requests may be
//	outstanding at once. Once the channel is lost every pending and later
//	request fails with ErrChannelLost.
//
// Thread Safety:
//
//	Safe for concurrent use. ReadLoop must run on a single goroutine.
type Protocol struct {
	reader    *bufio.Reader
	writer    io.Writer
	writeMu   sync.Mutex
	nextID    int64
	pending   map[int64]chan Response
	pendingMu sync.Mutex
	closed    int32 // atomic: 1 if closed
	lost      chan struct{}
	lostOnce  sync.Once
}

// NewProtocol creates a new protocol handler.
//
// Inputs:
//
//	r - Reader for engine responses (the engine's stdout).
//	w - Writer for requests (the engine's stdin).
//
// Outputs:
//
//	*Protocol - The protocol handler.
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Protocol{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan Response),
		lost:    make(chan struct{}),
	}
}

// Call sends a request and decodes the result into out.
//
// Description:
//
//	Sends a JSON-RPC request and blocks until its response arrives, the
//	channel is lost, or ctx is done. A nil out discards the result.
//
// Outputs:
//
//	error - ErrChannelLost if the channel broke, *RPCError if the engine
//	        answered with an error, ctx.Err() on cancellation.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) Call(ctx context.Context, method string, params, out interface{}) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrChannelLost
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}

	id := atomic.AddInt64(&p.nextID, 1)
	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  raw,
	}

	respCh := make(chan Response, 1)
	p.pendingMu.Lock()
	if atomic.LoadInt32(&p.closed) == 1 {
		p.pendingMu.Unlock()
		return ErrChannelLost
	}
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	if err := p.WriteMessage(req); err != nil {
		p.Close()
		return fmt.Errorf("%w: write request: %v", ErrChannelLost, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp, ok := <-respCh:
		if !ok {
			return ErrChannelLost
		}
		if resp.Error != nil {
			return &RPCError{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, method, err)
		}
		return nil
	}
}

// Notify sends a notification (no response expected).
func (p *Protocol) Notify(method string, params interface{}) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrChannelLost
	}
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}
	return p.WriteMessage(Request{JSONRPC: JSONRPCVersion, Method: method, Params: raw})
}

// WriteMessage marshals v and writes it with a Content-Length header.
func (p *Protocol) WriteMessage(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := p.writer.Write([]byte(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := p.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadLoop reads messages from the engine and dispatches responses.
//
// Description:
//
//	Runs until the stream ends, a framing error occurs or ctx is done.
//	On return the protocol is closed, so pending calls fail with
//	ErrChannelLost.
//
// Outputs:
//
//	error - ErrChannelLost on EOF, the framing error, or ctx.Err().
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return fmt.Errorf("no reader configured")
	}
	defer p.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := p.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return ErrChannelLost
			}
			if atomic.LoadInt32(&p.closed) == 1 {
				return nil
			}
			return fmt.Errorf("%w: read: %v", ErrChannelLost, err)
		}

		p.handleMessage(msg)
	}
}

// ReadMessage reads a single framed message.
func (p *Protocol) ReadMessage() (json.RawMessage, error) {
	var contentLength int

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)

		// Empty line marks end of headers
		if line == "" {
			break
		}

		if strings.HasPrefix(line, "Content-Length:") {
			lenStr := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			var err error
			contentLength, err = strconv.Atoi(lenStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length value %q: %w", lenStr, err)
			}
			if contentLength < 0 {
				return nil, fmt.Errorf("negative Content-Length: %d", contentLength)
			}
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing or zero Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(p.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// handleMessage dispatches a received message. Engine notifications are
// ignored.
func (p *Protocol) handleMessage(msg json.RawMessage) {
	var resp Response
	if err := json.Unmarshal(msg, &resp); err != nil || resp.ID == 0 {
		return
	}

	// Send under the lock so Close cannot close ch concurrently.
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if ch, ok := p.pending[resp.ID]; ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// Close marks the channel lost.
//
// Description:
//
//	Prevents further sends and fails every pending call with
//	ErrChannelLost. Does not close the underlying reader or writer.
//	Idempotent.
func (p *Protocol) Close() {
	p.pendingMu.Lock()
	atomic.StoreInt32(&p.closed, 1)
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
	p.lostOnce.Do(func() { close(p.lost) })
}

// Lost is closed once the channel is lost.
func (p *Protocol) Lost() <-chan struct{} {
	return p.lost
}

// IsClosed reports whether the channel is lost.
func (p *Protocol) IsClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}
