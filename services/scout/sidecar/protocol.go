// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sidecar

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// =============================================================================
// PROTOCOL HANDLER
// =============================================================================

// Protocol handles JSON-RPC communication over the sidecar's stdin/stdout.
//
// Description:
//
//	Implements request/response correlation over a duplex byte stream.
//	A single background read loop (ReadLoop) decodes incoming frames and
//	dispatches each response to the pending call with the matching id.
//	Responses with no matching id are logged and dropped.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple goroutines can send requests and
//	notifications simultaneously; each blocks independently on its own
//	pending call.
type Protocol struct {
	reader    *bufio.Reader
	writer    io.Writer
	writeMu   sync.Mutex
	nextID    int64
	pending   map[int64]chan Response
	pendingMu sync.Mutex
	closed    int32 // atomic: 1 if closed
	logger    *slog.Logger
}

// NewProtocol creates a new protocol handler.
//
// Description:
//
//	Creates a protocol handler that communicates over the provided reader
//	(sidecar stdout) and writer (sidecar stdin).
//
// Inputs:
//
//	r - Reader for sidecar responses (e.g., stdout pipe)
//	w - Writer for client requests (e.g., stdin pipe)
//	logger - Structured logger; nil falls back to slog.Default()
//
// Outputs:
//
//	*Protocol - The protocol handler
func NewProtocol(r io.Reader, w io.Writer, logger *slog.Logger) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan Response),
		logger:  logger,
	}
}

// SendRequest sends a request and waits for the matching response.
//
// Description:
//
//	Registers a pending call, writes the encoded request to the sidecar's
//	input stream, and blocks until the matching response arrives, the
//	context expires, or the connection closes underneath the call. On
//	timeout the pending call is removed; a late response is then dropped
//	as unmatched.
//
// Inputs:
//
//	ctx - Context carrying the per-call deadline
//	method - The method to invoke (e.g., "trace/inventory")
//	params - Method parameters (JSON-marshaled)
//
// Outputs:
//
//	*Response - The sidecar's response
//	error - ErrRequestTimeout, ErrConnClosed, *RemoteError, or a write error
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) SendRequest(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	id := atomic.AddInt64(&p.nextID, 1)

	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}

	// Register the pending call. The closed flag is re-checked under the
	// lock so a concurrent Close cannot strand the entry.
	respCh := make(chan Response, 1)
	p.pendingMu.Lock()
	if atomic.LoadInt32(&p.closed) == 1 {
		p.pendingMu.Unlock()
		return nil, ErrSidecarNotRunning
	}
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	if err := p.writeMessage(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestTimeout, method, ctx.Err())
	case resp := <-respCh:
		if resp.Error != nil {
			if resp.Error.Code == codeConnClosed {
				return nil, fmt.Errorf("%w: %s", ErrConnClosed, resp.Error.Message)
			}
			return nil, resp.Error
		}
		return &resp, nil
	}
}

// SendNotification sends a notification (no response expected).
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) SendNotification(method string, params interface{}) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrSidecarNotRunning
	}

	notif := Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	}
	return p.writeMessage(notif)
}

// writeMessage encodes and writes one frame under the write mutex.
func (p *Protocol) writeMessage(v interface{}) error {
	frame, err := encodeFrame(v)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadLoop reads frames from the sidecar and dispatches responses.
//
// Description:
//
//	Continuously reads frames until the stream ends or the context is
//	cancelled. A clean EOF or a mid-frame cut means the sidecar died and
//	is reported as ErrSidecarCrashed. Header corruption is reported as
//	ErrMalformedFrame; a body that fails to parse is logged and skipped
//	since framing is still intact. Call this in a goroutine after
//	starting the process.
//
// Inputs:
//
//	ctx - Context for cancellation
//
// Outputs:
//
//	error - Non-nil if reading fails or the context is cancelled
//
// Thread Safety:
//
//	Must run in a single goroutine. Safe to run while other goroutines
//	call SendRequest/SendNotification.
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return fmt.Errorf("no reader configured")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := readFrame(p.reader)
		if err != nil {
			if atomic.LoadInt32(&p.closed) == 1 {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrSidecarCrashed
			}
			return fmt.Errorf("read frame: %w", err)
		}

		p.handleMessage(msg)
	}
}

// handleMessage dispatches one received message body.
func (p *Protocol) handleMessage(msg json.RawMessage) {
	var resp Response
	if err := json.Unmarshal(msg, &resp); err != nil {
		// Framing is intact; the body is garbage. Drop it.
		p.logger.Warn("dropping unparseable sidecar message",
			slog.Int("bytes", len(msg)),
			slog.String("error", err.Error()),
		)
		return
	}

	if resp.ID == 0 {
		// Server-initiated notification; nothing awaits it.
		return
	}

	p.pendingMu.Lock()
	ch, ok := p.pending[resp.ID]
	p.pendingMu.Unlock()

	if !ok {
		p.logger.Warn("dropping response with no pending call",
			slog.Int64("id", resp.ID),
		)
		return
	}

	// Non-blocking send; the channel is buffered and drained exactly once.
	select {
	case ch <- resp:
	default:
	}
}

// Close marks the protocol as closed and fails all outstanding calls.
//
// Description:
//
//	Marks the protocol as closed to prevent further sends, then delivers
//	a connection-closed error to every pending call so no caller is left
//	waiting out its full timeout. Does not close the underlying streams;
//	the Server owns those. Idempotent.
//
// Inputs:
//
//	cause - Why the connection is closing; included in the error message
//	        delivered to outstanding calls. May be nil on clean shutdown.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) Close(cause error) {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}

	msg := "connection closed"
	if cause != nil {
		msg = cause.Error()
	}

	p.pendingMu.Lock()
	for id, ch := range p.pending {
		select {
		case ch <- Response{
			JSONRPC: JSONRPCVersion,
			ID:      id,
			Error: &RemoteError{
				Code:    codeConnClosed,
				Message: msg,
			},
		}:
		default:
		}
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
}

// Closed reports whether the protocol has been closed.
func (p *Protocol) Closed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}
