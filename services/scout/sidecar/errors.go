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
	"errors"
	"fmt"
)

// Sentinel errors for sidecar operations.
//
// The retry layer classifies these: spawn failures and remote rejections
// are terminal; timeouts, crashes, and malformed frames are transient.
var (
	// ErrSidecarNotRunning indicates the sidecar is not in a ready state.
	ErrSidecarNotRunning = errors.New("sidecar not running")

	// ErrSidecarNotInstalled indicates the sidecar binary was not found on PATH.
	ErrSidecarNotInstalled = errors.New("sidecar not installed")

	// ErrSpawnFailed indicates the sidecar process could not be started.
	ErrSpawnFailed = errors.New("sidecar spawn failed")

	// ErrSpawnThrottled indicates respawn attempts exceeded the rate budget.
	ErrSpawnThrottled = errors.New("sidecar respawn throttled")

	// ErrHandshakeFailed indicates the initialize handshake failed.
	ErrHandshakeFailed = errors.New("sidecar handshake failed")

	// ErrRequestTimeout indicates the request exceeded its deadline.
	ErrRequestTimeout = errors.New("sidecar request timeout")

	// ErrSidecarCrashed indicates the sidecar process terminated unexpectedly.
	ErrSidecarCrashed = errors.New("sidecar crashed")

	// ErrConnClosed indicates the connection closed while calls were outstanding.
	ErrConnClosed = errors.New("sidecar connection closed")

	// ErrMalformedFrame indicates an incoming frame could not be decoded.
	ErrMalformedFrame = errors.New("malformed sidecar frame")

	// ErrInvalidResponse indicates a result body that does not match the
	// expected shape for the method.
	ErrInvalidResponse = errors.New("invalid sidecar response")

	// ErrAlreadyStarted indicates Start was called on a non-fresh server.
	ErrAlreadyStarted = errors.New("sidecar already started")

	// ErrSupervisorClosed indicates EnsureConnected was called after Close.
	ErrSupervisorClosed = errors.New("supervisor closed")
)

// JSON-RPC error codes the sidecar is known to use.
const (
	// CodeParseError is the JSON-RPC parse error code.
	CodeParseError = -32700

	// CodeMethodNotFound indicates the sidecar does not implement the method.
	CodeMethodNotFound = -32601

	// CodeInvalidParams indicates the request parameters were rejected.
	CodeInvalidParams = -32602

	// CodeInternalError indicates an internal sidecar failure.
	CodeInternalError = -32603

	// CodeBusy indicates the sidecar is overloaded and the call may be retried.
	CodeBusy = -32000

	// codeConnClosed is delivered to pending calls when the connection
	// closes underneath them. Internal; surfaced as ErrConnClosed.
	codeConnClosed = -32098
)

// RemoteError represents a well-formed error response from the sidecar.
//
// Remote errors are application-level rejections: the sidecar received the
// request, understood it, and refused it. They are terminal and not
// retried, with the exception of CodeBusy which the retry layer treats as
// transient.
type RemoteError struct {
	// Code is the JSON-RPC error code.
	Code int `json:"code"`

	// Message is the error message from the sidecar.
	Message string `json:"message"`

	// Data contains optional additional data about the error.
	Data interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("sidecar error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("sidecar error %d: %s", e.Code, e.Message)
}

// IsParseError returns true if the sidecar could not parse our request.
func (e *RemoteError) IsParseError() bool {
	return e.Code == CodeParseError
}

// IsMethodNotFound returns true if the method is not supported by the sidecar.
func (e *RemoteError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// IsInvalidParams returns true if the sidecar rejected the parameters.
func (e *RemoteError) IsInvalidParams() bool {
	return e.Code == CodeInvalidParams
}

// IsBusy returns true if the sidecar reported overload.
func (e *RemoteError) IsBusy() bool {
	return e.Code == CodeBusy
}
