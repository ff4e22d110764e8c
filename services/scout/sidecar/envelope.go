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
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// JSONRPCVersion is the protocol version tag carried by every envelope.
const JSONRPCVersion = "2.0"

// MaxFrameSize caps the body size of a single frame. Analysis payloads for
// large repositories run to megabytes; anything past this limit is treated
// as a malformed frame rather than an allocation request.
const MaxFrameSize = 64 << 20 // 64 MiB

// =============================================================================
// ENVELOPE TYPES
// =============================================================================

// Request represents a JSON-RPC request envelope.
//
// Immutable once constructed. The ID is chosen by the caller and echoed
// verbatim by the sidecar; Protocol assigns ids from a monotonically
// increasing counter so they are unique for the connection lifetime.
type Request struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID is the correlation id. Omit for notifications.
	ID int64 `json:"id,omitempty"`

	// Method is the method to invoke.
	Method string `json:"method"`

	// Params contains the method parameters.
	Params interface{} `json:"params,omitempty"`
}

// Response represents a JSON-RPC response envelope.
//
// Exactly one of Result and Error is set on a well-formed response. A
// Response is matched to at most one pending call by its ID.
type Response struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID is the correlation id this response answers.
	ID int64 `json:"id"`

	// Result contains the method result (mutually exclusive with Error).
	Result json.RawMessage `json:"result,omitempty"`

	// Error contains error information (mutually exclusive with Result).
	Error *RemoteError `json:"error,omitempty"`
}

// Notification represents a JSON-RPC notification (no ID, no response).
type Notification struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// Method is the method to invoke.
	Method string `json:"method"`

	// Params contains the method parameters.
	Params interface{} `json:"params,omitempty"`
}

// =============================================================================
// FRAMING CODEC
// =============================================================================

// encodeFrame marshals an envelope and prefixes the Content-Length header.
//
// Encoding is total for well-formed envelopes; it fails only when the
// params contain values the JSON encoder rejects (channels, cycles).
func encodeFrame(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	frame := make([]byte, 0, len(header)+len(data))
	frame = append(frame, header...)
	frame = append(frame, data...)
	return frame, nil
}

// readFrame reads one framed message body from the stream.
//
// Returns io.EOF (or io.ErrUnexpectedEOF for a mid-frame cut) untouched so
// the read loop can distinguish a dead peer from a corrupt one; all header
// corruption is reported as ErrMalformedFrame.
func readFrame(r *bufio.Reader) (json.RawMessage, error) {
	var contentLength int

	// Read headers until the blank separator line.
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)

		if line == "" {
			break
		}

		if strings.HasPrefix(line, "Content-Length:") {
			lenStr := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			contentLength, err = strconv.Atoi(lenStr)
			if err != nil {
				return nil, fmt.Errorf("%w: bad Content-Length %q: %v", ErrMalformedFrame, lenStr, err)
			}
			if contentLength < 0 {
				return nil, fmt.Errorf("%w: negative Content-Length %d", ErrMalformedFrame, contentLength)
			}
			if contentLength > MaxFrameSize {
				return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrMalformedFrame, contentLength)
			}
		}
		// Ignore other headers (Content-Type, etc.)
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("%w: missing or zero Content-Length header", ErrMalformedFrame)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return body, nil
}
