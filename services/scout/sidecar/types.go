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

// Version is the client version reported to the sidecar during the
// warm-up handshake.
const Version = "0.4.0"

// Methods exposed by the aleutian-tracer sidecar.
//
// All analysis methods are read-only queries over a project snapshot;
// repeating one is always safe.
const (
	// MethodInitialize is the warm-up handshake sent after spawn.
	MethodInitialize = "initialize"

	// MethodShutdown asks the sidecar to exit after in-flight work drains.
	MethodShutdown = "shutdown"

	// MethodInventory returns the element inventory for a project root.
	MethodInventory = "trace/inventory"

	// MethodDependencies returns the dependency graph for a project root.
	MethodDependencies = "trace/dependencies"

	// MethodPatterns returns detected design patterns for a project root.
	MethodPatterns = "trace/patterns"

	// MethodCoverageGaps returns files and packages lacking test coverage.
	MethodCoverageGaps = "trace/coverageGaps"
)

// QueryParams are the parameters shared by all analysis methods.
type QueryParams struct {
	// Root is the absolute path of the project to analyze.
	Root string `json:"root"`

	// Filters narrows the query (e.g. "language": "go", "dir": "services").
	Filters map[string]string `json:"filters,omitempty"`
}

// InitializeParams is sent as the warm-up handshake after spawning.
type InitializeParams struct {
	// ProcessID is the client pid, so the sidecar can exit if we die.
	ProcessID int `json:"processId"`

	// Root is the project root the sidecar should prepare for.
	Root string `json:"root,omitempty"`

	// ClientInfo identifies the client.
	ClientInfo ClientInfo `json:"clientInfo"`
}

// ClientInfo identifies the connecting client to the sidecar.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeResult is the sidecar's handshake response.
//
// Older sidecars answer with an empty result; all fields are optional.
type InitializeResult struct {
	// ServerInfo identifies the sidecar build. The version participates
	// in cache-artifact staleness checks.
	ServerInfo ServerInfo `json:"serverInfo"`

	// Methods lists the analysis methods this sidecar build implements.
	Methods []string `json:"methods,omitempty"`
}

// ServerInfo identifies the sidecar build.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}
