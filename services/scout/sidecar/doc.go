// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sidecar implements the JSON-RPC client for the aleutian-tracer
// analysis sidecar.
//
// The sidecar is a separately-installed binary that performs project
// analysis (element inventory, dependency graphs, pattern detection,
// coverage gaps). Scout spawns it as a child process and talks to it over
// stdin/stdout using JSON-RPC 2.0 with Content-Length framing, the same
// base protocol used by language servers.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────┐
//	│                        Supervisor                          │
//	│   EnsureConnected(): one live Server, respawn on death     │
//	│  ┌──────────────────────────────────────────────────────┐  │
//	│  │                       Server                         │  │
//	│  │   process lifecycle: spawn → handshake → shutdown    │  │
//	│  │  ┌────────────────────────────────────────────────┐  │  │
//	│  │  │                   Protocol                     │  │  │
//	│  │  │  pending map ← single read loop (correlation)  │  │  │
//	│  │  │  writeFrame / readFrame (Content-Length)       │  │  │
//	│  │  └────────────────────────────────────────────────┘  │  │
//	│  └──────────────────────────────────────────────────────┘  │
//	└────────────────────────────────────────────────────────────┘
//
// # Components
//
//   - envelope.go: JSON-RPC request/response envelopes and the framing
//     codec (encode/decode with Content-Length headers)
//   - protocol.go: request/response correlation over a duplex byte stream;
//     one background read loop demultiplexes responses to pending callers
//   - server.go: lifecycle of a single spawned sidecar process
//   - supervisor.go: lazily-initialized, mutex-guarded live connection;
//     respawns only after the previous process is confirmed dead
//   - operations.go: typed analysis calls (inventory, dependencies,
//     patterns, coverage gaps)
//   - errors.go: sentinel errors and the RemoteError type
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Callers may issue
// requests from many goroutines; each blocks on its own pending call while
// the single read loop resolves them by correlation id. Responses may
// arrive out of request order.
//
// # Example
//
//	sup := sidecar.NewSupervisor(sidecar.DefaultConfig(), logger)
//	defer sup.Close(context.Background())
//
//	client := sidecar.NewClient(sup)
//	inv, err := client.ScanInventory(ctx, projectRoot, nil)
//	if err != nil {
//	    // SpawnFailure: binary missing or spawn throttled
//	}
package sidecar
