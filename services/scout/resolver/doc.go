// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver answers logical analysis queries through a tiered
// chain of data sources.
//
// A Resolve consults the tiers in fixed order and returns the first
// answer. Degraded infrastructure lowers the quality of the answer, never
// the availability: Resolve does not return an error.
//
// # Architecture
//
//	Resolve(query)
//	    │
//	    ▼
//	┌─────────┐  fresh hit   ┌──────────────────────────────────────┐
//	│  cache  │─────────────▶│ artifact.Store (badger, staleness)   │
//	└─────────┘              └──────────────────────────────────────┘
//	    │ miss / stale
//	    ▼
//	┌─────────┐  success     ┌──────────────────────────────────────┐
//	│  live   │─────────────▶│ sidecar.Client behind retry.Policy   │
//	└─────────┘  (+ write    │ (spawned aleutian-tracer, JSON-RPC)  │
//	    │ exhausted/terminal │  back to cache)                      │
//	    ▼                    └──────────────────────────────────────┘
//	┌──────────┐  always     ┌──────────────────────────────────────┐
//	│ fallback │────────────▶│ heuristic.Engine (degraded, local)   │
//	└──────────┘             └──────────────────────────────────────┘
//
// Tier transitions are not errors internally either: the cache reports a
// typed miss reason, the live tier reports its last attempt error, and
// the fallback cannot decline. Every outcome is counted in the
// telemetry.Recorder before Resolve returns.
package resolver
