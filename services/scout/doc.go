// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scout provides the Aleutian Scout HTTP service for resilient
// project analysis.
//
// The service answers logical queries (inventory, dependencies, patterns,
// coverage gaps) through a tiered resolver: the artifact store first, the
// spawned aleutian-tracer sidecar second, and a built-in heuristic engine
// last. A query is always answered; degraded infrastructure lowers the
// quality of the answer, never the availability.
//
// The service exposes endpoints for:
//   - Resolving logical queries against a project root
//   - Reading the process-wide tier telemetry summary
//   - Health and readiness checks
//
// Construct a Service from a config.Config, register the routes on a Gin
// router group, and serve:
//
//	cfg, _ := config.LoadDefault()
//	svc, err := scout.NewService(cfg, logger)
//	if err != nil {
//		...
//	}
//	defer svc.Close(context.Background())
//
//	router := gin.New()
//	router.Use(gin.Recovery())
//	scout.RegisterRoutes(router.Group("/v1"), scout.NewHandlers(svc))
package scout
