// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scout

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Scout routes with the router.
//
// Description:
//
//	Registers all /v1/scout/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/scout/resolve - Resolve a logical query
//	GET  /v1/scout/telemetry - Process-wide tier telemetry
//	GET  /v1/scout/health - Health check
//	GET  /v1/scout/ready - Readiness and tier availability
//
// Example:
//
//	svc, err := scout.NewService(cfg, logger)
//	if err != nil {
//		...
//	}
//	handlers := scout.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	scout.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	sc := rg.Group("/scout")
	{
		sc.POST("/resolve", handlers.HandleResolve)
		sc.GET("/telemetry", handlers.HandleTelemetry)
		sc.GET("/health", handlers.HandleHealth)
		sc.GET("/ready", handlers.HandleReady)
	}
}
