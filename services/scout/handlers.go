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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianScout/pkg/validation"
	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// ServiceVersion is the Aleutian Scout service version.
const ServiceVersion = "0.4.0"

// Handlers contains the HTTP handlers for Scout.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleResolve handles POST /v1/scout/resolve.
//
// Description:
//
//	Resolves a logical query through the cache, live, and fallback
//	tiers. A well-formed request always gets a bundle; the response
//	reports which tier answered and how degraded the answer is.
//
// Request Body:
//
//	ResolveRequest
//
// Response:
//
//	200 OK: ResolveResponse
//	400 Bad Request: Malformed body, unknown query kind, or unsafe root path
func (h *Handlers) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolve")

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body: kind and root are required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	kind, err := datatypes.ParseKind(req.Kind)
	if err != nil {
		logger.Warn("Unknown query kind", "kind", req.Kind)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "UNKNOWN_KIND",
		})
		return
	}

	// The root travels into tracer subprocess arguments and filesystem
	// walks, so it is validated at the boundary rather than downstream.
	root, err := validation.SanitizeRoot(req.Root)
	if err != nil {
		logger.Warn("Invalid project root", "root", req.Root, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid project root: " + err.Error(),
			Code:  "INVALID_ROOT",
		})
		return
	}

	query := datatypes.Query{
		RequestID: req.RequestID,
		Kind:      kind,
		Root:      root,
		Filters:   req.Filters,
	}
	if query.RequestID == "" {
		query.RequestID = requestID
	}

	logger.Info("Resolving query",
		"kind", string(kind),
		"root", root)

	result := h.svc.Resolve(c.Request.Context(), query)

	logger.Info("Query resolved",
		"tier", string(result.Tier()),
		"attempts", result.Attempts,
		"degraded", result.Bundle.Degraded,
		"duration_ms", result.Duration.Milliseconds())

	c.JSON(http.StatusOK, ResolveResponse{
		RequestID:  query.RequestID,
		Tier:       result.Tier(),
		Degraded:   result.Bundle.Degraded,
		Attempts:   result.Attempts,
		CacheMiss:  result.CacheMiss,
		LiveError:  result.LiveError,
		DurationMs: result.Duration.Milliseconds(),
		Bundle:     result.Bundle,
	})
}

// HandleTelemetry handles GET /v1/scout/telemetry.
//
// Description:
//
//	Returns the process-wide resolve accounting: per-tier served/failed
//	counts with share percentages and per-kind success rates.
//
// Response:
//
//	200 OK: telemetry.Summary
func (h *Handlers) HandleTelemetry(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Telemetry())
}

// HandleHealth handles GET /v1/scout/health.
//
// Description:
//
//	Returns the health status of the service. Always returns 200 if running.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/scout/ready.
//
// Description:
//
//	Returns readiness plus tier availability. The scout stays ready even
//	with the tracer down or the cache disabled, because the fallback
//	tier always answers; the fields tell operators what degraded.
//
// Response:
//
//	200 OK: ReadyResponse
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, ReadyResponse{
		Ready:          true,
		SidecarUp:      h.svc.SidecarUp(),
		SidecarVersion: h.svc.SidecarVersion(),
		CacheEnabled:   h.svc.CacheEnabled(),
		WatchedRoots:   h.svc.WatchedRoots(),
	})
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
