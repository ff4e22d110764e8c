// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianScout/pkg/logging"
	"github.com/AleutianAI/AleutianScout/services/scout"
	"github.com/AleutianAI/AleutianScout/services/scout/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	servePort  int
	serveHost  string
	serveDebug bool
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// serveCmd runs the HTTP resolver service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scout HTTP resolver service",
	Long: `Run the scout resolver as an HTTP service.

The server warms the aleutian-tracer sidecar at startup and keeps it
alive across requests, so resolves amortize the spawn cost. A tracer
that fails to start is not fatal; queries degrade to the cache and
heuristic tiers until it recovers.

Endpoints (under /v1/scout):
  POST /resolve    - answer a query
  GET  /telemetry  - tier usage counters
  GET  /health     - liveness
  GET  /ready      - degradation details

Examples:
  scout serve
  scout serve --port 9090
  scout serve --debug`,
	Run: runServe,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"Port to listen on (0 = use config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"Host to bind (empty = use config)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false,
		"Enable debug mode (request logging, debug-level logs)")

	rootCmd.AddCommand(serveCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// runServe executes the serve command.
func runServe(cmd *cobra.Command, args []string) {
	if servePort > 0 {
		cfg.Service.Port = servePort
	}
	if serveHost != "" {
		cfg.Service.Host = serveHost
	}
	if serveDebug {
		cfg.Logging.Level = "debug"
	}

	logger := logging.New(cfg.LoggerConfig())
	defer logger.Close()

	// Telemetry is observability, not availability: a failed exporter
	// setup downgrades to local-only operation.
	shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Telemetry)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without exporters", "error", err)
		shutdownTelemetry = nil
	}

	svc, err := scout.NewService(cfg, logger.Slog())
	if err != nil {
		log.Fatalf("Error building service: %v", err)
	}

	// Warm the sidecar so the first resolve does not pay the spawn cost.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.Sidecar.StartupTimeout)
	if err := svc.Warm(warmCtx); err != nil {
		logger.Warn("sidecar warm-up failed, live tier unavailable until it recovers",
			"error", err, "command", cfg.Sidecar.Command)
	}
	warmCancel()

	// Set Gin mode
	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if serveDebug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))

	v1 := router.Group("/v1")
	scout.RegisterRoutes(v1, scout.NewHandlers(svc))

	// Prometheus scrape endpoint, present only when the prometheus
	// metric exporter is configured.
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	printBanner(cfg.Service.Port, svc.SidecarUp())

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Shutting down scout server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := svc.Close(shutdownCtx); err != nil {
			logger.Warn("service shutdown incomplete", "error", err)
		}
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown incomplete", "error", err)
			}
		}
		logger.Close()
		os.Exit(0)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port)
	logger.Info("Starting scout server", "address", addr)
	if err := router.Run(addr); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}

// printBanner prints the startup banner.
func printBanner(port int, sidecarUp bool) {
	tracerStatus := "DOWN (cache and heuristic tiers only)"
	if sidecarUp {
		tracerStatus = "UP"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                       ALEUTIAN SCOUT SERVER                        ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Tiered code intelligence: cache, live tracer, heuristic.         ║
║  Tracer: %-50s       ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/scout/health                  │  ║
║  │                                                             │  ║
║  │ # Resolve a query                                           │  ║
║  │ curl -X POST http://localhost:%d/v1/scout/resolve \       │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"kind": "inventory", "root": "/your/project"}'       │  ║
║  │                                                             │  ║
║  │ # Tier telemetry                                            │  ║
║  │ curl http://localhost:%d/v1/scout/telemetry | jq          │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, tracerStatus, port, port, port)
}
