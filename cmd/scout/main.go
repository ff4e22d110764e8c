// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command scout answers code-intelligence queries about Go projects.
//
// Scout resolves each query through three tiers: a local artifact cache,
// the aleutian-tracer sidecar, and a built-in heuristic fallback. Every
// query gets an answer; a missing tracer or cold cache only lowers the
// answer's fidelity.
//
// Usage:
//
//	scout resolve inventory /path/to/project
//	scout resolve patterns . --json
//	scout serve
//	scout serve --port 9090 --debug
//	scout telemetry
//	scout version
//
// Configuration is read from ~/.aleutian/scout.yaml when present, then
// overridden by environment variables:
//
//	ALEUTIAN_TRACER_BIN  path to the tracer executable (default "aleutian-tracer")
//	SCOUT_CACHE_DIR      artifact cache directory (default in-memory)
//	SCOUT_PORT           HTTP port for serve (default 8088)
//	SCOUT_LOG_LEVEL      debug, info, warn, or error
//
// Example requests against a running server:
//
//	# Health check
//	curl http://localhost:8088/v1/scout/health
//
//	# Resolve a query
//	curl -X POST http://localhost:8088/v1/scout/resolve \
//	  -H "Content-Type: application/json" \
//	  -d '{"kind": "inventory", "root": "/path/to/project"}'
//
//	# Tier telemetry
//	curl http://localhost:8088/v1/scout/telemetry | jq
package main

import (
	"fmt"
	"log"

	"github.com/AleutianAI/AleutianScout/services/scout"
	"github.com/AleutianAI/AleutianScout/services/scout/config"
	"github.com/AleutianAI/AleutianScout/services/scout/sidecar"
	"github.com/spf13/cobra"
)

var (
	cfg     config.Config
	cfgPath string
)

var rootCmd = &cobra.Command{
	Use:   "scout",
	Short: "Tiered code intelligence for Go projects",
	Long: `Scout answers inventory, dependency, pattern, and coverage-gap queries
about Go projects.

Answers come from the first tier able to serve them:
  cache     - previously computed artifacts, verified fresh
  live      - the aleutian-tracer sidecar process
  fallback  - a built-in heuristic scan, always available

Subcommands:
  resolve    - answer one query and print the result
  serve      - run the HTTP resolver service
  telemetry  - show tier usage for a running server
  version    - print version information`,
}

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"Path to a scout config file (default ~/.aleutian/scout.yaml when present)")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		var err error
		if cfgPath != "" {
			cfg, err = config.Load(cfgPath)
		} else {
			cfg, err = config.LoadDefault()
		}
		if err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}
	}

	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints the service and tracer protocol versions.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scout %s (tracer protocol %s)\n", scout.ServiceVersion, sidecar.Version)
	},
}
