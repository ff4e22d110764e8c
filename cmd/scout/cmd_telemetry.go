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
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianScout/services/scout/telemetry"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	telemetryJSONOutput bool
	telemetryAddr       string
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// telemetryCmd shows tier usage for a running server.
var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Show which tiers answered recent queries",
	Long: `Fetch and display the tier usage counters of a running scout server.

The counters show how many resolves each tier (cache, live, fallback)
answered since the server started, with percentage shares. A growing
fallback share means the tracer sidecar is unhealthy.

Examples:
  scout telemetry
  scout telemetry --addr http://localhost:9090
  scout telemetry --json`,
	Args: cobra.NoArgs,
	Run:  runTelemetry,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	telemetryCmd.Flags().BoolVar(&telemetryJSONOutput, "json", false,
		"Output as JSON for scripting")
	telemetryCmd.Flags().StringVar(&telemetryAddr, "addr", "",
		"Server base URL (default http://HOST:PORT from config)")

	rootCmd.AddCommand(telemetryCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// runTelemetry executes the telemetry command.
func runTelemetry(cmd *cobra.Command, args []string) {
	addr := telemetryAddr
	if addr == "" {
		addr = fmt.Sprintf("http://%s:%d", cfg.Service.Host, cfg.Service.Port)
	}
	url := addr + "/v1/scout/telemetry"

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("Error reaching scout server at %s: %v (is 'scout serve' running?)", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Error: server returned %s for %s", resp.Status, url)
	}

	var summary telemetry.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		log.Fatalf("Error decoding telemetry response: %v", err)
	}

	// Output
	if telemetryJSONOutput || !stdoutIsTerminal() {
		outputTelemetryJSON(summary)
		return
	}
	outputTelemetryText(summary)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// outputTelemetryJSON outputs the summary as JSON.
func outputTelemetryJSON(summary telemetry.Summary) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}

// outputTelemetryText outputs the summary as human-readable text.
func outputTelemetryText(s telemetry.Summary) {
	fmt.Printf("Resolves: %d\n\n", s.TotalResolves)

	fmt.Println("By tier:")
	for _, tier := range []string{"cache", "live", "fallback"} {
		ts, ok := s.Tiers[tier]
		if !ok {
			continue
		}
		fmt.Printf("  %-9s %6d served (%5.1f%%), %d failed\n",
			tier, ts.Served, ts.SharePercent, ts.Failed)
	}

	if len(s.Kinds) > 0 {
		kinds := make([]string, 0, len(s.Kinds))
		for kind := range s.Kinds {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)

		fmt.Println("\nBy kind:")
		for _, kind := range kinds {
			ks := s.Kinds[kind]
			fmt.Printf("  %-14s %6d ok, %d failed (%.1f%% success)\n",
				kind, ks.Success, ks.Failure, ks.SuccessPercent)
		}
	}

	fmt.Printf("\nSnapshot at %s\n", s.GeneratedAt.Format(time.RFC3339))
}
