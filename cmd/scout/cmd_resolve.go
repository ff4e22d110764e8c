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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianScout/pkg/logging"
	"github.com/AleutianAI/AleutianScout/pkg/ux"
	"github.com/AleutianAI/AleutianScout/services/scout"
	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
	"github.com/AleutianAI/AleutianScout/services/scout/resolver"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	resolveJSONOutput bool
	resolveFilters    []string
	resolveTimeout    time.Duration
	resolveVerbose    bool
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// resolveCmd answers a single query and prints the result.
var resolveCmd = &cobra.Command{
	Use:   "resolve KIND ROOT",
	Short: "Answer one code-intelligence query",
	Long: `Answer one query about a project and print the result.

The answer comes from the first tier able to serve it: the artifact
cache, the aleutian-tracer sidecar, or the built-in heuristic fallback.
The command always produces an answer; a missing tracer only degrades it.

Query kinds:
  inventory      - files, line counts, and packages under the root
  dependencies   - the module path and its require set
  patterns       - notable code patterns (ignored errors, panics, ...)
  coverage_gaps  - source files without test coverage pairing

Output is human-readable on a terminal and JSON when piped or when
--json is given.

Examples:
  scout resolve inventory .
  scout resolve dependencies /path/to/project --json
  scout resolve patterns . --filter severity=warning
  scout resolve coverage_gaps . --timeout 30s`,
	Args: cobra.ExactArgs(2),
	Run:  runResolve,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	resolveCmd.Flags().BoolVar(&resolveJSONOutput, "json", false,
		"Output as JSON for scripting")
	resolveCmd.Flags().StringArrayVar(&resolveFilters, "filter", nil,
		"Query filter as key=value (repeatable)")
	resolveCmd.Flags().DurationVar(&resolveTimeout, "timeout", 5*time.Minute,
		"Overall deadline for the resolve")
	resolveCmd.Flags().BoolVar(&resolveVerbose, "verbose", false,
		"Log tier transitions to stderr")

	rootCmd.AddCommand(resolveCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// runResolve executes the resolve command.
func runResolve(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	kind, err := datatypes.ParseKind(args[0])
	if err != nil {
		log.Fatalf("Error: %v (kinds: inventory, dependencies, patterns, coverage_gaps)", err)
	}

	root, err := filepath.Abs(args[1])
	if err != nil {
		log.Fatalf("Error resolving root path: %v", err)
	}

	filters, err := parseFilters(resolveFilters)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	// One-shot runs keep the service quiet unless asked; structured logs
	// on stderr would drown the answer.
	logCfg := cfg.LoggerConfig()
	if !resolveVerbose {
		logCfg.Quiet = true
	}
	logger := logging.New(logCfg)
	defer logger.Close()

	svc, err := scout.NewService(cfg, logger.Slog())
	if err != nil {
		log.Fatalf("Error building resolver: %v", err)
	}

	// The first resolve may spawn the tracer, which can take a while.
	// The spinner is a no-op when stderr is piped, and skipped in
	// verbose mode where log lines would fight the animation.
	spin := ux.NewSpinner(fmt.Sprintf("Resolving %s", kind)).WithType(ux.SpinnerCompass)
	if !resolveVerbose {
		spin.Start()
	}
	result := svc.Resolve(ctx, datatypes.Query{Kind: kind, Root: root, Filters: filters})
	spin.Stop()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := svc.Close(closeCtx); err != nil {
		ux.Warning(fmt.Sprintf("shutdown did not finish cleanly: %v", err))
	}

	// Output
	if resolveJSONOutput || !stdoutIsTerminal() {
		outputResolveJSON(result)
		return
	}
	outputResolveText(result)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// parseFilters converts key=value pairs into a filter map.
func parseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", pair)
		}
		filters[key] = value
	}
	return filters, nil
}

// stdoutIsTerminal reports whether stdout is an interactive terminal.
// Piped output (scripts, CI/CD) gets JSON so downstream tools can parse it.
func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// outputResolveJSON outputs the full result as JSON.
func outputResolveJSON(result *resolver.Result) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}

// outputResolveText outputs the result as human-readable text.
func outputResolveText(result *resolver.Result) {
	b := result.Bundle

	switch {
	case b.Inventory != nil:
		inv := b.Inventory
		fmt.Printf("Inventory of %s:\n\n", inv.Root)
		fmt.Printf("  %d files, %d lines\n", len(inv.Files), inv.TotalLines)
		if len(inv.Packages) > 0 {
			fmt.Printf("  Packages: %s\n", strings.Join(inv.Packages, ", "))
		}

	case b.Dependencies != nil:
		deps := b.Dependencies
		fmt.Printf("Module %s", deps.ModulePath)
		if deps.GoVersion != "" {
			fmt.Printf(" (go %s)", deps.GoVersion)
		}
		fmt.Printf("\n\n")
		for _, req := range deps.Requirements {
			if req.Indirect {
				fmt.Printf("  %s %s (indirect)\n", req.Path, req.Version)
			} else {
				fmt.Printf("  %s %s\n", req.Path, req.Version)
			}
		}
		fmt.Printf("\nFound %d requirements\n", len(deps.Requirements))

	case b.Patterns != nil:
		pat := b.Patterns
		fmt.Printf("Patterns in %s:\n\n", b.Root)
		if len(pat.Matches) == 0 {
			fmt.Println("  No matches found.")
		}
		for _, m := range pat.Matches {
			fmt.Printf("  %s:%d  %s  [%s]\n", m.Path, m.Line, m.Name, m.Severity)
		}
		fmt.Printf("\nFound %d matches in %d scanned files\n", len(pat.Matches), pat.ScannedFiles)

	case b.Coverage != nil:
		cov := b.Coverage
		fmt.Printf("Coverage gaps in %s:\n\n", b.Root)
		if len(cov.Gaps) == 0 {
			fmt.Println("  No gaps found.")
		}
		for _, gap := range cov.Gaps {
			fmt.Printf("  %s  (%s)\n", gap.Path, gap.Reason)
		}
		fmt.Printf("\n%d of %d source files lack test pairing (%d tested)\n",
			len(cov.Gaps), cov.SourceFiles, cov.TestedFiles)

	default:
		fmt.Printf("Empty answer for %s of %s\n", b.Kind, b.Root)
	}

	fmt.Printf("\nAnswered by %s tier in %s", result.Tier(), result.Duration.Round(time.Millisecond))
	if result.Attempts > 0 {
		fmt.Printf(" after %d live attempts", result.Attempts)
	}
	fmt.Println()
	if b.Degraded {
		fmt.Println("  (degraded: heuristic approximation, tracer unavailable)")
	}
}
