// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package heuristic

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"regexp"
	"sort"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// packageDecl pulls the package name out of a source file without parsing.
var packageDecl = regexp.MustCompile(`(?m)^package\s+(\w+)`)

// scanInventory walks the tree and records every Go file.
//
// Oversized files keep their path and size but report zero lines and no
// package name; reading them is not worth the fallback's latency budget.
func (e *Engine) scanInventory(ctx context.Context, query datatypes.Query) *datatypes.InventoryData {
	inv := &datatypes.InventoryData{Root: query.Root}

	extFilter := query.Filters["ext"]
	if extFilter != "" && extFilter != ".go" {
		// The fallback only understands Go sources. An inventory of
		// anything else is honestly empty.
		return inv
	}

	packages := make(map[string]bool)
	for _, f := range e.collectSourceFiles(ctx, query) {
		record := datatypes.FileRecord{
			Path:      f.relPath,
			SizeBytes: f.size,
			IsTest:    f.isTest,
		}

		if f.size <= e.maxFileSize {
			content, err := os.ReadFile(f.absPath)
			if err == nil {
				record.Lines = countLines(content)
				if m := packageDecl.FindSubmatch(content); m != nil {
					record.Package = string(m[1])
				}
			} else {
				e.logger.Debug("inventory skipping unreadable file",
					slog.String("path", f.relPath),
					slog.String("error", err.Error()),
				)
			}
		}

		if record.Package != "" {
			packages[record.Package] = true
		}
		inv.Files = append(inv.Files, record)
		inv.TotalLines += record.Lines
	}

	for pkg := range packages {
		inv.Packages = append(inv.Packages, pkg)
	}
	sort.Strings(inv.Packages)
	return inv
}

// countLines counts newline-terminated lines plus a trailing partial line.
func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	lines := bytes.Count(content, []byte("\n"))
	if content[len(content)-1] != '\n' {
		lines++
	}
	return lines
}
