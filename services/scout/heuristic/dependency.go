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
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// scanDependencies parses the root's go.mod with the official module
// parser. A missing or unparseable go.mod yields an empty dependency set,
// not an error.
func (e *Engine) scanDependencies(ctx context.Context, query datatypes.Query) *datatypes.DependencyData {
	deps := &datatypes.DependencyData{}

	if ctx.Err() != nil {
		return deps
	}

	goModPath := filepath.Join(query.Root, "go.mod")
	content, err := os.ReadFile(goModPath)
	if err != nil {
		e.logger.Debug("fallback found no readable go.mod",
			slog.String("root", query.Root),
			slog.String("error", err.Error()),
		)
		return deps
	}

	f, err := modfile.Parse("go.mod", content, nil)
	if err != nil {
		e.logger.Warn("go.mod did not parse, reporting empty dependencies",
			slog.String("root", query.Root),
			slog.String("error", err.Error()),
		)
		return deps
	}

	if f.Module != nil {
		deps.ModulePath = f.Module.Mod.Path
	}
	if f.Go != nil {
		deps.GoVersion = f.Go.Version
	}
	for _, req := range f.Require {
		deps.Requirements = append(deps.Requirements, datatypes.ModuleRequirement{
			Path:     req.Mod.Path,
			Version:  req.Mod.Version,
			Indirect: req.Indirect,
		})
	}

	return deps
}
