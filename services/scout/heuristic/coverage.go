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
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// scanCoverage pairs source files with their _test.go siblings.
//
// The approximation is structural, not behavioral: a file counts as
// tested only when 'name_test.go' exists next to it. Everything else is a
// gap, with the reason distinguishing "the package has tests, this file
// has none" from "nothing in the package is tested". The sums always
// balance: SourceFiles == TestedFiles + len(Gaps).
func (e *Engine) scanCoverage(ctx context.Context, query datatypes.Query) *datatypes.CoverageData {
	cov := &datatypes.CoverageData{}

	files := e.collectSourceFiles(ctx, query)

	// 1st pass: which directories carry tests, and which exact test
	// files exist.
	dirHasTests := make(map[string]bool)
	testFiles := make(map[string]bool)
	for _, f := range files {
		if f.isTest {
			dirHasTests[filepath.Dir(f.relPath)] = true
			testFiles[f.relPath] = true
		}
	}

	// 2nd pass: classify every non-test file.
	for _, f := range files {
		if f.isTest {
			continue
		}
		cov.SourceFiles++

		dir := filepath.Dir(f.relPath)
		pairedTest := strings.TrimSuffix(f.relPath, ".go") + "_test.go"

		switch {
		case testFiles[pairedTest]:
			cov.TestedFiles++
		case dirHasTests[dir]:
			cov.Gaps = append(cov.Gaps, datatypes.CoverageGap{
				Path:    f.relPath,
				Package: dir,
				Reason:  "no_test_file",
			})
		default:
			cov.Gaps = append(cov.Gaps, datatypes.CoverageGap{
				Path:    f.relPath,
				Package: dir,
				Reason:  "no_package_tests",
			})
		}
	}

	return cov
}
