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
	"strings"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// maxSnippetLen caps the reported source excerpt per match.
const maxSnippetLen = 160

// patternRule is one regex-detectable code pattern.
type patternRule struct {
	name     string
	severity string
	re       *regexp.Regexp
}

// patternRules are the textual approximations of the sidecar's pattern
// detectors. They trade false positives for zero dependencies: no AST, no
// type information, just the raw bytes.
var patternRules = []patternRule{
	{"ignored_error", "warning", regexp.MustCompile(`if\s+err\s*!=\s*nil\s*\{\s*\}`)},
	{"panic_call", "warning", regexp.MustCompile(`\bpanic\(`)},
	{"todo_marker", "info", regexp.MustCompile(`//\s*(?:TODO|FIXME)`)},
	{"debug_print", "info", regexp.MustCompile(`fmt\.Print(?:ln|f)?\(`)},
	{"empty_interface", "info", regexp.MustCompile(`\binterface\{\}`)},
}

// scanPatterns runs the regex rules over every non-test file.
//
// Test files are excluded: panics and prints are normal there and would
// drown the signal.
func (e *Engine) scanPatterns(ctx context.Context, query datatypes.Query) *datatypes.PatternData {
	result := &datatypes.PatternData{}

	for _, f := range e.collectSourceFiles(ctx, query) {
		if f.isTest || f.size > e.maxFileSize {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		content, err := os.ReadFile(f.absPath)
		if err != nil {
			e.logger.Debug("pattern scan skipping unreadable file",
				slog.String("path", f.relPath),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.ScannedFiles++

		for _, rule := range patternRules {
			for _, loc := range rule.re.FindAllIndex(content, -1) {
				result.Matches = append(result.Matches, datatypes.PatternMatch{
					Name:     rule.name,
					Path:     f.relPath,
					Line:     lineAt(content, loc[0]),
					Snippet:  snippetAt(content, loc[0]),
					Severity: rule.severity,
				})
			}
		}
	}

	return result
}

// lineAt returns the 1-based line number containing the byte offset.
func lineAt(content []byte, offset int) int {
	return bytes.Count(content[:offset], []byte("\n")) + 1
}

// snippetAt returns the trimmed source line containing the byte offset.
func snippetAt(content []byte, offset int) string {
	start := bytes.LastIndexByte(content[:offset], '\n') + 1
	end := bytes.IndexByte(content[offset:], '\n')
	if end < 0 {
		end = len(content)
	} else {
		end += offset
	}

	line := strings.TrimSpace(string(content[start:end]))
	if len(line) > maxSnippetLen {
		line = line[:maxSnippetLen]
	}
	return line
}
