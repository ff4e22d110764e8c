// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that reach
// subprocess arguments or filesystem walks. Using these validators
// prevents injection attacks (command injection, path traversal) and
// keeps ambiguous relative paths from being resolved against whatever
// working directory the service happens to have.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// rootMaxLen caps project root length. Linux PATH_MAX is 4096; anything
// longer cannot name a real directory.
const rootMaxLen = 4096

// ValidateRoot validates a project root path before it is passed to the
// tracer subprocess or walked by the heuristic engine.
//
// Valid roots:
//   - absolute, so they never resolve against an ambient working directory
//   - already clean (no ".." segments, no trailing slash)
//   - free of NUL bytes and line breaks
//   - at most 4096 bytes
//
// Returns an error if the root is invalid.
//
// Example:
//
//	if err := validation.ValidateRoot(req.Root); err != nil {
//	    return fmt.Errorf("invalid root: %w", err)
//	}
//	// Safe to use as a subprocess argument
func ValidateRoot(root string) error {
	if root == "" {
		return fmt.Errorf("root cannot be empty")
	}

	if len(root) > rootMaxLen {
		return fmt.Errorf("root exceeds %d bytes", rootMaxLen)
	}

	if strings.ContainsAny(root, "\x00\n\r") {
		return fmt.Errorf("root contains control characters")
	}

	if !filepath.IsAbs(root) {
		return fmt.Errorf("root must be an absolute path, got %q", root)
	}

	if cleaned := filepath.Clean(root); cleaned != root {
		return fmt.Errorf("root must be a clean path: %q normalizes to %q", root, cleaned)
	}

	return nil
}

// SanitizeRoot normalizes and validates a project root.
// Returns the trimmed, cleaned path if valid, or an error if invalid.
//
// Use this at request boundaries where accidental whitespace or an
// uncleaned-but-honest path should be tolerated:
//
//	safeRoot, err := validation.SanitizeRoot(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeRoot is absolute, clean, and validated
func SanitizeRoot(root string) (string, error) {
	normalized := strings.TrimSpace(root)
	if normalized != "" && filepath.IsAbs(normalized) {
		normalized = filepath.Clean(normalized)
	}
	if err := ValidateRoot(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
