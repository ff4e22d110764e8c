// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders terminal status output for the scout CLI: a
// progress spinner and status lines, styled with the Aleutian palette
// when stderr is a terminal and downgraded to plain prefixed lines
// when it is not.
//
// Everything here writes to stderr. Stdout is reserved for answers, so
// piping a resolve into jq never collides with progress noise.
package ux

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian brand palette, shared across the Aleutian tools.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - titles
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text
	ColorWarning     = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError       = lipgloss.Color("#E74C3C") // Red for errors
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
}

// Mode selects how status output is rendered.
type Mode int

const (
	// ModeAuto styles output when stderr is a terminal.
	ModeAuto Mode = iota

	// ModeStyled always renders styles and animation.
	ModeStyled

	// ModePlain always prints bare prefixed lines.
	ModePlain
)

var (
	currentMode = ModeAuto
	modeMu      sync.RWMutex
)

// SetMode overrides the rendering mode.
func SetMode(m Mode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = m
}

// GetMode returns the current rendering mode.
func GetMode() Mode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// Plain reports whether output skips styling and animation.
//
// In ModeAuto this is true when stderr is not a terminal (piped
// output, CI/CD).
func Plain() bool {
	switch GetMode() {
	case ModeStyled:
		return false
	case ModePlain:
		return true
	}
	return !stderrIsTerminal()
}

// stderrIsTerminal checks if stderr is a character device.
func stderrIsTerminal() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// Success prints a success status line.
func Success(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", Styles.Success.Render("✓"), text)
}

// Warning prints a warning status line.
func Warning(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", Styles.Warning.Render("⚠"), Styles.Warning.Render(text))
}

// Muted prints secondary text. Suppressed entirely in plain mode.
func Muted(text string) {
	if Plain() {
		return
	}
	fmt.Fprintln(os.Stderr, Styles.Muted.Render(text))
}
