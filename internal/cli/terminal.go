// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - TTY and color detection for billdash commands.
//
// Piped output gets no colors and no prompts. NO_COLOR disables color,
// FORCE_COLOR enables it regardless of TTY.

package cli

import (
	"os"
	"sync/atomic"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is used when stdout is not a terminal.
	DefaultTerminalWidth = 80

	// MinTerminalWidth keeps rendered markdown readable on tiny panes.
	MinTerminalWidth = 40
)

func isTerminal(f *os.File) bool { return term.IsTerminal(int(f.Fd())) }

// IsTTY reports whether stdin is a terminal.
func IsTTY() bool { return isTerminal(os.Stdin) }

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool { return isTerminal(os.Stdout) }

// GetTerminalWidth returns the stdout width in cells.
func GetTerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return DefaultTerminalWidth
	}
	return max(w, MinTerminalWidth)
}

// =============================================================================
// COLOR
// =============================================================================

// colorMode is 0 until detected, then colorOn or colorOff.
var colorMode atomic.Int32

const (
	colorOn  = 1
	colorOff = 2
)

// ColorsEnabled reports whether styled output should be used.
// See https://no-color.org/.
func ColorsEnabled() bool {
	if m := colorMode.Load(); m != 0 {
		return m == colorOn
	}
	on := IsStdoutTTY()
	switch {
	case os.Getenv("NO_COLOR") != "":
		on = false
	case os.Getenv("FORCE_COLOR") != "":
		on = true
	}
	ForceColorsEnabled(on)
	return on
}

// ForceColorsEnabled overrides detection. Used by --no-color and tests.
func ForceColorsEnabled(enabled bool) {
	if enabled {
		colorMode.Store(colorOn)
	} else {
		colorMode.Store(colorOff)
	}
}

// GetColorProfile returns Ascii when colors are off, else what termenv detects.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// =============================================================================
// PROMPTS
// =============================================================================

// CanPrompt reports whether interactive prompts are possible.
func CanPrompt() bool { return IsTTY() }

// RequiresTTY fails when stdin cannot be prompted.
func RequiresTTY(operation string) error {
	if !IsTTY() {
		return &TTYRequiredError{Operation: operation, Stream: "stdin"}
	}
	return nil
}

// TTYRequiredError is returned when an operation needs a terminal.
type TTYRequiredError struct {
	Operation string
	Stream    string // "stdin" or "stdout"
}

func (e *TTYRequiredError) Error() string {
	stream := e.Stream
	if stream == "" {
		stream = "stdin"
	}
	if e.Operation == "" {
		return stream + " is not a terminal"
	}
	return stream + " is not a terminal; cannot " + e.Operation
}
