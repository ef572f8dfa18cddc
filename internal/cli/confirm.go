// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Confirmation for commands that overwrite local state.
//
// The rule for every such command:
//   1. --force proceeds without prompting
//   2. --json never prompts and requires --force
//   3. A non-terminal stdin cannot prompt and requires --force
//   4. Otherwise ask y/N on stdin

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrConfirmationRequired is returned when a prompt was needed but impossible.
var ErrConfirmationRequired = NewValidationErrorWithExample("force", "",
	"confirmation required", "re-run with --force")

// RequireConfirmation reports whether action may proceed.
func RequireConfirmation(args Args, force bool, action string) (bool, error) {
	if force {
		return true, nil
	}
	if args.JSON || !CanPrompt() {
		return false, ErrConfirmationRequired
	}
	return promptYesNo(args.out(), os.Stdin, action), nil
}

func promptYesNo(w io.Writer, r io.Reader, action string) bool {
	fmt.Fprintf(w, "%s %s? [y/N]: ", WarningStyle.Render("[WARN]"), action)
	input, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && input == "" {
		return false
	}
	resp := strings.ToLower(strings.TrimSpace(input))
	return resp == "y" || resp == "yes"
}
