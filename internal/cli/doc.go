// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the billdash commands.
//
// # Key Types
//
//   - Command: Enumeration of all available commands
//   - Args: Global flags plus the raw arguments of the command
//   - ArgParser: Per-command flag and positional parsing
//   - App: Config, logger, job client and token store of one invocation
//   - JSONResponse: The single document written in --json mode
//
// # Usage
//
//	cmd, args := cli.Parse()
//	err := cli.Dispatch(ctx, cmd, args)
//	if err != nil {
//	    cli.DisplayError(os.Stderr, args.Command, err, args.JSON)
//	    os.Exit(cli.ExitCode(err))
//	}
//
// # Commands Overview
//
// Interactive:
//   - dash: The dashboard (default)
//
// Jobs:
//   - submit: Upload a bill, optionally wait and export
//   - status: Stage progress of a flow run
//   - export: Export a stored run
//   - history: List stored runs
//
// Account and environment:
//   - login, logout, register: Bearer token management
//   - telemetry: One-shot metrics readout
//   - config: Show and edit configuration
//   - doctor: Configuration and connectivity checks
//   - mock: Local fake backend
//
// All commands support --json.
package cli
