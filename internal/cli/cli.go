// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and usage for billdash.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdDash Command = iota
	CmdSubmit
	CmdStatus
	CmdExport
	CmdHistory
	CmdLogin
	CmdLogout
	CmdRegister
	CmdTelemetry
	CmdConfig
	CmdDoctor
	CmdMock
	CmdVersion
	CmdHelp
	CmdUnknown
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet      bool
	Verbose    bool
	JSON       bool
	NoColor    bool
	ConfigPath string // --config overrides ~/.billdash/config.toml

	// Command is the name typed by the user, kept for error messages.
	Command string

	// Raw args after the command name. Each handler parses these with ArgParser.
	Raw []string

	// Out receives command output. Nil means stdout.
	Out io.Writer
}

func (a Args) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

const usageText = `billdash - legislative bill analysis dashboard

Submit a bill (PDF) to the multi-agent analysis service, watch each stage
complete and export the assembled report.

Usage:
  billdash [dash]                       Interactive dashboard (default)
  billdash submit <bill.pdf>            Submit a bill
    --replicas N                        Replica flow runs, 0-100 (default: 1)
    --wait                              Block until all stages complete
    --export                            Export the report when complete (implies --wait)
    --format pdf|md|html|json           Export format (default: export.format)
  billdash status <flow-run-id>         Show stage progress of a submitted job
    --report                            Also print the report so far
    --watch                             Poll until all stages complete
  billdash export                       Export a report from run history
    --run ID | --latest                 Which run (default: latest)
    --format pdf|md|html|json           Output format
    --source buffer|final               Assembled report or final artifact only
    -o, --output DIR                    Output directory
  billdash history [--limit N]          List past runs, newest first
  billdash login [--user NAME]          Log in and store the token
  billdash logout                       Forget the stored token
  billdash register [--user NAME]       Create an account
  billdash telemetry                    Show power, CPU and throughput readings
  billdash config [show|path|init]      Configuration
  billdash doctor                       Check configuration and connectivity
  billdash mock [--addr :8100]          Run a local fake backend
    --step 3s                           Time per stage
    --auth                              Require login on job endpoints
  billdash version                      Show version
  billdash help                         Show this help

Global Flags:
  --config PATH   Use this config file
  --json          Output in JSON format
  --no-color      Disable colors
  -q, --quiet     Minimal output
  -v, --verbose   Debug logging to stderr

Environment:
  BILLDASH_HOST, BILLDASH_API_BASE, BILLDASH_METRICS_BASE, BILLDASH_TOKEN,
  BILLDASH_THEME, BILLDASH_OUTPUT_DIR

Examples:
  billdash mock &
  billdash submit hb-101.pdf --replicas 2 --export --format pdf
  billdash status 3f2a9c1e --report
  billdash export --latest --format html -o reports/

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "billdash version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses argv (without the program name) into a command and args.
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsed := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		parsed.Command = "dash"
		return CmdDash, parsed
	}

	name := strings.ToLower(remaining[0])
	parsed.Command = name
	parsed.Raw = remaining[1:]

	switch name {
	case "dash", "dashboard", "tui":
		return CmdDash, parsed
	case "submit", "run":
		return CmdSubmit, parsed
	case "status", "s":
		return CmdStatus, parsed
	case "export":
		return CmdExport, parsed
	case "history", "runs":
		return CmdHistory, parsed
	case "login":
		return CmdLogin, parsed
	case "logout":
		return CmdLogout, parsed
	case "register":
		return CmdRegister, parsed
	case "telemetry", "metrics":
		return CmdTelemetry, parsed
	case "config":
		return CmdConfig, parsed
	case "doctor":
		return CmdDoctor, parsed
	case "mock":
		return CmdMock, parsed
	case "version", "--version":
		return CmdVersion, parsed
	case "help", "-h", "--help":
		return CmdHelp, parsed
	}
	return CmdUnknown, parsed
}

// parseGlobalFlags extracts global flags wherever they appear and returns
// the remaining args in order.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsed Args

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-q" || arg == "--quiet":
			parsed.Quiet = true
		case arg == "-v" || arg == "--verbose":
			parsed.Verbose = true
		case arg == "--json":
			parsed.JSON = true
		case arg == "--no-color":
			parsed.NoColor = true
		case arg == "--config":
			if i+1 < len(args) {
				i++
				parsed.ConfigPath = args[i]
			}
		case strings.HasPrefix(arg, "--config="):
			parsed.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, parsed
}

// Dispatch runs cmd. It never exits; main maps the error with ExitCode.
func Dispatch(ctx context.Context, cmd Command, args Args) error {
	switch cmd {
	case CmdDash:
		return HandleDash(ctx, args)
	case CmdSubmit:
		return HandleSubmit(ctx, args)
	case CmdStatus:
		return HandleStatus(ctx, args)
	case CmdExport:
		return HandleExport(ctx, args)
	case CmdHistory:
		return HandleHistory(ctx, args)
	case CmdLogin:
		return HandleLogin(ctx, args)
	case CmdLogout:
		return HandleLogout(ctx, args)
	case CmdRegister:
		return HandleRegister(ctx, args)
	case CmdTelemetry:
		return HandleTelemetry(ctx, args)
	case CmdConfig:
		return HandleConfig(args)
	case CmdDoctor:
		return HandleDoctor(ctx, args)
	case CmdMock:
		return HandleMock(ctx, args)
	case CmdVersion:
		if args.JSON {
			return writeJSON(args, VersionData{
				Version:   Version,
				GitCommit: GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
			})
		}
		PrintVersion(args.out())
		return nil
	case CmdHelp:
		PrintUsage(args.out())
		return nil
	}
	example := "billdash help"
	if s := SuggestCommand(args.Command); s != "" {
		example = "billdash " + s
	}
	return NewValidationErrorWithExample("command", args.Command, "unknown command", example)
}
