// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/billdash/internal/auth"
	"github.com/jeranaias/billdash/internal/config"
	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/jobclient"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/stages"
	"github.com/jeranaias/billdash/internal/storage"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		bools    []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"show"},
			wantSub: "show",
		},
		{
			name:    "flag with value",
			args:    []string{"bill.pdf", "--replicas", "3"},
			wantSub: "bill.pdf",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("replicas") != "3" {
					t.Errorf("Flag(replicas) = %q, want %q", p.Flag("replicas"), "3")
				}
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"--format=html"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("format") != "html" {
					t.Errorf("Flag(format) = %q, want %q", p.Flag("format"), "html")
				}
			},
		},
		{
			name:    "declared boolean keeps next arg positional",
			args:    []string{"--wait", "bill.pdf"},
			bools:   []string{"wait"},
			wantSub: "bill.pdf",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("wait") {
					t.Error("BoolFlag(wait) should be true")
				}
				if p.Flag("wait") != "" {
					t.Errorf("Flag(wait) = %q, want empty", p.Flag("wait"))
				}
			},
		},
		{
			name:    "undeclared flag consumes next arg",
			args:    []string{"--wait", "bill.pdf"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("wait") != "bill.pdf" {
					t.Errorf("Flag(wait) = %q, want %q", p.Flag("wait"), "bill.pdf")
				}
			},
		},
		{
			name:    "boolean with explicit value",
			args:    []string{"--export=false"},
			bools:   []string{"export"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				if p.BoolFlag("export") {
					t.Error("BoolFlag(export) should be false")
				}
				if !p.HasFlag("export") {
					t.Error("HasFlag(export) should be true")
				}
			},
		},
		{
			name:    "short flag alias",
			args:    []string{"-o", "reports"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("output", "o") != "reports" {
					t.Errorf("Flag(output, o) = %q, want %q", p.Flag("output", "o"), "reports")
				}
			},
		},
		{
			name:    "double dash ends flags",
			args:    []string{"--", "--odd-name.pdf"},
			wantSub: "--odd-name.pdf",
			validate: func(t *testing.T, p *ArgParser) {
				if p.PositionalCount() != 1 {
					t.Errorf("PositionalCount() = %d, want 1", p.PositionalCount())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewArgParser(tt.args, tt.bools...)
			if parser.Subcommand() != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", parser.Subcommand(), tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, parser)
			}
		})
	}
}

func TestArgParser_FlagInt(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{"absent uses default", []string{}, 1, false},
		{"valid", []string{"--replicas", "7"}, 7, false},
		{"negative", []string{"--replicas=-2"}, -2, false},
		{"not a number", []string{"--replicas", "many"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewArgParser(tt.args).FlagInt("replicas", 1)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FlagInt() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FlagInt() = %d, want %d", got, tt.want)
			}
			if tt.wantErr {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("error %T is not a *ValidationError", err)
				}
			}
		})
	}
}

func TestArgParser_FlagDuration(t *testing.T) {
	p := NewArgParser([]string{"--step", "250ms", "--bad", "soon"})
	d, err := p.FlagDuration("step", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Errorf("FlagDuration(step) = %v, %v", d, err)
	}
	d, err = p.FlagDuration("missing", time.Second)
	if err != nil || d != time.Second {
		t.Errorf("FlagDuration(missing) = %v, %v", d, err)
	}
	if _, err := p.FlagDuration("bad", time.Second); err == nil {
		t.Error("FlagDuration(bad) should fail")
	}
}

func TestArgParser_FlagOrDefault(t *testing.T) {
	p := NewArgParser([]string{"--addr", ":9000"})
	if got := p.FlagOrDefault("addr", ":8100"); got != ":9000" {
		t.Errorf("FlagOrDefault(addr) = %q", got)
	}
	if got := p.FlagOrDefault("host", "localhost"); got != "localhost" {
		t.Errorf("FlagOrDefault(host) = %q", got)
	}
}

// =============================================================================
// COMMAND PARSING TESTS (cli.go)
// =============================================================================

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name        string
		argv        []string
		wantCommand Command
		validate    func(*testing.T, Args)
	}{
		{
			name:        "no args opens dashboard",
			argv:        nil,
			wantCommand: CmdDash,
		},
		{
			name:        "submit keeps raw args",
			argv:        []string{"submit", "hb-101.pdf", "--replicas", "2"},
			wantCommand: CmdSubmit,
			validate: func(t *testing.T, a Args) {
				want := []string{"hb-101.pdf", "--replicas", "2"}
				if strings.Join(a.Raw, " ") != strings.Join(want, " ") {
					t.Errorf("Raw = %v, want %v", a.Raw, want)
				}
			},
		},
		{
			name:        "run alias",
			argv:        []string{"run", "x.pdf"},
			wantCommand: CmdSubmit,
		},
		{
			name:        "global flags anywhere",
			argv:        []string{"status", "--json", "abc", "-q", "--config", "/tmp/c.toml"},
			wantCommand: CmdStatus,
			validate: func(t *testing.T, a Args) {
				if !a.JSON || !a.Quiet {
					t.Errorf("JSON=%v Quiet=%v, want both true", a.JSON, a.Quiet)
				}
				if a.ConfigPath != "/tmp/c.toml" {
					t.Errorf("ConfigPath = %q", a.ConfigPath)
				}
				if len(a.Raw) != 1 || a.Raw[0] != "abc" {
					t.Errorf("Raw = %v, want [abc]", a.Raw)
				}
			},
		},
		{
			name:        "config equals form",
			argv:        []string{"--config=/etc/billdash.toml", "doctor"},
			wantCommand: CmdDoctor,
			validate: func(t *testing.T, a Args) {
				if a.ConfigPath != "/etc/billdash.toml" {
					t.Errorf("ConfigPath = %q", a.ConfigPath)
				}
			},
		},
		{
			name:        "metrics alias",
			argv:        []string{"metrics"},
			wantCommand: CmdTelemetry,
		},
		{
			name:        "version flag",
			argv:        []string{"--version"},
			wantCommand: CmdVersion,
		},
		{
			name:        "help flag",
			argv:        []string{"-h"},
			wantCommand: CmdHelp,
		},
		{
			name:        "unknown command",
			argv:        []string{"frobnicate"},
			wantCommand: CmdUnknown,
			validate: func(t *testing.T, a Args) {
				if a.Command != "frobnicate" {
					t.Errorf("Command = %q", a.Command)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args := ParseArgs(tt.argv)
			if cmd != tt.wantCommand {
				t.Errorf("command = %v, want %v", cmd, tt.wantCommand)
			}
			if tt.validate != nil {
				tt.validate(t, args)
			}
		})
	}
}

func TestDispatch_HelpAndVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := Dispatch(context.Background(), CmdHelp, Args{Out: &buf}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "billdash submit <bill.pdf>") {
		t.Error("usage should list the submit command")
	}

	buf.Reset()
	if err := Dispatch(context.Background(), CmdVersion, Args{Out: &buf, JSON: true, Command: "version"}); err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Success bool        `json:"success"`
		Data    VersionData `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("version output is not JSON: %v", err)
	}
	if !resp.Success || resp.Data.Version != Version {
		t.Errorf("unexpected version response: %+v", resp)
	}
}

func TestDispatch_Unknown(t *testing.T) {
	err := Dispatch(context.Background(), CmdUnknown, Args{Command: "frob"})
	if ExitCode(err) != ExitUsageError {
		t.Errorf("ExitCode = %d, want %d", ExitCode(err), ExitUsageError)
	}
}

// =============================================================================
// ERROR TESTS (errors.go)
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitGeneralError},
		{"validation", NewValidationError("replicas", "x", "bad"), ExitUsageError},
		{"no file", poller.ErrNoFile, ExitUsageError},
		{"not pdf", fmt.Errorf("submit: %w", poller.ErrNotPDF), ExitUsageError},
		{"replicas", poller.ErrInvalidReplicas, ExitUsageError},
		{"config field", config.ValidationError{Field: "ui.theme", Message: "bad"}, ExitConfigError},
		{"config list", config.ValidateErrors{{Field: "a", Message: "b"}}, ExitConfigError},
		{"no token", auth.ErrNoToken, ExitAuthError},
		{"not found", &NotFoundError{Resource: "run", ID: "x"}, ExitNotFoundError},
		{"run missing", storage.ErrNotFound, ExitNotFoundError},
		{"empty report", fmt.Errorf("x: %w", export.ErrEmptyReport), ExitNotFoundError},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"unauthorized", &jobclient.ClientError{Type: jobclient.ErrTypeUnauthorized}, ExitAuthError},
		{"network", &jobclient.ClientError{Type: jobclient.ErrTypeNetwork}, ExitNetworkError},
		{"server", &jobclient.ClientError{Type: jobclient.ErrTypeServer, Status: 502}, ExitNetworkError},
		{"service not found", &jobclient.ClientError{Type: jobclient.ErrTypeNotFound}, ExitNotFoundError},
		{"wrapped command", NewCommandError("submit", "export", "x", auth.ErrNoToken), ExitAuthError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationErrorWithExample("replicas", "x", "must be an integer", "--replicas 3")
	msg := err.Error()
	for _, want := range []string{"invalid replicas", "must be an integer", "(got: x)", "Example: --replicas 3"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestDisplayError_JSON(t *testing.T) {
	var buf bytes.Buffer
	err := NewCommandError("submit", "upload", "service refused the bill",
		&jobclient.ClientError{Type: jobclient.ErrTypeServer, Status: 503, Message: "busy"})
	DisplayError(&buf, "submit", err, true)

	var resp JSONResponse
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if resp.Success || resp.Error == nil {
		t.Fatalf("expected failure response, got %+v", resp)
	}
	if resp.Command != "submit" {
		t.Errorf("Command = %q", resp.Command)
	}
	if resp.Details["error_type"] != "command_error" {
		t.Errorf("error_type = %v", resp.Details["error_type"])
	}
	if resp.Details["service_error"] != jobclient.ErrTypeServer.String() {
		t.Errorf("service_error = %v", resp.Details["service_error"])
	}
	// JSON numbers decode as float64.
	if resp.Details["exit_code"] != float64(ExitNetworkError) {
		t.Errorf("exit_code = %v", resp.Details["exit_code"])
	}
	if resp.Details["http_status"] != float64(503) {
		t.Errorf("http_status = %v", resp.Details["http_status"])
	}
}

func TestDisplayError_Human(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, "export", &NotFoundError{Resource: "run", ID: "7c1e"}, false)
	if !strings.Contains(buf.String(), "[ERROR]") || !strings.Contains(buf.String(), "run not found: 7c1e") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

// =============================================================================
// HELPER TESTS
// =============================================================================

func TestStageStates(t *testing.T) {
	table := stages.Default()
	got := stageStates(table, []int{0, 1}, 2)
	if len(got) != table.Len() {
		t.Fatalf("len = %d, want %d", len(got), table.Len())
	}
	want := []string{"done", "done", "active"}
	for i, w := range want {
		if got[i].Status != w {
			t.Errorf("stage %d status = %q, want %q", i, got[i].Status, w)
		}
	}
	for _, st := range got[3:] {
		if st.Status != "pending" {
			t.Errorf("stage %d status = %q, want pending", st.Index, st.Status)
		}
	}

	for _, st := range stageStates(table, []int{0, 1, 2, 3, 4}, stages.AllDone) {
		if st.Status != "done" {
			t.Errorf("stage %d status = %q, want done", st.Index, st.Status)
		}
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{50 * time.Hour, "2d ago"},
		{30 * 24 * time.Hour, "2025-02-08"},
	}
	for _, tt := range tests {
		if got := formatAge(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("formatAge(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hb-101.pdf", 28); got != "hb-101.pdf" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("an-extremely-long-bill-name.pdf", 10); got != "an-extrem~" {
		t.Errorf("truncate long = %q", got)
	}
}

func TestSuggestCommand(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"sumbit", "submit"},
		{"histroy", "history"},
		{"doctr", "doctor"},
		{"stauts", "status"},
		{"x", ""},
		{"submit", ""},
		{"zzzzzzzz", ""},
	}
	for _, tt := range tests {
		if got := SuggestCommand(tt.input); got != tt.want {
			t.Errorf("SuggestCommand(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := promptYesNo(&out, strings.NewReader(tt.input), "Overwrite"); got != tt.want {
			t.Errorf("promptYesNo(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
