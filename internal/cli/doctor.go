// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Doctor command implementation.
//
// Command: doctor
// Short:   Check configuration and connectivity
//
// Health Checks Performed:
//   1. Config Valid       - Config file loads and validates
//   2. Job Service        - API base answers HTTP
//   3. Credentials        - A token is stored or set in the environment
//   4. Metrics Proxy      - Power query returns a sample (optional)
//   5. History Writable   - Run history database opens
//   6. Output Directory   - Export directory exists and is writable
//
// Exit Codes:
//   0   No check failed
//   1   One or more checks failed

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/billdash/internal/auth"
	"github.com/jeranaias/billdash/internal/jobclient"
	"github.com/jeranaias/billdash/internal/telemetry"
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarn
	CheckFail
)

func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // suggested command or instruction
}

// Render returns a formatted line, with the fix on a second line.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", RenderStatus(c.Status.String()), c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n     " + DimStyle.Italic(true).Render("-> "+c.Fix)
	}
	return result
}

// =============================================================================
// HANDLE DOCTOR
// =============================================================================

// HandleDoctor runs every check and prints the results.
func HandleDoctor(ctx context.Context, args Args) error {
	app, err := NewApp(args)
	if err != nil {
		// A config that does not load is itself the diagnosis.
		checks := []*HealthCheck{{
			Name:    "config",
			Status:  CheckFail,
			Message: "Config invalid: " + err.Error(),
			Fix:     "Run: billdash config init --force",
		}}
		return reportChecks(args, checks)
	}
	defer app.Close()

	return reportChecks(args, runAllChecks(ctx, app))
}

func reportChecks(args Args, checks []*HealthCheck) error {
	var passed, warned, failed int
	for _, c := range checks {
		switch c.Status {
		case CheckPass:
			passed++
		case CheckWarn:
			warned++
		case CheckFail:
			failed++
		}
	}

	if args.JSON {
		data := DoctorData{
			Checks: make([]DoctorCheck, 0, len(checks)),
			Summary: DoctorSummary{
				Passed:  passed,
				Warned:  warned,
				Failed:  failed,
				Healthy: failed == 0,
			},
		}
		for _, c := range checks {
			data.Checks = append(data.Checks, DoctorCheck{
				Name:    c.Name,
				Status:  c.Status.String(),
				Message: c.Message,
				Fix:     c.Fix,
			})
		}
		resp := NewJSONResponse("doctor", data)
		if failed > 0 {
			msg := fmt.Sprintf("%d health check(s) failed", failed)
			resp.Success = false
			resp.Error = &msg
			resp.Details = map[string]any{"exit_code": ExitGeneralError}
		}
		if err := resp.Write(args.out()); err != nil {
			return err
		}
		if failed > 0 {
			return errChecksFailed
		}
		return nil
	}

	w := args.out()
	fmt.Fprintln(w, TitleStyle.Render("billdash doctor"))
	fmt.Fprintln(w, RenderSeparator(41))
	for _, c := range checks {
		fmt.Fprintln(w, c.Render())
	}
	fmt.Fprintln(w, SeparatorStyle.Render(strings.Repeat("-", 41)))

	parts := []string{fmt.Sprintf("%d passed", passed)}
	if warned > 0 {
		parts = append(parts, WarningStyle.Render(fmt.Sprintf("%d warning", warned)))
	}
	if failed > 0 {
		parts = append(parts, ErrorStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	fmt.Fprintln(w, strings.Join(parts, ", "))

	if failed > 0 {
		return fmt.Errorf("%d health check(s) failed", failed)
	}
	return nil
}

// errChecksFailed is returned after the JSON report was already written, so
// main does not print a second document.
var errChecksFailed = &silentError{msg: "health checks failed"}

type silentError struct{ msg string }

func (e *silentError) Error() string { return e.msg }

// IsSilent reports whether err was already reported to the user.
func IsSilent(err error) bool {
	var s *silentError
	return errors.As(err, &s)
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

func runAllChecks(ctx context.Context, app *App) []*HealthCheck {
	checks := []*HealthCheck{
		checkConfigValid(app),
		checkJobService(ctx, app),
		checkCredentials(app),
	}
	if app.Config.Telemetry.Enabled {
		checks = append(checks, checkMetrics(ctx, app))
	}
	return append(checks,
		checkHistory(app),
		checkOutputDir(app),
	)
}

func checkConfigValid(app *App) *HealthCheck {
	c := &HealthCheck{Name: "config"}
	if _, err := os.Stat(app.ConfigPath); err != nil {
		c.Status = CheckWarn
		c.Message = "No config file, using defaults"
		c.Fix = "Run: billdash config init"
		return c
	}
	if err := app.Config.Validate(); err != nil {
		c.Status = CheckFail
		c.Message = "Config invalid: " + err.Error()
		c.Fix = "Edit " + app.ConfigPath
		return c
	}
	c.Message = "Config valid (" + app.ConfigPath + ")"
	return c
}

func checkJobService(ctx context.Context, app *App) *HealthCheck {
	c := &HealthCheck{Name: "job_service"}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := app.Client.WaitReady(ctx); err != nil {
		c.Status = CheckFail
		c.Message = "Job service unreachable at " + app.Client.BaseURL()
		var ce *jobclient.ClientError
		if errors.As(err, &ce) {
			c.Message += " (" + ce.Type.String() + ")"
		}
		c.Fix = "Check server.host / server.api_base, or run: billdash mock"
		return c
	}
	c.Message = "Job service reachable at " + app.Client.BaseURL()
	return c
}

func checkCredentials(app *App) *HealthCheck {
	c := &HealthCheck{Name: "credentials"}
	if os.Getenv("BILLDASH_TOKEN") != "" {
		c.Message = "Token set from BILLDASH_TOKEN"
		return c
	}
	_, err := app.Tokens.Load()
	switch {
	case err == nil:
		c.Message = "Token stored at " + app.Tokens.Path()
	case errors.Is(err, auth.ErrNoToken):
		c.Status = CheckWarn
		c.Message = "Not logged in"
		c.Fix = "Run: billdash login"
	default:
		c.Status = CheckFail
		c.Message = "Stored token unreadable: " + err.Error()
		c.Fix = "Run: billdash logout && billdash login"
	}
	return c
}

func checkMetrics(ctx context.Context, app *App) *HealthCheck {
	c := &HealthCheck{Name: "metrics"}
	tc := app.Config.TelemetryConfig()
	client := telemetry.NewClient(tc, app.Log)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	v, err := client.QueryValue(ctx, tc.PowerQuery)
	if err != nil {
		// The dashboard works without telemetry.
		c.Status = CheckWarn
		c.Message = "Metrics proxy not answering at " + app.Config.MetricsURL()
		c.Fix = "Set telemetry.enabled = false to hide the panels"
		return c
	}
	c.Message = "Metrics proxy answering (" + telemetry.FormatWatts(v) + ")"
	return c
}

func checkHistory(app *App) *HealthCheck {
	c := &HealthCheck{Name: "history"}
	store, err := app.OpenStore()
	if err != nil {
		c.Status = CheckWarn
		c.Message = "Run history unavailable: " + err.Error()
		c.Fix = "Check storage.path"
		return c
	}
	c.Message = "Run history at " + store.Path()
	return c
}

func checkOutputDir(app *App) *HealthCheck {
	c := &HealthCheck{Name: "output_dir"}
	dir := app.Config.Export.OutputDir
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err == nil {
		dir = abs
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		c.Status = CheckFail
		c.Message = "Export directory missing: " + dir
		c.Fix = "Run: mkdir -p " + dir
		return c
	}
	f, err := os.CreateTemp(dir, ".billdash-doctor-*")
	if err != nil {
		c.Status = CheckFail
		c.Message = "Export directory not writable: " + dir
		c.Fix = "Set export.output_dir to a writable directory"
		return c
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	c.Message = "Export directory writable: " + dir
	return c
}
