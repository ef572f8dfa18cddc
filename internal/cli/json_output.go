// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - JSON output mode for scripting.
//
// Every command accepts --json and then writes exactly one JSONResponse to
// stdout. Progress and hints go to stderr.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jeranaias/billdash/internal/storage"
	"github.com/jeranaias/billdash/internal/telemetry"
)

// JSONResponse is the envelope of all JSON output.
type JSONResponse struct {
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data any `json:"data"`

	// Error is the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Details carries the exit code and error classification on failure.
	Details map[string]any `json:"details,omitempty"`

	// Timestamp is RFC 3339 UTC.
	Timestamp string `json:"timestamp"`

	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response with indentation.
func (r *JSONResponse) Write(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// String returns the JSON response as a string.
func (r *JSONResponse) String() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"failed to marshal response: %s","timestamp":"%s"}`,
			err.Error(), time.Now().UTC().Format(time.RFC3339))
	}
	return string(data)
}

// writeJSON writes a successful response for args' command.
func writeJSON(args Args, data any) error {
	return NewJSONResponse(args.Command, data).Write(args.out())
}

// StderrPrint prints a message to stderr (for human-readable output in JSON mode).
func StderrPrint(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}

// =============================================================================
// COMMAND DATA
// =============================================================================

// SubmitData is returned by submit.
type SubmitData struct {
	RunID      string       `json:"run_id"`
	FlowRunID  string       `json:"flow_run_id"`
	Bill       string       `json:"bill"`
	Replicas   int          `json:"replicas"`
	State      string       `json:"state"`
	Stages     []StageState `json:"stages,omitempty"`
	TimedOut   bool         `json:"timed_out,omitempty"`
	ExportPath string       `json:"export_path,omitempty"`
}

// StageState is one row of a stage listing.
type StageState struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Status string `json:"status"` // done, active, pending
}

// StatusData is returned by status.
type StatusData struct {
	FlowRunID string       `json:"flow_run_id"`
	WorkerID  string       `json:"worker_id"`
	Workers   int          `json:"workers"`
	Complete  bool         `json:"complete"`
	Stages    []StageState `json:"stages"`
	Report    string       `json:"report,omitempty"`
}

// ExportData is returned by export.
type ExportData struct {
	RunID  string `json:"run_id"`
	Path   string `json:"path"`
	Format string `json:"format"`
}

// HistoryData is returned by history.
type HistoryData struct {
	Path string         `json:"path"`
	Runs []*storage.Run `json:"runs"`
}

// TelemetryData is returned by telemetry.
type TelemetryData struct {
	PowerWatts    float64           `json:"power_watts"`
	PowerMaxWatts float64           `json:"power_max_watts"`
	CPUUsed       float64           `json:"cpu_used_percent"`
	CPUIdle       float64           `json:"cpu_idle_percent"`
	Throughput    float64           `json:"throughput_tok_s"`
	Hardware      map[string]string `json:"hardware"`
	Error         string            `json:"error,omitempty"`
}

func telemetryData(p telemetry.Panels) TelemetryData {
	hw := make(map[string]string)
	for _, row := range p.Hardware.Rows() {
		hw[row[0]] = row[1]
	}
	d := TelemetryData{
		PowerWatts:    p.PowerWatts,
		PowerMaxWatts: p.PowerMaxWatts,
		CPUUsed:       p.CPUUsed,
		CPUIdle:       p.CPUIdle,
		Throughput:    p.Throughput,
		Hardware:      hw,
	}
	if p.Err != nil {
		d.Error = p.Err.Error()
	}
	return d
}

// DoctorData is returned by doctor.
type DoctorData struct {
	Checks  []DoctorCheck `json:"checks"`
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck represents a single health check result.
type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// DoctorSummary contains the summary of health checks.
type DoctorSummary struct {
	Passed  int  `json:"passed"`
	Warned  int  `json:"warned"`
	Failed  int  `json:"failed"`
	Healthy bool `json:"healthy"`
}

// AuthData is returned by login, logout and register.
type AuthData struct {
	User      string `json:"user,omitempty"`
	TokenFile string `json:"token_file,omitempty"`
	LoggedIn  bool   `json:"logged_in"`
}

// VersionData represents the data returned by the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}
