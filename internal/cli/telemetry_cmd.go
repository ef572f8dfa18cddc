// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// telemetry_cmd.go - One-shot metrics readout.
//
// Command: telemetry [--jobs N]
// Aliases: metrics
//
// --jobs divides the throughput reading across N concurrent jobs.

package cli

import (
	"context"
	"fmt"

	"github.com/jeranaias/billdash/internal/telemetry"
)

// HandleTelemetry queries every metric once and prints the readings.
func HandleTelemetry(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)
	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	jobs, err := p.FlagInt("jobs", 0)
	if err != nil {
		return err
	}
	mon := app.Monitor()
	mon.SetJobs(jobs)
	panels := mon.Refresh(ctx)

	if args.JSON {
		return writeJSON(args, telemetryData(panels))
	}
	if panels.Err != nil && panels.PowerWatts == 0 && panels.CPUUsed == 0 && panels.Throughput == 0 {
		return NewCommandError("telemetry", "query", "metrics proxy at "+app.Config.MetricsURL()+" did not answer", panels.Err)
	}

	w := args.out()
	fmt.Fprintln(w, TitleStyle.Render("Server telemetry"))
	fmt.Fprintf(w, "%s%s of %s\n", RenderLabel("Power:"),
		telemetry.FormatWatts(panels.PowerWatts), telemetry.FormatWatts(panels.PowerMaxWatts))
	fmt.Fprintf(w, "%s%s used, %s idle\n", RenderLabel("CPU:"),
		telemetry.FormatPercent(panels.CPUUsed), telemetry.FormatPercent(panels.CPUIdle))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Throughput:"), telemetry.FormatTokens(panels.Throughput))

	fmt.Fprintln(w, SectionStyle.Render("Hardware"))
	for _, row := range panels.Hardware.Rows() {
		fmt.Fprintf(w, "%s%s\n", RenderLabel(row[0]+":"), row[1])
	}
	if panels.Err != nil {
		fmt.Fprintf(w, "\n%s %v\n", WarningStyle.Render("[WARN]"), panels.Err)
	}
	return nil
}
