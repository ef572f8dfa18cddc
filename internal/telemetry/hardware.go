// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Hardware describes the inference server shown in the info table.
type Hardware struct {
	Sockets   int
	Cores     int
	MemoryGiB int
	BaseGHz   float64
	BoostGHz  float64
}

// DefaultHardware is the reference two-socket server.
func DefaultHardware() Hardware {
	return Hardware{
		Sockets:   2,
		Cores:     256,
		MemoryGiB: 1350,
		BaseGHz:   2.7,
		BoostGHz:  4.1,
	}
}

// printer formats numbers with grouping for display.
var printer = message.NewPrinter(language.English)

// Rows returns label/value pairs for display.
func (h Hardware) Rows() [][2]string {
	return [][2]string{
		{"CPU sockets", printer.Sprintf("%d", h.Sockets)},
		{"CPU cores", printer.Sprintf("%d", h.Cores)},
		{"Memory", printer.Sprintf("%d GiB", h.MemoryGiB)},
		{"Base clock", printer.Sprintf("%.1f GHz", h.BaseGHz)},
		{"Max boost", printer.Sprintf("up to %.1f GHz", h.BoostGHz)},
	}
}

// FormatWatts formats a power reading.
func FormatWatts(w float64) string { return printer.Sprintf("%.0f W", w) }

// FormatPercent formats a percentage with one decimal.
func FormatPercent(p float64) string { return printer.Sprintf("%.1f%%", p) }

// FormatTokens formats a throughput reading.
func FormatTokens(t float64) string { return printer.Sprintf("%.1f tok/s", t) }
