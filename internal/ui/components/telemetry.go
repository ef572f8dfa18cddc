// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"time"

	"github.com/jeranaias/billdash/internal/telemetry"
	"github.com/jeranaias/billdash/internal/ui/styles"
	"github.com/jeranaias/billdash/internal/util"
)

// =============================================================================
// TELEMETRY PANEL COMPONENT
// =============================================================================

// TelemetryPanel renders the power gauge, CPU split, throughput sparkline
// and hardware table.
type TelemetryPanel struct {
	Panels   telemetry.Panels
	Enabled  bool
	Width    int
	Compact  bool
	Hardware bool

	now   func() time.Time
	theme *styles.Theme
}

// NewTelemetryPanel creates a panel.
func NewTelemetryPanel(theme *styles.Theme) *TelemetryPanel {
	return &TelemetryPanel{
		Enabled:  true,
		Width:    40,
		Hardware: true,
		now:      time.Now,
		theme:    theme,
	}
}

// SetTheme swaps the theme after a live reload.
func (p *TelemetryPanel) SetTheme(theme *styles.Theme) { p.theme = theme }

// View renders the panel.
func (p *TelemetryPanel) View() string {
	t := p.theme
	if !p.Enabled {
		return t.PanelTitle.Render("Telemetry") + "\n" + t.Placeholder.Render("disabled")
	}
	if p.Compact {
		return p.renderCompact()
	}

	inner := max(p.Width-4, 20)
	barWidth := max(inner-14, 8)

	var lines []string
	lines = append(lines, t.PanelTitle.Render("Telemetry"))

	if p.Panels.UpdatedAt.IsZero() && p.Panels.Err == nil {
		lines = append(lines, t.Placeholder.Render("waiting for metrics..."))
		return strings.Join(lines, "\n")
	}

	// Power
	lines = append(lines, p.row("Power", telemetry.FormatWatts(p.Panels.PowerWatts)))
	lines = append(lines, "  "+t.RenderGauge(barWidth, p.Panels.PowerFraction())+
		t.StatsLabel.Render(" max "+telemetry.FormatWatts(p.Panels.PowerMaxWatts)))

	// CPU
	used := min(max(p.Panels.CPUUsed, 0), 100)
	lines = append(lines, p.row("CPU used", telemetry.FormatPercent(used)))
	lines = append(lines, "  "+t.StepDone.Render(styles.RenderProgressBar(barWidth, used))+
		t.StatsLabel.Render(" idle "+telemetry.FormatPercent(p.Panels.CPUIdle)))

	// Throughput
	lines = append(lines, p.row("Throughput", telemetry.FormatTokens(p.Panels.Throughput)))
	if len(p.Panels.History) > 0 {
		lines = append(lines, "  "+t.Sparkline.Render(telemetry.Sparkline(p.Panels.History, barWidth)))
	}

	if p.Hardware {
		lines = append(lines, "")
		lines = append(lines, p.renderHardware(inner)...)
	}

	lines = append(lines, p.footer())
	return strings.Join(lines, "\n")
}

func (p *TelemetryPanel) renderCompact() string {
	t := p.theme
	parts := []string{
		t.StatsLabel.Render("pwr ") + t.StatsValue.Render(telemetry.FormatWatts(p.Panels.PowerWatts)),
		t.StatsLabel.Render("cpu ") + t.StatsValue.Render(telemetry.FormatPercent(p.Panels.CPUUsed)),
		t.StatsLabel.Render("tps ") + t.StatsValue.Render(telemetry.FormatTokens(p.Panels.Throughput)),
	}
	if p.Panels.Err != nil {
		parts = append(parts, t.WarningStyle.Render(styles.StatusIndicators.Warning))
	}
	return strings.Join(parts, "  ")
}

func (p *TelemetryPanel) row(label, value string) string {
	return p.theme.StatsLabel.Render(util.PadRight(label, 12)) + p.theme.StatsValue.Render(value)
}

func (p *TelemetryPanel) renderHardware(width int) []string {
	t := p.theme
	rows := p.Panels.Hardware.Rows()

	keyWidth := 0
	for _, r := range rows {
		keyWidth = max(keyWidth, util.StringWidth(r[0]))
	}
	out := []string{t.Label.Render("Hardware")}
	for _, r := range rows {
		val := util.TruncateWidth(r[1], max(width-keyWidth-3, 4))
		out = append(out, "  "+t.StatsLabel.Render(util.PadRight(r[0], keyWidth+1))+t.StatsValue.Render(val))
	}
	return out
}

func (p *TelemetryPanel) footer() string {
	t := p.theme
	if p.Panels.Err != nil {
		return t.WarningStyle.Render(styles.StatusIndicators.Warning + " " + util.TruncateRunes(p.Panels.Err.Error(), 48))
	}
	age := p.now().Sub(p.Panels.UpdatedAt)
	return t.StatsLabel.Render("updated " + formatDuration(age) + " ago")
}
