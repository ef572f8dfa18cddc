// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "strings"

// =============================================================================
// PROGRESS INDICATORS
// =============================================================================

// Gauge characters. Partials refine the last cell in eighths.
var (
	ProgressFull    = "█"
	ProgressEmpty   = "░"
	ProgressPartial = []string{"▏", "▎", "▍", "▌", "▋", "▊", "▉"}
)

// RenderProgressBar creates a bar string of exactly width cells.
// percent is clamped to 0-100.
func RenderProgressBar(width int, percent float64) string {
	filled, empty := progressCells(width, percent)
	return filled + empty
}

// RenderGauge is RenderProgressBar with the filled and empty parts styled
// by the theme.
func (t *Theme) RenderGauge(width int, fraction float64) string {
	filled, empty := progressCells(width, fraction*100)
	return t.GaugeFill.Render(filled) + t.GaugeEmpty.Render(empty)
}

func progressCells(width int, percent float64) (string, string) {
	if width <= 0 {
		return "", ""
	}
	percent = min(max(percent, 0), 100)

	filledWidth := float64(width) * percent / 100
	fullBlocks := int(filledWidth)
	partialIndex := int((filledWidth - float64(fullBlocks)) * float64(len(ProgressPartial)+1))

	var filled strings.Builder
	filled.Grow(width * 3)
	for i := 0; i < fullBlocks && i < width; i++ {
		filled.WriteString(ProgressFull)
	}
	if fullBlocks < width && partialIndex > 0 {
		filled.WriteString(ProgressPartial[partialIndex-1])
		fullBlocks++
	}
	return filled.String(), strings.Repeat(ProgressEmpty, max(width-fullBlocks, 0))
}
