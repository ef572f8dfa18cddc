// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/billdash/internal/ui/components"
	"github.com/jeranaias/billdash/internal/ui/styles"
	"github.com/jeranaias/billdash/internal/util"
)

// =============================================================================
// LAYOUT
// =============================================================================

// Side column width in wide and medium layouts.
const sideWidth = 46

// layout recomputes component sizes from the window size.
//
//	wide:   [controls | stepper | telemetry] [report]
//	medium: [controls | stepper] [report], telemetry as one line
//	narrow: everything stacked, compact stepper, no telemetry
func (m *Model) layout() {
	m.theme.SetSize(m.width, m.height)
	mode := m.theme.GetLayoutMode()

	m.header.Width = m.width
	m.statusBar.Width = m.width
	m.help.Width = m.width

	body := max(m.bodyHeight(), 6)
	switch mode {
	case styles.LayoutNarrow:
		m.stepper.Compact = true
		m.stepper.Width = m.width
		m.telemetry.Compact = true
		m.report.SetSize(m.width-4, max(body-8, 3))
	case styles.LayoutMedium:
		m.stepper.Compact = m.cfg.UI.Compact
		m.stepper.Width = sideWidth
		m.telemetry.Compact = true
		m.report.SetSize(m.width-sideWidth-4, max(body-4, 3))
	default:
		m.stepper.Compact = m.cfg.UI.Compact
		m.stepper.Width = sideWidth
		m.telemetry.Compact = false
		m.telemetry.Width = sideWidth
		m.report.SetSize(m.width-sideWidth-4, max(body-3, 3))
	}
	m.picker.Height = max(body-6, 4)
}

func (m *Model) bodyHeight() int {
	chrome := 2 // header + status bar
	chrome += lipgloss.Height(m.help.View(m.keys))
	if m.theme.GetLayoutMode() == styles.LayoutMedium {
		chrome++ // telemetry line
	}
	return m.height - chrome
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the dashboard.
func (m Model) View() string {
	mode := m.theme.GetLayoutMode()
	body := max(m.bodyHeight(), 6)

	var main string
	switch mode {
	case styles.LayoutNarrow:
		main = m.viewNarrow(body)
	default:
		main = m.viewColumns(mode, body)
	}

	sections := []string{m.header.View(), main}
	if mode == styles.LayoutMedium && m.telemetry.Enabled {
		sections = append(sections, " "+m.telemetry.View())
	}
	sections = append(sections, m.statusBar.View(), m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) viewColumns(mode styles.LayoutMode, body int) string {
	side := []string{m.viewControls(), "", m.stepper.View()}
	if mode == styles.LayoutWide {
		side = append(side, "", m.telemetry.View())
	}
	if toasts := m.viewToasts(sideWidth); toasts != "" {
		side = append(side, "", toasts)
	}
	left := lipgloss.NewStyle().
		PaddingLeft(1).
		Width(sideWidth).
		Height(body).
		MaxHeight(body).
		Render(strings.Join(side, "\n"))

	rightWidth := max(m.width-sideWidth-1, 20)
	var right string
	if m.focus == focusPicker {
		right = m.viewPicker(rightWidth, body)
	} else {
		right = m.viewReport(rightWidth, body)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func (m Model) viewNarrow(body int) string {
	parts := []string{m.viewControls(), m.stepper.View()}
	if toasts := m.viewToasts(m.width); toasts != "" {
		parts = append(parts, toasts)
	}
	if m.focus == focusPicker {
		parts = append(parts, m.viewPicker(m.width, max(body-6, 6)))
	} else {
		parts = append(parts, m.viewReport(m.width, max(body-6, 5)))
	}
	return lipgloss.NewStyle().MaxHeight(body).Render(strings.Join(parts, "\n"))
}

// viewControls shows the bill, replica input and the submit and export
// buttons. Export is drawn disabled while there is no report.
func (m Model) viewControls() string {
	t := m.theme

	bill := t.Placeholder.Render("no bill selected (o)")
	if m.selected != "" {
		bill = t.FilePath.Render(util.TruncateWidth(filepath.Base(m.selected), sideWidth-10))
	}

	replicaStyle := t.Label
	if m.focus == focusReplicas {
		replicaStyle = t.ShortcutKey
	}
	replicas := replicaStyle.Render("Replicas ") + m.replicas.View()

	submit := t.ButtonDisabled.Render("Submit")
	if m.CanSubmit() {
		submit = t.Button.Render("Submit")
	}
	if m.submitting {
		submit = t.ButtonDisabled.Render("Uploading...")
	}

	var exportBtn string
	switch {
	case m.exporting:
		exportBtn = t.ButtonDisabled.Render("Exporting " + m.format + "...")
	case m.CanExport():
		exportBtn = t.Button.Render("Export " + m.format)
	default:
		exportBtn = t.ButtonDisabled.Render("Export")
	}

	lines := []string{
		t.PanelTitle.Render("Bill"),
		t.Label.Render("File     ") + bill,
		replicas,
		submit + " " + exportBtn,
	}
	if m.spinner.IsActive() {
		lines = append(lines, m.spinner.View())
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewReport(width, height int) string {
	t := m.theme
	title := t.PanelTitle.Render("Report")
	if !m.report.Empty() {
		title += t.StatsLabel.Render("  " + scrollLabel(m.report.ScrollPercent()))
	}
	return t.Panel.
		Width(width - 2).
		Height(max(height-2, 1)).
		Render(title + "\n" + m.report.View())
}

func (m Model) viewPicker(width, height int) string {
	t := m.theme
	title := t.PanelTitle.Render("Select bill (PDF)") + t.StatsLabel.Render("  esc to cancel")
	dir := t.StatsLabel.Render(util.TruncateWidth(m.picker.CurrentDirectory, max(width-6, 10)))
	return t.PanelFocused.
		Width(width - 2).
		Height(max(height-2, 1)).
		Render(title + "\n" + dir + "\n\n" + m.picker.View())
}

func (m Model) viewToasts(width int) string {
	return components.RenderToastStack(m.toasts.Toasts(), width, time.Now())
}

func scrollLabel(p float64) string {
	switch {
	case p <= 0:
		return "top"
	case p >= 1:
		return "end"
	default:
		return fmt.Sprintf("%d%%", int(p*100+0.5))
	}
}
