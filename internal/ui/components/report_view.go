// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/billdash/internal/ui/styles"
)

// =============================================================================
// REPORT VIEW COMPONENT
// =============================================================================

// ReportView shows the assembled report markdown, rendered with glamour, in
// a scrollable viewport. While the user has not scrolled up it follows new
// content to the bottom.
type ReportView struct {
	viewport viewport.Model
	renderer *glamour.TermRenderer
	style    string
	wrap     int

	markdown string
	rendered string
	follow   bool

	theme *styles.Theme
}

// NewReportView creates a report view of the given size.
func NewReportView(theme *styles.Theme, width, height int) *ReportView {
	r := &ReportView{
		viewport: viewport.New(max(width, 1), max(height, 1)),
		style:    theme.GlamourStyle(),
		follow:   true,
		theme:    theme,
	}
	r.viewport.SetContent(r.placeholder())
	return r
}

// SetTheme switches the glamour style and re-renders.
func (r *ReportView) SetTheme(theme *styles.Theme) {
	r.theme = theme
	if style := theme.GlamourStyle(); style != r.style {
		r.style = style
		r.renderer = nil
		r.render()
	}
}

// SetSize resizes the viewport. A new width re-wraps the report.
func (r *ReportView) SetSize(width, height int) {
	r.viewport.Width = max(width, 1)
	r.viewport.Height = max(height, 1)
	if wrap := max(width-2, 20); wrap != r.wrap {
		r.wrap = wrap
		r.renderer = nil
		r.render()
	}
}

// SetMarkdown replaces the report text. Unchanged text is not re-rendered.
func (r *ReportView) SetMarkdown(md string) {
	if md == r.markdown {
		return
	}
	r.markdown = md
	r.render()
}

// Markdown returns the current report text.
func (r *ReportView) Markdown() string { return r.markdown }

// Empty reports whether there is anything to show.
func (r *ReportView) Empty() bool { return strings.TrimSpace(r.markdown) == "" }

// ScrollPercent is the viewport position, 0-1.
func (r *ReportView) ScrollPercent() float64 { return r.viewport.ScrollPercent() }

// Update forwards scroll keys and mouse wheel events to the viewport.
func (r *ReportView) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	r.viewport, cmd = r.viewport.Update(msg)
	r.follow = r.viewport.AtBottom()
	return cmd
}

// View renders the viewport.
func (r *ReportView) View() string { return r.viewport.View() }

func (r *ReportView) render() {
	if r.Empty() {
		r.rendered = ""
		r.viewport.SetContent(r.placeholder())
		r.viewport.GotoTop()
		r.follow = true
		return
	}

	out, err := r.renderMarkdown(r.markdown)
	if err != nil {
		out = r.markdown
	}
	r.rendered = out
	r.viewport.SetContent(out)
	if r.follow {
		r.viewport.GotoBottom()
	}
}

func (r *ReportView) renderMarkdown(md string) (string, error) {
	if r.renderer == nil {
		wrap := r.wrap
		if wrap <= 0 {
			wrap = max(r.viewport.Width-2, 20)
		}
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(wrap),
		)
		if err != nil {
			return "", err
		}
		r.renderer = renderer
	}
	return r.renderer.Render(md)
}

func (r *ReportView) placeholder() string {
	return r.theme.Placeholder.Render("The report appears here as each analysis stage completes.")
}
