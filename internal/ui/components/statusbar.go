// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/ui/styles"
	"github.com/jeranaias/billdash/internal/util"
)

// =============================================================================
// STATUS BAR COMPONENT
// =============================================================================

// StatusBar is the bottom line: session state, the latest poll error and
// the export state.
type StatusBar struct {
	State     poller.State
	LastError string
	Exporting bool
	CanExport bool
	Format    string
	Message   string
	Width     int

	theme *styles.Theme
}

// NewStatusBar creates a status bar.
func NewStatusBar(theme *styles.Theme) *StatusBar {
	return &StatusBar{Width: 80, Format: "pdf", theme: theme}
}

// SetTheme swaps the theme after a live reload.
func (s *StatusBar) SetTheme(theme *styles.Theme) { s.theme = theme }

// View renders the status bar.
func (s *StatusBar) View() string {
	t := s.theme
	width := max(s.Width, 20)

	left := t.ShortcutKey.Render(stateIndicator(s.State)) + " " + t.ShortcutDesc.Render(StateLabel(s.State))

	var right string
	switch {
	case s.Exporting:
		right = t.InfoStyle.Render("exporting " + s.Format + "...")
	case s.CanExport:
		right = t.SuccessStyle.Render("report ready") + t.ShortcutDesc.Render(" · export "+s.Format)
	default:
		right = t.ShortcutDesc.Render("no report yet")
	}

	var middle string
	switch {
	case s.LastError != "":
		middle = t.WarningStyle.Render(styles.StatusIndicators.Warning + " " + s.LastError)
	case s.Message != "":
		middle = t.MutedStyle.Render(s.Message)
	}

	room := width - lipgloss.Width(left) - lipgloss.Width(right) - 6
	if middle != "" && room > 8 {
		plain := s.LastError
		if plain == "" {
			plain = s.Message
		}
		if util.StringWidth(plain)+4 > room {
			plain = util.TruncateWidth(plain, room-4)
			if s.LastError != "" {
				middle = t.WarningStyle.Render(styles.StatusIndicators.Warning + " " + plain)
			} else {
				middle = t.MutedStyle.Render(plain)
			}
		}
		left += "  " + middle
	}

	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return t.StatusBar.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}
