// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/billdash/internal/ui/styles"
)

// =============================================================================
// SPINNER MODEL
// =============================================================================

// Spinner wraps the bubbles spinner with a message and an elapsed timer.
// It only consumes ticks while active, so a stopped spinner lets its tick
// chain die out.
type Spinner struct {
	spinner   spinner.Model
	message   string
	startTime time.Time
	isActive  bool
	showTimer bool
}

// NewSpinner creates an ASCII line spinner.
func NewSpinner(message string) Spinner {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	return Spinner{spinner: s, message: message, showTimer: true}
}

// SetMessage sets the text displayed next to the spinner.
func (s *Spinner) SetMessage(msg string) { s.message = msg }

// SetShowTimer enables or disables the elapsed time display.
func (s *Spinner) SetShowTimer(show bool) { s.showTimer = show }

// Start activates the spinner. It returns the first tick when the spinner
// was not already running.
func (s *Spinner) Start() tea.Cmd {
	if s.isActive {
		return nil
	}
	s.isActive = true
	s.startTime = time.Now()
	return s.spinner.Tick
}

// Stop deactivates the spinner.
func (s *Spinner) Stop() { s.isActive = false }

// IsActive returns whether the spinner is running.
func (s *Spinner) IsActive() bool { return s.isActive }

// Frame is the current unstyled frame.
func (s Spinner) Frame() string { return s.spinner.View() }

// Update handles spinner ticks.
func (s Spinner) Update(msg tea.Msg) (Spinner, tea.Cmd) {
	if !s.isActive {
		return s, nil
	}
	var cmd tea.Cmd
	s.spinner, cmd = s.spinner.Update(msg)
	return s, cmd
}

// View renders the frame, message and elapsed time.
func (s Spinner) View() string {
	if !s.isActive {
		return ""
	}
	out := lipgloss.NewStyle().Foreground(styles.Purple).Render(s.spinner.View())
	if s.message != "" {
		out += " " + lipgloss.NewStyle().Foreground(styles.TextSecondary).Render(s.message)
	}
	if s.showTimer {
		out += " " + lipgloss.NewStyle().Foreground(styles.TextMuted).Render(formatDuration(time.Since(s.startTime)))
	}
	return out
}
