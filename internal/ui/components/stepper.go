// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/stages"
	"github.com/jeranaias/billdash/internal/ui/styles"
	"github.com/jeranaias/billdash/internal/util"
)

// =============================================================================
// STAGE STEPPER COMPONENT
// =============================================================================

// StepStatus is how one stage is drawn.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepActive
	StepDone
)

// Stepper renders the pipeline stages with completed, active and pending
// markers, the active stage's detail text and overall progress.
type Stepper struct {
	Stages    []stages.Stage
	Completed stages.Set
	Active    int
	State     poller.State
	TimedOut  bool
	StartedAt time.Time

	// Frame is the spinner frame drawn next to the active stage.
	Frame string

	// Display settings
	Width   int
	Compact bool

	now   func() time.Time
	theme *styles.Theme
}

// NewStepper creates a stepper for table.
func NewStepper(theme *styles.Theme, table *stages.Table) *Stepper {
	s := &Stepper{
		Completed: stages.Set{},
		Width:     48,
		now:       time.Now,
		theme:     theme,
	}
	if table != nil {
		s.Stages = table.Stages()
	}
	return s
}

// SetTheme swaps the theme after a live reload.
func (s *Stepper) SetTheme(theme *styles.Theme) { s.theme = theme }

// Apply copies the progress fields of a session snapshot.
func (s *Stepper) Apply(snap poller.Snapshot) {
	s.Completed = stages.NewSet(snap.Completed...)
	s.Active = snap.Active
	s.State = snap.State
	s.TimedOut = snap.TimedOut
	s.StartedAt = snap.StartedAt
}

// StatusOf reports how stage i is drawn. Only an in-flight job has an
// active stage.
func (s *Stepper) StatusOf(i int) StepStatus {
	if s.Completed.Has(i) {
		return StepDone
	}
	if s.running() && i == s.Active {
		return StepActive
	}
	return StepPending
}

// Percent is the share of completed stages, 0-100.
func (s *Stepper) Percent() float64 {
	if len(s.Stages) == 0 {
		return 0
	}
	done := 0
	for i := range s.Stages {
		if s.Completed.Has(i) {
			done++
		}
	}
	return float64(done) / float64(len(s.Stages)) * 100
}

func (s *Stepper) running() bool {
	return s.State == poller.StateAwaitingWorkers || s.State == poller.StatePollingStatus
}

func (s *Stepper) elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.now().Sub(s.StartedAt)
}

// =============================================================================
// RENDERING
// =============================================================================

// View renders the stepper.
func (s *Stepper) View() string {
	if s.Compact || s.Width < 30 {
		return s.renderCompact()
	}
	return s.renderFull()
}

func (s *Stepper) renderFull() string {
	t := s.theme
	inner := max(s.Width-4, 20)

	var lines []string
	lines = append(lines, t.PanelTitle.Render("Pipeline")+"  "+t.StepElapsed.Render(s.counter()))

	for i, st := range s.Stages {
		status := s.StatusOf(i)
		label := util.TruncateWidth(st.Name, inner-6)
		line := s.icon(status) + " " + s.styleFor(status).Render(label)
		lines = append(lines, line)

		if status == StepActive && st.Detail != "" {
			detail := util.TruncateWidth(st.Detail, inner-6)
			lines = append(lines, t.StepDetail.Render(detail))
		}
	}

	lines = append(lines, "")
	bar := styles.RenderProgressBar(max(inner-6, 10), s.Percent())
	lines = append(lines, t.StepDone.Render(bar)+" "+t.StatsValue.Render(fmt.Sprintf("%3.0f%%", s.Percent())))
	lines = append(lines, s.renderTimeLine())

	return lipgloss.NewStyle().Width(inner).Render(strings.Join(lines, "\n"))
}

// renderCompact renders a single line:
// [2/5] Legal and Compliance Agent | 1m04s | 40%
func (s *Stepper) renderCompact() string {
	t := s.theme
	parts := []string{t.StepActive.Render(s.counter())}

	switch {
	case s.State == poller.StateAllComplete:
		parts = append(parts, t.SuccessStyle.Render("complete"))
	case s.running() && s.Active >= 0 && s.Active < len(s.Stages):
		parts = append(parts, t.StepActive.Render(util.TruncateWidth(s.Stages[s.Active].Name, 28)))
	default:
		parts = append(parts, t.StepPending.Render("idle"))
	}

	if d := s.elapsed(); d > 0 {
		parts = append(parts, t.StepElapsed.Render(formatDuration(d)))
	}
	parts = append(parts, fmt.Sprintf("%.0f%%", s.Percent()))

	sep := lipgloss.NewStyle().Foreground(styles.Overlay).Render(" | ")
	return strings.Join(parts, sep)
}

func (s *Stepper) renderTimeLine() string {
	t := s.theme
	switch {
	case s.TimedOut:
		return t.WarningStyle.Render(styles.StatusIndicators.Warning + " stopped: no progress before timeout")
	case s.State == poller.StateAllComplete:
		return t.SuccessStyle.Render(styles.StatusIndicators.Success+" all stages complete") +
			t.StepElapsed.Render(" in "+formatDuration(s.elapsed()))
	case s.running():
		return t.StatsLabel.Render("Elapsed: ") + t.StepElapsed.Render(formatDuration(s.elapsed()))
	default:
		return t.Placeholder.Render("Select a bill and submit to start")
	}
}

func (s *Stepper) counter() string {
	done := 0
	for i := range s.Stages {
		if s.Completed.Has(i) {
			done++
		}
	}
	return fmt.Sprintf("[%d/%d]", done, len(s.Stages))
}

func (s *Stepper) icon(status StepStatus) string {
	t := s.theme
	switch status {
	case StepDone:
		return t.StepDone.Render(styles.StatusIndicators.Success)
	case StepActive:
		frame := s.Frame
		if frame == "" {
			frame = "*"
		}
		return t.StepActive.Render("[" + frame + "]")
	default:
		return t.StepPending.Render(styles.StatusIndicators.Pending)
	}
}

func (s *Stepper) styleFor(status StepStatus) lipgloss.Style {
	switch status {
	case StepDone:
		return s.theme.StepDone
	case StepActive:
		return s.theme.StepActive
	default:
		return s.theme.StepPending
	}
}
