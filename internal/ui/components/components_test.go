// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/stages"
	"github.com/jeranaias/billdash/internal/telemetry"
	"github.com/jeranaias/billdash/internal/ui/styles"
)

func testTheme() *styles.Theme { return styles.NewTheme(styles.ModeDark) }

// =============================================================================
// STEPPER
// =============================================================================

func TestStepperStatusOf(t *testing.T) {
	s := NewStepper(testTheme(), stages.Default())
	s.Apply(poller.Snapshot{
		State:     poller.StatePollingStatus,
		Completed: []int{0, 1, 3},
		Active:    2,
	})

	assert.Equal(t, StepDone, s.StatusOf(0))
	assert.Equal(t, StepDone, s.StatusOf(1))
	assert.Equal(t, StepActive, s.StatusOf(2))
	assert.Equal(t, StepDone, s.StatusOf(3))
	assert.Equal(t, StepPending, s.StatusOf(4))
	assert.InDelta(t, 60.0, s.Percent(), 0.001)
}

func TestStepperIdleHasNoActiveStage(t *testing.T) {
	s := NewStepper(testTheme(), stages.Default())
	s.Apply(poller.Snapshot{State: poller.StateIdle})

	for i := range s.Stages {
		assert.Equal(t, StepPending, s.StatusOf(i))
	}
	assert.Contains(t, s.View(), "Select a bill")
}

func TestStepperViewShowsActiveDetail(t *testing.T) {
	table := stages.Default()
	s := NewStepper(testTheme(), table)
	s.Width = 80
	s.Frame = "/"
	s.Apply(poller.Snapshot{State: poller.StatePollingStatus, Completed: []int{0}, Active: 1})

	view := s.View()
	active, _ := table.Stage(1)
	assert.Contains(t, view, active.Name)
	if active.Detail != "" {
		assert.Contains(t, view, firstWords(active.Detail, 3))
	}
	assert.Contains(t, view, "[/]")
	assert.Contains(t, view, "[1/5]")
}

func TestStepperCompleteAndTimeout(t *testing.T) {
	s := NewStepper(testTheme(), stages.Default())
	s.Width = 80
	s.now = func() time.Time { return time.Unix(100, 0) }
	s.Apply(poller.Snapshot{
		State:     poller.StateAllComplete,
		Completed: []int{0, 1, 2, 3, 4},
		StartedAt: time.Unix(25, 0),
	})
	assert.Contains(t, s.View(), "all stages complete")
	assert.Contains(t, s.View(), "1m15s")

	s.Apply(poller.Snapshot{State: poller.StateAllComplete, Completed: []int{0}, TimedOut: true})
	assert.Contains(t, s.View(), "timeout")
}

func TestStepperCompact(t *testing.T) {
	s := NewStepper(testTheme(), stages.Default())
	s.Compact = true
	s.Apply(poller.Snapshot{State: poller.StatePollingStatus, Completed: []int{0}, Active: 1})

	view := s.View()
	assert.NotContains(t, view, "\n")
	assert.Contains(t, view, "[1/5]")
	assert.Contains(t, view, "20%")
}

func TestStepperTruncatesLongNames(t *testing.T) {
	table, err := stages.NewTable([]stages.Def{
		{Name: strings.Repeat("Very Long Stage Name ", 8), OutputKey: "a-1"},
	})
	require.NoError(t, err)

	s := NewStepper(testTheme(), table)
	s.Width = 40
	for _, line := range strings.Split(s.View(), "\n") {
		assert.LessOrEqual(t, lipgloss.Width(line), 40, line)
	}
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

// =============================================================================
// TELEMETRY PANEL
// =============================================================================

func TestTelemetryPanelView(t *testing.T) {
	p := NewTelemetryPanel(testTheme())
	p.Width = 60
	p.now = func() time.Time { return time.Unix(110, 0) }
	p.Panels = telemetry.Panels{
		PowerWatts:    1150,
		PowerMaxWatts: 1400,
		CPUUsed:       42.5,
		CPUIdle:       57.5,
		Throughput:    388.2,
		History:       []float64{300, 350, 388.2},
		Hardware:      telemetry.DefaultHardware(),
		UpdatedAt:     time.Unix(100, 0),
	}

	view := p.View()
	assert.Contains(t, view, "1,150 W")
	assert.Contains(t, view, "42.5%")
	assert.Contains(t, view, "388.2 tok/s")
	assert.Contains(t, view, "CPU cores")
	assert.Contains(t, view, "updated 10s ago")
}

func TestTelemetryPanelStates(t *testing.T) {
	p := NewTelemetryPanel(testTheme())
	assert.Contains(t, p.View(), "waiting for metrics")

	p.Panels = telemetry.Panels{Err: errors.New("connection refused")}
	assert.Contains(t, p.View(), "connection refused")

	p.Enabled = false
	assert.Contains(t, p.View(), "disabled")
}

func TestTelemetryPanelCompact(t *testing.T) {
	p := NewTelemetryPanel(testTheme())
	p.Compact = true
	p.Panels = telemetry.Panels{PowerWatts: 900, CPUUsed: 10, Throughput: 5, UpdatedAt: time.Now()}

	view := p.View()
	assert.NotContains(t, view, "\n")
	assert.Contains(t, view, "900 W")
}

// =============================================================================
// HEADER AND STATUS BAR
// =============================================================================

func TestHeaderView(t *testing.T) {
	h := NewHeader(testTheme())
	h.Width = 100
	h.Apply(poller.Snapshot{
		State:    poller.StatePollingStatus,
		BillName: "sb-204.pdf",
		JobID:    "0f5c3a1e-5b7e-4a61-9b0e-2f0c1d2e3f4a",
		Replicas: 3,
	})

	view := h.View()
	assert.Contains(t, view, "billdash")
	assert.Contains(t, view, "sb-204.pdf")
	assert.Contains(t, view, "job 0f5c3a1e")
	assert.NotContains(t, view, "5b7e")
	assert.Contains(t, view, "Analyzing")
	assert.Equal(t, 100, lipgloss.Width(view))
}

func TestStatusBarExportState(t *testing.T) {
	s := NewStatusBar(testTheme())
	s.Width = 100
	assert.Contains(t, s.View(), "no report yet")

	s.CanExport = true
	assert.Contains(t, s.View(), "report ready")

	s.Exporting = true
	assert.Contains(t, s.View(), "exporting pdf")

	s.LastError = "get_status: connection reset"
	assert.Contains(t, s.View(), "connection reset")
}

// =============================================================================
// TOASTS
// =============================================================================

func TestToastManager(t *testing.T) {
	m := NewToastManager()
	assert.False(t, m.HasToasts())

	id1 := m.AddError("export failed")
	m.AddSuccess("saved legislativeReport.pdf")
	require.Len(t, m.Toasts(), 2)
	assert.Equal(t, "saved legislativeReport.pdf", m.Toasts()[0].Message)

	m.Remove(id1)
	require.Len(t, m.Toasts(), 1)

	m.Clear()
	assert.False(t, m.HasToasts())
}

func TestToastManagerTickExpires(t *testing.T) {
	m := NewToastManager()
	m.AddStatus("short")
	m.AddError("long")

	now := time.Now()
	assert.Len(t, m.Tick(now), 2)
	left := m.Tick(now.Add(DefaultToastDuration + time.Millisecond))
	require.Len(t, left, 1)
	assert.Equal(t, ToastKindError, left[0].Kind)
	assert.Empty(t, m.Tick(now.Add(ErrorToastDuration+time.Millisecond)))
}

func TestToastManagerCapsVisible(t *testing.T) {
	m := NewToastManager()
	for i := 0; i < 10; i++ {
		m.AddStatus("notice")
	}
	assert.Len(t, m.Toasts(), 4)
}

func TestRenderToastStack(t *testing.T) {
	now := time.Now()
	toasts := []Toast{NewSuccessToast("exported to /tmp/legislativeReport.pdf")}
	view := RenderToastStack(toasts, 80, now)
	assert.Contains(t, view, styles.StatusIndicators.Success)
	assert.Contains(t, view, "legislativeReport.pdf")
	assert.Empty(t, RenderToastStack(nil, 80, now))
}

func TestWrapToastText(t *testing.T) {
	assert.Equal(t, "one two\nthree", wrapToastText("one two three", 8))
	assert.Equal(t, "", wrapToastText("", 8))
}

// =============================================================================
// REPORT VIEW
// =============================================================================

func TestReportViewRendersMarkdown(t *testing.T) {
	r := NewReportView(testTheme(), 80, 20)
	assert.True(t, r.Empty())
	assert.Contains(t, r.View(), "report appears here")

	r.SetMarkdown("# sb-204\n\nA bill about water rights.\n")
	assert.False(t, r.Empty())
	assert.Contains(t, r.View(), "sb-204")
	assert.Contains(t, r.View(), "water rights")

	r.SetMarkdown("")
	assert.True(t, r.Empty())
}

func TestReportViewFollowsNewContent(t *testing.T) {
	r := NewReportView(testTheme(), 60, 5)
	var md strings.Builder
	for i := 0; i < 40; i++ {
		md.WriteString("- finding line\n")
	}
	md.WriteString("\nlast paragraph marker\n")
	r.SetMarkdown(md.String())
	assert.Contains(t, r.View(), "marker")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(-time.Second))
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "3m07s", formatDuration(187*time.Second))
	assert.Equal(t, "1h02m", formatDuration(62*time.Minute))
}
