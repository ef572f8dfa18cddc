// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/ui/components"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update handles all messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m, m.report.Update(msg)

	case SnapshotMsg:
		return m.handleSnapshot(msg.Snapshot)

	case PanelsMsg:
		m.applyPanels(msg.Panels)
		return m, nil

	case ConfigMsg:
		return m.handleConfig(msg)

	case submitResultMsg:
		m.submitting = false
		if msg.err != nil {
			m.log.Warn("submit failed", zap.Error(msg.err))
			cmds = append(cmds, m.toast(components.ErrorToastFor("Submit failed: ", msg.err)))
		}
		m.apply(m.opts.Session.Snapshot())
		return m, tea.Batch(cmds...)

	case exportResultMsg:
		m.exporting = false
		if msg.err != nil {
			m.log.Warn("export failed", zap.String("format", msg.format), zap.Error(msg.err))
			cmds = append(cmds, m.toast(components.ErrorToastFor("Export failed: ", msg.err)))
		} else {
			cmds = append(cmds, m.toast(components.NewSuccessToast("Saved "+msg.path)))
		}
		m.syncBindings()
		return m, tea.Batch(cmds...)

	case components.ToastTickMsg:
		m.toasts.Tick(msg.Time)
		if m.toasts.HasToasts() {
			return m, components.ToastTickCmd()
		}
		m.toastTicker = false
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.stepper.Frame = m.spinner.Frame()
		return m, cmd
	}

	// Everything else (directory reads, cursor blinks) goes to the widgets.
	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	cmds = append(cmds, cmd)
	m.replicas, cmd = m.replicas.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.focus {
	case focusPicker:
		return m.handlePickerKey(msg)
	case focusReplicas:
		return m.handleReplicasKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
		return m, nil

	case key.Matches(msg, m.keys.Open):
		if m.snap.InFlight() {
			tc := m.toast(components.NewWarningToast("A job is already running"))
			return m, tc
		}
		m.focus = focusPicker
		return m, m.picker.Init()

	case key.Matches(msg, m.keys.Replicas):
		m.focus = focusReplicas
		focusCmd := m.replicas.Focus()
		return m, focusCmd

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.Export):
		return m.startExport()

	case key.Matches(msg, m.keys.Format):
		m.format = nextFormat(m.format)
		m.syncBindings()
		return m, nil

	case key.Matches(msg, m.keys.Reset):
		return m.reset()
	}

	// Scrolling keys fall through to the report viewport.
	return m, m.report.Update(msg)
}

func (m Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Back) {
		m.focus = focusMain
		return m, nil
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)

	if ok, path := m.picker.DidSelectFile(msg); ok {
		m.selected = path
		m.focus = focusReplicas
		m.syncBindings()
		focusCmd := m.replicas.Focus()
		return m, tea.Batch(cmd, focusCmd)
	}
	if ok, path := m.picker.DidSelectDisabledFile(msg); ok {
		tc := m.toast(components.NewWarningToast(filepath.Base(path) + " is not a PDF"))
		return m, tea.Batch(cmd, tc)
	}
	return m, cmd
}

func (m Model) handleReplicasKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Replicas):
		m.replicas.Blur()
		m.focus = focusMain
		m.syncBindings()
		return m, nil
	case msg.Type == tea.KeyEnter:
		m.replicas.Blur()
		m.focus = focusMain
		m.syncBindings()
		return m.submit()
	}

	var cmd tea.Cmd
	m.replicas, cmd = m.replicas.Update(msg)
	m.syncBindings()
	return m, cmd
}

// =============================================================================
// ACTIONS
// =============================================================================

// submit uploads the selected bill. Rejected while a job is in flight.
func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.snap.InFlight() || m.submitting {
		tc := m.toast(components.NewWarningToast("A job is already running"))
		return m, tc
	}
	if m.selected == "" {
		tc := m.toast(components.NewWarningToast("Select a bill first (o)"))
		return m, tc
	}
	n, err := m.replicaCount()
	if err != nil {
		tc := m.toast(components.NewWarningToast("Replicas must be between 0 and 100"))
		return m, tc
	}

	m.submitting = true
	m.syncBindings()

	sess, ctx := m.opts.Session, m.ctx
	req := poller.SubmitRequest{Path: m.selected, Replicas: n}
	m.log.Info("submitting bill", zap.String("path", req.Path), zap.Int("replicas", n))

	submitCmd := func() tea.Msg {
		return submitResultMsg{err: sess.Submit(ctx, req)}
	}
	spin := m.spinner.Start()
	return m, tea.Batch(submitCmd, spin)
}

// startExport writes the report in the current format. Does nothing when
// there is no report or an export is already running.
func (m Model) startExport() (tea.Model, tea.Cmd) {
	if !m.CanExport() || m.opts.Exports == nil {
		return m, nil
	}
	exporter, err := m.cfg.Exporter(m.format)
	if err != nil {
		tc := m.toast(components.NewErrorToast(err.Error()))
		return m, tc
	}

	m.exporting = true
	m.syncBindings()

	doc := m.document()
	svc, final, ctx := m.opts.Exports, m.opts.Final, m.ctx
	finalKey := m.opts.Session.Stages().FinalKey()
	format := m.format

	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		path, err := svc.Export(ctx, doc, exporter, final, finalKey)
		return exportResultMsg{path: path, format: format, err: err}
	}
}

func (m Model) document() *export.Document {
	doc := &export.Document{
		BillName:    m.snap.BillName,
		JobID:       m.snap.JobID,
		RunID:       m.snap.RunID,
		Replicas:    m.snap.Replicas,
		Markdown:    m.report.Markdown(),
		GeneratedAt: time.Now(),
	}
	if m.opts.Fragments != nil {
		doc.Fragments = m.opts.Fragments.Fragments()
	}
	return doc
}

// reset stops polling and clears the report and selection.
func (m Model) reset() (tea.Model, tea.Cmd) {
	m.opts.Session.Reset()
	m.selected = ""
	m.submitting = false
	m.spinner.Stop()
	m.stepper.Frame = ""
	m.apply(m.opts.Session.Snapshot())
	tc := m.toast(components.NewStatusToast("Session reset"))
	return m, tc
}

// =============================================================================
// EXTERNAL EVENTS
// =============================================================================

func (m Model) handleSnapshot(snap poller.Snapshot) (tea.Model, tea.Cmd) {
	prev := m.snap
	m.apply(snap)

	var cmds []tea.Cmd
	if snap.InFlight() {
		cmds = append(cmds, m.spinner.Start())
	} else if !m.submitting {
		m.spinner.Stop()
		m.stepper.Frame = ""
	}

	sameRun := prev.RunID == snap.RunID
	if snap.State == poller.StateAllComplete && (!sameRun || prev.State != poller.StateAllComplete) {
		if snap.TimedOut {
			cmds = append(cmds, m.toast(components.NewWarningToast("Stopped: no stage completed before the timeout")))
		} else {
			cmds = append(cmds, m.toast(components.NewSuccessToast("Analysis complete")))
		}
	}
	if snap.LastError != "" && (!sameRun || snap.LastError != prev.LastError) {
		m.log.Debug("poll error", zap.String("error", snap.LastError))
	}
	return m, tea.Batch(cmds...)
}

func (m Model) handleConfig(msg ConfigMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil || msg.Config == nil {
		err := msg.Err
		if err == nil {
			err = errors.New("empty config")
		}
		tc := m.toast(components.NewWarningToast("Config reload failed: " + err.Error()))
		return m, tc
	}

	// Only the theme and telemetry settings apply live.
	cfg := m.cfg.Clone()
	cfg.UI.Theme = msg.Config.UI.Theme
	cfg.Telemetry.PowerQuery = msg.Config.Telemetry.PowerQuery
	cfg.Telemetry.CPUQuery = msg.Config.Telemetry.CPUQuery
	cfg.Telemetry.ThroughputQuery = msg.Config.Telemetry.ThroughputQuery
	m.cfg = cfg

	m.applyTheme(cfg.UI.Theme)
	m.layout()
	tc := m.toast(components.NewStatusToast("Config reloaded"))
	return m, tc
}

// toast adds t and starts the expiry ticker if it is not running.
func (m *Model) toast(t components.Toast) tea.Cmd {
	m.toasts.Add(t)
	if m.toastTicker {
		return nil
	}
	m.toastTicker = true
	return components.ToastTickCmd()
}
